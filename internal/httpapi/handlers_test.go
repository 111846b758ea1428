package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"sopledger.org/internal/ack"
	"sopledger.org/internal/feed"
	"sopledger.org/internal/report"
	"sopledger.org/internal/roster"
	"sopledger.org/internal/sop"
	"sopledger.org/internal/store/memory"
	"sopledger.org/internal/training"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	st := memory.New()
	reackWindow := 365 * 24 * time.Hour
	svcs := Services{
		Documents: sop.NewService(st, sop.WithAuditSink(st)),
		Roster:    roster.NewService(st, roster.WithAuditSink(st)),
		Ledger:    ack.NewLedger(st, st, st, 10, reackWindow, ack.WithAuditSink(st)),
		Training: training.NewService(st, st, st,
			training.LockoutPolicy{MaxAttempts: 3, Window: 24 * time.Hour},
			training.Defaults{PassingScore: 80, RecertDays: 365},
			training.WithAuditSink(st)),
		Reports: report.NewAggregator(st, st, st, st, reackWindow),
		Feed:    feed.New(),
	}
	api := New(ReadyProbe{}, "test", svcs)

	srv := httptest.NewServer(RequestID(api.Handler()))
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) post(path string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) put(path string, body any) *http.Response {
	c.t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		c.t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	resp, err := c.client.Get(u.String())
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func (c *apiClient) createDocument(title string) string {
	c.t.Helper()
	resp := c.post("/v1/documents", map[string]any{
		"title":    title,
		"category": "Clinical",
		"content":  "Follow the posted procedure without deviation.",
	})
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create document: unexpected status %d", resp.StatusCode)
	}
	doc := decode[map[string]any](c.t, resp)
	return doc["id"].(string)
}

func (c *apiClient) createStaff(name string) string {
	c.t.Helper()
	resp := c.post("/v1/staff", map[string]any{"name": name})
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("create staff: unexpected status %d", resp.StatusCode)
	}
	member := decode[map[string]any](c.t, resp)
	return member["id"].(string)
}

func TestAPIDocumentAcknowledgmentFlow(t *testing.T) {
	api := newTestAPI(t)

	docID := api.createDocument("Hand Hygiene")
	staffID := api.createStaff("Jane Doe")

	// Acknowledge version 1.
	resp := api.post("/v1/documents/"+docID+"/acknowledgments", map[string]any{
		"staff_id":     staffID,
		"signature":    "J. Doe",
		"read_seconds": 45,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("acknowledge: unexpected status %d", resp.StatusCode)
	}
	rec := decode[map[string]any](t, resp)
	if rec["document_version"].(float64) != 1 {
		t.Fatalf("expected version 1 stamp, got %v", rec["document_version"])
	}

	// Nobody is missing now.
	resp = api.get("/v1/documents/"+docID+"/missing", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("missing: unexpected status %d", resp.StatusCode)
	}
	missing := decode[map[string]any](t, resp)
	if missing["items"] != nil {
		t.Fatalf("expected nobody missing, got %v", missing["items"])
	}

	// Edit bumps the version and reopens the requirement.
	resp = api.put("/v1/documents/"+docID, map[string]any{
		"title":    "Hand Hygiene",
		"category": "Clinical",
		"content":  "Follow the revised posted procedure.",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit: unexpected status %d", resp.StatusCode)
	}
	doc := decode[map[string]any](t, resp)
	if doc["current_version"].(float64) != 2 {
		t.Fatalf("expected version 2 after edit, got %v", doc["current_version"])
	}

	resp = api.get("/v1/documents/"+docID+"/missing", nil)
	missing = decode[map[string]any](t, resp)
	items, _ := missing["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one staff member missing after edit, got %v", missing["items"])
	}

	// Version history is descending and gapless.
	resp = api.get("/v1/documents/"+docID+"/versions", nil)
	versions := decode[map[string]any](t, resp)
	vItems := versions["items"].([]any)
	if len(vItems) != 2 {
		t.Fatalf("expected two snapshots, got %d", len(vItems))
	}
	if vItems[0].(map[string]any)["number"].(float64) != 2 {
		t.Fatalf("expected newest snapshot first, got %v", vItems[0])
	}
}

func TestAPIRejectsHastyAcknowledgment(t *testing.T) {
	api := newTestAPI(t)
	docID := api.createDocument("Hand Hygiene")
	staffID := api.createStaff("Jane Doe")

	resp := api.post("/v1/documents/"+docID+"/acknowledgments", map[string]any{
		"staff_id":     staffID,
		"signature":    "J. Doe",
		"read_seconds": 3,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}

	// The rejection left no row behind.
	list := decode[map[string]any](t, api.get("/v1/documents/"+docID+"/acknowledgments", nil))
	if list["items"] != nil {
		t.Fatalf("expected empty history, got %v", list["items"])
	}
}

func TestAPITrainingLockoutFlow(t *testing.T) {
	api := newTestAPI(t)
	api.createDocument("Hand Hygiene")
	staffID := api.createStaff("Jane Doe")

	seeded := decode[map[string]any](t, api.post("/v1/modules/seed", nil))
	if seeded["created"].(float64) != 1 {
		t.Fatalf("expected one module seeded, got %v", seeded["created"])
	}
	mods := decode[map[string]any](t, api.get("/v1/modules", nil))
	moduleID := mods["items"].([]any)[0].(map[string]any)["id"].(string)

	for i := 0; i < 3; i++ {
		resp := api.post("/v1/modules/"+moduleID+"/attempts", map[string]any{
			"staff_id": staffID,
			"score":    40,
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("failing attempt %d: unexpected status %d", i+1, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := api.post("/v1/modules/"+moduleID+"/attempts", map[string]any{
		"staff_id": staffID,
		"score":    95,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("expected 423 after three failures, got %d", resp.StatusCode)
	}

	lock := decode[map[string]any](t, api.get("/v1/modules/"+moduleID+"/lockout", url.Values{"staff_id": []string{staffID}}))
	if lock["locked"] != true {
		t.Fatalf("expected locked status, got %v", lock)
	}

	status := decode[map[string]any](t, api.get("/v1/modules/"+moduleID+"/status", url.Values{"staff_id": []string{staffID}}))
	if status["state"] != "due" {
		t.Fatalf("failures only must derive due, got %v", status["state"])
	}
}

func TestAPIComplianceReport(t *testing.T) {
	api := newTestAPI(t)
	docID := api.createDocument("Hand Hygiene")
	staffID := api.createStaff("Jane Doe")
	api.createStaff("John Roe")

	resp := api.post("/v1/documents/"+docID+"/acknowledgments", map[string]any{
		"staff_id":     staffID,
		"signature":    "J. Doe",
		"read_seconds": 30,
	})
	resp.Body.Close()

	rep := decode[map[string]any](t, api.get("/v1/compliance/report", nil))
	if rep["active_staff"].(float64) != 2 {
		t.Fatalf("expected 2 active staff, got %v", rep["active_staff"])
	}
	if rep["overall_percent"].(float64) != 50 {
		t.Fatalf("expected 50%% overall, got %v", rep["overall_percent"])
	}
	recent := rep["recent"].([]any)
	if len(recent) != 1 {
		t.Fatalf("expected one recent acknowledgment, got %d", len(recent))
	}
}

func TestAPIErrorStatuses(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/v1/documents/missing", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown document, got %d", resp.StatusCode)
	}
	errBody := decode[map[string]any](t, resp)
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
	if errBody["request_id"] == "" {
		t.Fatalf("expected request_id in error body")
	}

	resp = api.post("/v1/documents", map[string]any{
		"title":    "",
		"category": "Clinical",
		"content":  "Long enough content here.",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank title, got %d", resp.StatusCode)
	}

	// Duplicate staff names return the existing record.
	first := api.createStaff("Jane Doe")
	resp = api.post("/v1/staff", map[string]any{"name": "jane doe"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("duplicate staff: unexpected status %d", resp.StatusCode)
	}
	dup := decode[map[string]any](t, resp)
	if dup["id"].(string) != first {
		t.Fatalf("duplicate name must return the existing id")
	}
}

func TestAPIDeactivatedStaffCannotAcknowledge(t *testing.T) {
	api := newTestAPI(t)
	docID := api.createDocument("Hand Hygiene")
	staffID := api.createStaff("Jane Doe")

	resp := api.post("/v1/staff/"+staffID+"/active", map[string]any{"active": false})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate: unexpected status %d", resp.StatusCode)
	}
	member := decode[map[string]any](t, resp)
	if member["active"] != false {
		t.Fatalf("expected inactive staff, got %v", member["active"])
	}

	resp = api.post("/v1/documents/"+docID+"/acknowledgments", map[string]any{
		"staff_id":     staffID,
		"signature":    "J. Doe",
		"read_seconds": 30,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for inactive staff, got %d", resp.StatusCode)
	}
}

func TestHealthAndInfo(t *testing.T) {
	api := newTestAPI(t)

	resp := api.get("/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: unexpected status %d", resp.StatusCode)
	}
	health := decode[map[string]any](t, resp)
	if health["status"] != "ok" {
		t.Fatalf("unexpected health payload: %v", health)
	}

	resp = api.get("/readyz", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz: unexpected status %d", resp.StatusCode)
	}
}
