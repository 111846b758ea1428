package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"sopledger.org/internal/ack"
	"sopledger.org/internal/feed"
	"sopledger.org/internal/report"
	"sopledger.org/internal/roster"
	"sopledger.org/internal/sop"
	"sopledger.org/internal/training"
)

type documentRequest struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

type acknowledgeRequest struct {
	StaffID     string `json:"staff_id"`
	Signature   string `json:"signature"`
	ReadSeconds int    `json:"read_seconds"`
}

type staffRequest struct {
	Name       string     `json:"name"`
	StaffType  string     `json:"staff_type"`
	Role       string     `json:"role"`
	Department string     `json:"department"`
	Supervisor string     `json:"supervisor"`
	HireDate   *time.Time `json:"hire_date"`
}

type setActiveRequest struct {
	Active bool `json:"active"`
}

type attemptRequest struct {
	StaffID string `json:"staff_id"`
	Score   int    `json:"score"`
}

// actor identifies who performed a mutation for the audit trail. Identity
// verification sits in front of this service; the header is trusted input.
func actor(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Actor-ID")); v != "" {
		return v
	}
	return "api"
}

// --- documents ---

func (a *API) handleDocumentsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		docs, err := a.docs.List(r.Context())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": docs})
	case http.MethodPost:
		var req documentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		doc, err := a.docs.Create(r.Context(), actor(r), sop.Draft{
			Title:    req.Title,
			Category: req.Category,
			Content:  req.Content,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/documents/"+doc.ID)
		writeJSON(w, http.StatusCreated, doc)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDocumentResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			a.getDocument(w, r, id)
		case http.MethodPut:
			a.editDocument(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
		}
	case "versions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.listVersions(w, r, id)
	case "acknowledgments":
		switch r.Method {
		case http.MethodGet:
			a.listAcknowledgments(w, r, id)
		case http.MethodPost:
			a.acknowledge(w, r, id)
		default:
			methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
		}
	case "missing":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.missingStaff(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) getDocument(w http.ResponseWriter, r *http.Request, id string) {
	doc, err := a.docs.Get(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) editDocument(w http.ResponseWriter, r *http.Request, id string) {
	var req documentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	doc, err := a.docs.Edit(r.Context(), actor(r), id, sop.Draft{
		Title:    req.Title,
		Category: req.Category,
		Content:  req.Content,
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (a *API) listVersions(w http.ResponseWriter, r *http.Request, id string) {
	versions, err := a.docs.VersionHistory(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": versions})
}

func (a *API) listAcknowledgments(w http.ResponseWriter, r *http.Request, id string) {
	acks, err := a.ledger.History(r.Context(), id)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": acks})
}

func (a *API) acknowledge(w http.ResponseWriter, r *http.Request, id string) {
	var req acknowledgeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := a.ledger.Record(r.Context(), actor(r), ack.RecordInput{
		DocumentID:  id,
		StaffID:     req.StaffID,
		Signature:   req.Signature,
		ReadSeconds: req.ReadSeconds,
		Proof: ack.Proof{
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		},
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	if a.feed != nil {
		title := ""
		if doc, err := a.docs.Get(r.Context(), id); err == nil {
			title = doc.Title
		}
		name := ""
		if member, err := a.roster.Get(r.Context(), rec.StaffID); err == nil {
			name = member.Name
		}
		a.feed.Publish(feed.AckEvent{
			DocumentID:    rec.DocumentID,
			DocumentTitle: title,
			StaffID:       rec.StaffID,
			StaffName:     name,
			Version:       rec.DocumentVersion,
			Timestamp:     rec.AcknowledgedAt,
		})
	}

	writeJSON(w, http.StatusCreated, rec)
}

func (a *API) missingStaff(w http.ResponseWriter, r *http.Request, id string) {
	staff, err := a.roster.List(r.Context(), true)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	missing, err := a.ledger.MissingStaff(r.Context(), id, staff, time.Now().UTC())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": missing})
}

// --- staff ---

func (a *API) handleStaffCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly := r.URL.Query().Get("active") == "true"
		staff, err := a.roster.List(r.Context(), activeOnly)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": staff})
	case http.MethodPost:
		var req staffRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		member, err := a.roster.Create(r.Context(), actor(r), roster.CreateInput{
			Name:       req.Name,
			StaffType:  req.StaffType,
			Role:       req.Role,
			Department: req.Department,
			Supervisor: req.Supervisor,
			HireDate:   req.HireDate,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/staff/"+member.ID)
		writeJSON(w, http.StatusCreated, member)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleStaffResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/staff/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		member, err := a.roster.Get(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, member)
	case "active":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req setActiveRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.roster.SetActive(r.Context(), actor(r), id, req.Active); err != nil {
			handleDomainError(w, r, err)
			return
		}
		member, err := a.roster.Get(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, member)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// --- training ---

func (a *API) handleModulesCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	mods, err := a.train.Modules(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": mods})
}

func (a *API) handleModulesSeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	created, err := a.train.EnsureModules(r.Context(), actor(r))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"created": created})
}

func (a *API) handleModuleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/modules/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		m, err := a.train.Module(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	case "status":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
		if staffID == "" {
			writeError(w, r, http.StatusBadRequest, "staff_id query parameter is required")
			return
		}
		status, err := a.train.Status(r.Context(), id, staffID, time.Now().UTC())
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case "lockout":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		staffID := strings.TrimSpace(r.URL.Query().Get("staff_id"))
		if staffID == "" {
			writeError(w, r, http.StatusBadRequest, "staff_id query parameter is required")
			return
		}
		status, err := a.train.Locked(r.Context(), id, staffID)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	case "attempts":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		var req attemptRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		at, err := a.train.SubmitAttempt(r.Context(), actor(r), training.AttemptInput{
			ModuleID: id,
			StaffID:  req.StaffID,
			Score:    req.Score,
		})
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, at)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

// --- compliance ---

func (a *API) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	start, err := parseTimeParam(r.URL.Query().Get("start"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "start must be RFC3339")
		return
	}
	end, err := parseTimeParam(r.URL.Query().Get("end"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "end must be RFC3339")
		return
	}

	rep, err := a.reports.Build(r.Context(), report.EffectiveWindow(start, end, time.Now().UTC(), a.reports.ReackWindow()))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// --- helpers ---

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sop.ErrInvalidInput),
		errors.Is(err, roster.ErrInvalidInput),
		errors.Is(err, ack.ErrInvalidSignature),
		errors.Is(err, training.ErrInvalidScore):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ack.ErrBelowMinimumRead):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, training.ErrLocked):
		writeError(w, r, http.StatusLocked, err.Error())
	case errors.Is(err, sop.ErrStaleVersion),
		errors.Is(err, roster.ErrAlreadyExists),
		errors.Is(err, training.ErrModuleExists),
		errors.Is(err, ack.ErrInactiveStaff),
		errors.Is(err, training.ErrInactiveStaff),
		errors.Is(err, training.ErrInactiveModule):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, sop.ErrNotFound),
		errors.Is(err, roster.ErrNotFound),
		errors.Is(err, training.ErrModuleNotFound),
		errors.Is(err, ack.ErrUnknownDocument),
		errors.Is(err, ack.ErrUnknownStaff),
		errors.Is(err, training.ErrUnknownStaff),
		errors.Is(err, ack.ErrNoAcknowledgment):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
