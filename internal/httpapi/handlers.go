package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"sopledger.org/internal/ack"
	"sopledger.org/internal/feed"
	"sopledger.org/internal/obs"
	"sopledger.org/internal/report"
	"sopledger.org/internal/roster"
	"sopledger.org/internal/sop"
	"sopledger.org/internal/training"
)

// ReadyProbe reports readiness, pinging the DB when one is configured.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the compliance services.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	docs    *sop.Service
	roster  *roster.Service
	ledger  *ack.Ledger
	train   *training.Service
	reports *report.Aggregator
	feed    *feed.Feed
}

// Services bundles the wired domain services.
type Services struct {
	Documents *sop.Service
	Roster    *roster.Service
	Ledger    *ack.Ledger
	Training  *training.Service
	Reports   *report.Aggregator
	Feed      *feed.Feed
}

func New(rp ReadyProbe, version string, svcs Services) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		docs:       svcs.Documents,
		roster:     svcs.Roster,
		ledger:     svcs.Ledger,
		train:      svcs.Training,
		reports:    svcs.Reports,
		feed:       svcs.Feed,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/documents", a.handleDocumentsCollection)
	a.mux.HandleFunc("/v1/documents/", a.handleDocumentResource)
	a.mux.HandleFunc("/v1/staff", a.handleStaffCollection)
	a.mux.HandleFunc("/v1/staff/", a.handleStaffResource)
	a.mux.HandleFunc("/v1/modules", a.handleModulesCollection)
	a.mux.HandleFunc("/v1/modules/seed", a.handleModulesSeed)
	a.mux.HandleFunc("/v1/modules/", a.handleModuleResource)
	a.mux.HandleFunc("/v1/compliance/report", a.handleComplianceReport)
	a.mux.HandleFunc("/v1/acknowledgments/stream", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the instrumented root handler.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.mux)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sopledger-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sopledger-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
