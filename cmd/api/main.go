package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sopledger.org/internal/ack"
	"sopledger.org/internal/audit"
	"sopledger.org/internal/config"
	"sopledger.org/internal/feed"
	"sopledger.org/internal/httpapi"
	"sopledger.org/internal/obs"
	"sopledger.org/internal/report"
	"sopledger.org/internal/roster"
	"sopledger.org/internal/sop"
	"sopledger.org/internal/store/memory"
	"sopledger.org/internal/store/pg"
	"sopledger.org/internal/training"
)

var version = "0.3.0"

// stores is the persistence surface the services share. Both the Postgres
// and the in-memory store satisfy it.
type stores interface {
	sop.Store
	ack.Store
	roster.Store
	training.Store
	audit.Sink
}

func main() {
	obs.Init()
	obs.SetBuildInfo(version, os.Getenv("SOPLEDGER_COMMIT"))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	var st stores
	var db *sql.DB
	if cfg.Database.DSN != "" {
		pgStore, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		st = pgStore
		db = pgStore.DB()
	} else {
		log.Println("SOPLEDGER_PG_DSN not set, using in-memory store")
		st = memory.New()
	}

	sink := audit.Tee(st, audit.LogSink{})

	docs := sop.NewService(st, sop.WithAuditSink(sink))
	people := roster.NewService(st, roster.WithAuditSink(sink))
	ledger := ack.NewLedger(st, st, st,
		cfg.Compliance.MinReadSeconds, cfg.Compliance.ReackWindow(),
		ack.WithAuditSink(sink))
	trainingSvc := training.NewService(st, st, st,
		training.LockoutPolicy{MaxAttempts: cfg.Training.MaxAttempts, Window: cfg.Training.LockoutWindow()},
		training.Defaults{PassingScore: cfg.Training.PassingScore, RecertDays: cfg.Training.RecertDays},
		training.WithAuditSink(sink))
	reports := report.NewAggregator(st, st, st, st, cfg.Compliance.ReackWindow())

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, httpapi.Services{
		Documents: docs,
		Roster:    people,
		Ledger:    ledger,
		Training:  trainingSvc,
		Reports:   reports,
		Feed:      feed.New(),
	})

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(api.Handler(), cfg.Server.RateBurst, cfg.Server.RatePerSecond),
						1<<20)))))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting sopledger-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
