package roster_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"sopledger.org/internal/roster"
	"sopledger.org/internal/store/memory"
)

func newService() (*memory.Store, *roster.Service) {
	st := memory.New()
	clock := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return st, roster.NewService(st, roster.WithClock(func() time.Time { return clock }), roster.WithAuditSink(st))
}

func TestCreateDeduplicatesCaseInsensitively(t *testing.T) {
	_, svc := newService()
	ctx := context.Background()

	first, err := svc.Create(ctx, "admin", roster.CreateInput{Name: "Jane Doe", Role: "Nurse"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	again, err := svc.Create(ctx, "admin", roster.CreateInput{Name: "  JANE doe  ", Role: "Manager"})
	if err != nil {
		t.Fatalf("duplicate create: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("duplicate name must return the existing record: got %s want %s", again.ID, first.ID)
	}
	if again.Role != "Nurse" {
		t.Fatalf("existing record must be unchanged, got role %q", again.Role)
	}

	all, err := svc.List(ctx, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected a single roster entry, got %d", len(all))
	}
}

func TestCreateValidatesName(t *testing.T) {
	_, svc := newService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, "admin", roster.CreateInput{Name: "   "}); !errors.Is(err, roster.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank name, got %v", err)
	}
	if _, err := svc.Create(ctx, "admin", roster.CreateInput{Name: strings.Repeat("x", 201)}); !errors.Is(err, roster.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for overlong name, got %v", err)
	}
}

func TestSetActiveSoftDeactivates(t *testing.T) {
	_, svc := newService()
	ctx := context.Background()

	member, err := svc.Create(ctx, "admin", roster.CreateInput{Name: "Jane Doe"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !member.Active {
		t.Fatal("new staff must start active")
	}

	if err := svc.SetActive(ctx, "admin", member.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	got, err := svc.Get(ctx, member.ID)
	if err != nil {
		t.Fatalf("get after deactivate: %v", err)
	}
	if got.Active {
		t.Fatal("deactivated staff must report inactive")
	}

	active, err := svc.List(ctx, true)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("active-only listing must exclude deactivated staff, got %d", len(active))
	}
	all, err := svc.List(ctx, false)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("deactivation must not delete the record, got %d entries", len(all))
	}

	if err := svc.SetActive(ctx, "admin", "missing", false); !errors.Is(err, roster.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown staff, got %v", err)
	}
}
