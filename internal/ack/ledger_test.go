package ack_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sopledger.org/internal/ack"
	"sopledger.org/internal/roster"
	"sopledger.org/internal/sop"
	"sopledger.org/internal/store/memory"
)

const (
	minRead     = 10
	reackWindow = 365 * 24 * time.Hour
)

type fixture struct {
	store  *memory.Store
	docs   *sop.Service
	people *roster.Service
	ledger *ack.Ledger
	clock  *fakeClock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	clock := &fakeClock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	return &fixture{
		store:  st,
		docs:   sop.NewService(st, sop.WithClock(clock.Now)),
		people: roster.NewService(st, roster.WithClock(clock.Now)),
		ledger: ack.NewLedger(st, st, st, minRead, reackWindow, ack.WithClock(clock.Now), ack.WithAuditSink(st)),
		clock:  clock,
	}
}

func (f *fixture) document(t *testing.T) *sop.Document {
	t.Helper()
	doc, err := f.docs.Create(context.Background(), "admin", sop.Draft{
		Title:    "Medication Storage",
		Category: "Clinical",
		Content:  "Store all medication in the locked cabinet.",
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func (f *fixture) staff(t *testing.T, name string) *roster.Staff {
	t.Helper()
	member, err := f.people.Create(context.Background(), "admin", roster.CreateInput{Name: name})
	if err != nil {
		t.Fatalf("create staff: %v", err)
	}
	return member
}

func (f *fixture) acknowledge(t *testing.T, docID, staffID string) *ack.Acknowledgment {
	t.Helper()
	rec, err := f.ledger.Record(context.Background(), staffID, ack.RecordInput{
		DocumentID:  docID,
		StaffID:     staffID,
		Signature:   "J. Doe",
		ReadSeconds: 45,
	})
	if err != nil {
		t.Fatalf("record acknowledgment: %v", err)
	}
	return rec
}

func TestRecordStampsCurrentVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.document(t)
	member := f.staff(t, "Jane Doe")

	rec := f.acknowledge(t, doc.ID, member.ID)
	if rec.DocumentVersion != 1 {
		t.Fatalf("expected version 1 stamp, got %d", rec.DocumentVersion)
	}

	if _, err := f.docs.Edit(ctx, "admin", doc.ID, sop.Draft{
		Title: doc.Title, Category: doc.Category, Content: "Store all medication in the locked cabinet. Updated.",
	}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	rec2 := f.acknowledge(t, doc.ID, member.ID)
	if rec2.DocumentVersion != 2 {
		t.Fatalf("expected version 2 stamp after edit, got %d", rec2.DocumentVersion)
	}
}

func TestMinimumReadGateLeavesNoRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.document(t)
	member := f.staff(t, "Jane Doe")

	_, err := f.ledger.Record(ctx, member.ID, ack.RecordInput{
		DocumentID:  doc.ID,
		StaffID:     member.ID,
		Signature:   "J. Doe",
		ReadSeconds: 5,
	})
	if !errors.Is(err, ack.ErrBelowMinimumRead) {
		t.Fatalf("expected ErrBelowMinimumRead, got %v", err)
	}

	if _, err := f.ledger.Latest(ctx, doc.ID, member.ID); !errors.Is(err, ack.ErrNoAcknowledgment) {
		t.Fatalf("rejected submission must not persist, got %v", err)
	}
}

func TestRecordRejectsUnknownAndInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.document(t)
	member := f.staff(t, "Jane Doe")

	in := ack.RecordInput{DocumentID: doc.ID, StaffID: member.ID, Signature: "J. Doe", ReadSeconds: 30}

	bad := in
	bad.DocumentID = "missing"
	if _, err := f.ledger.Record(ctx, member.ID, bad); !errors.Is(err, ack.ErrUnknownDocument) {
		t.Fatalf("expected ErrUnknownDocument, got %v", err)
	}

	bad = in
	bad.StaffID = "missing"
	if _, err := f.ledger.Record(ctx, member.ID, bad); !errors.Is(err, ack.ErrUnknownStaff) {
		t.Fatalf("expected ErrUnknownStaff, got %v", err)
	}

	if err := f.people.SetActive(ctx, "admin", member.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := f.ledger.Record(ctx, member.ID, in); !errors.Is(err, ack.ErrInactiveStaff) {
		t.Fatalf("expected ErrInactiveStaff, got %v", err)
	}
}

func TestLatestTieBreaksOnInsertionOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.document(t)
	member := f.staff(t, "Jane Doe")

	// Same clock instant for both submissions.
	f.acknowledge(t, doc.ID, member.ID)
	second := f.acknowledge(t, doc.ID, member.ID)

	latest, err := f.ledger.Latest(ctx, doc.ID, member.ID)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != second.ID {
		t.Fatalf("later insertion must win the timestamp tie: got %s want %s", latest.ID, second.ID)
	}
}

func TestIsCurrentVersionPinning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.document(t)
	member := f.staff(t, "Jane Doe")

	edit := func() {
		t.Helper()
		if _, err := f.docs.Edit(ctx, "admin", doc.ID, sop.Draft{
			Title: doc.Title, Category: doc.Category, Content: "Store all medication in the locked cabinet. Rev.",
		}); err != nil {
			t.Fatalf("edit: %v", err)
		}
	}

	// Document reaches version 3; acknowledgment lands on version 2.
	edit()
	f.acknowledge(t, doc.ID, member.ID)
	edit()

	current, err := f.ledger.IsCurrent(ctx, doc.ID, member.ID, f.clock.Now())
	if err != nil {
		t.Fatalf("IsCurrent: %v", err)
	}
	if current {
		t.Fatal("an acknowledgment of version 2 must not satisfy version 3, however fresh")
	}

	// Re-acknowledge at the current version.
	f.acknowledge(t, doc.ID, member.ID)
	current, err = f.ledger.IsCurrent(ctx, doc.ID, member.ID, f.clock.Now())
	if err != nil {
		t.Fatalf("IsCurrent: %v", err)
	}
	if !current {
		t.Fatal("acknowledging the current version must satisfy the document")
	}

	// 366 days later the acknowledgment has aged out of the 365-day window.
	f.clock.Advance(366 * 24 * time.Hour)
	current, err = f.ledger.IsCurrent(ctx, doc.ID, member.ID, f.clock.Now())
	if err != nil {
		t.Fatalf("IsCurrent: %v", err)
	}
	if current {
		t.Fatal("an acknowledgment older than the re-ack window must not be current")
	}
}

func TestIsCurrentExactlyAtWindowBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.document(t)
	member := f.staff(t, "Jane Doe")

	rec := f.acknowledge(t, doc.ID, member.ID)

	current, err := f.ledger.IsCurrent(ctx, doc.ID, member.ID, rec.AcknowledgedAt.Add(reackWindow))
	if err != nil {
		t.Fatalf("IsCurrent: %v", err)
	}
	if !current {
		t.Fatal("asOf exactly at the window boundary is still current")
	}
}

func TestMissingStaffExcludesInactiveAndCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.document(t)
	alice := f.staff(t, "Alice")
	bob := f.staff(t, "Bob")
	carol := f.staff(t, "Carol")

	f.acknowledge(t, doc.ID, alice.ID)
	if err := f.people.SetActive(ctx, "admin", carol.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	staff, err := f.people.List(ctx, false)
	if err != nil {
		t.Fatalf("list staff: %v", err)
	}
	missing, err := f.ledger.MissingStaff(ctx, doc.ID, staff, f.clock.Now())
	if err != nil {
		t.Fatalf("MissingStaff: %v", err)
	}
	if len(missing) != 1 || missing[0].ID != bob.ID {
		t.Fatalf("expected only Bob missing, got %+v", missing)
	}
}
