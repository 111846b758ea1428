package ack

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sopledger.org/internal/audit"
	"sopledger.org/internal/ids"
	"sopledger.org/internal/obs"
	"sopledger.org/internal/roster"
	"sopledger.org/internal/sop"
)

// DocumentDirectory is the slice of the document store the ledger needs.
type DocumentDirectory interface {
	FindDocument(ctx context.Context, id string) (*sop.Document, error)
}

// StaffDirectory is the slice of the roster the ledger needs.
type StaffDirectory interface {
	FindStaff(ctx context.Context, id string) (*roster.Staff, error)
}

// Ledger answers whether staff members currently satisfy documents and
// records new acknowledgments.
type Ledger struct {
	store Store
	docs  DocumentDirectory
	staff StaffDirectory

	minReadSeconds int
	reackWindow    time.Duration

	sink audit.Sink
	now  func() time.Time
}

// Option configures Ledger behavior.
type Option func(*Ledger)

// WithAuditSink attaches an audit sink to recorded acknowledgments.
func WithAuditSink(sink audit.Sink) Option {
	return func(l *Ledger) { l.sink = sink }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger constructs the ledger. minReadSeconds gates hasty
// acknowledgments; reackWindow bounds how long an acknowledgment of the
// current version stays valid.
func NewLedger(store Store, docs DocumentDirectory, staff StaffDirectory, minReadSeconds int, reackWindow time.Duration, opts ...Option) *Ledger {
	l := &Ledger{
		store:          store,
		docs:           docs,
		staff:          staff,
		minReadSeconds: minReadSeconds,
		reackWindow:    reackWindow,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Proof carries request provenance supplied by the caller.
type Proof struct {
	IPAddress string
	UserAgent string
}

// RecordInput describes one acknowledgment submission.
type RecordInput struct {
	DocumentID  string
	StaffID     string
	Signature   string
	ReadSeconds int
	Proof       Proof
}

// Record appends an acknowledgment pinned to the document's current version
// at commit time. Submissions below the minimum read time are rejected and
// leave no ledger row. Inactive staff cannot acknowledge.
func (l *Ledger) Record(ctx context.Context, actor string, in RecordInput) (*Acknowledgment, error) {
	if _, err := l.docs.FindDocument(ctx, in.DocumentID); err != nil {
		if errors.Is(err, sop.ErrNotFound) {
			return nil, ErrUnknownDocument
		}
		return nil, err
	}
	member, err := l.staff.FindStaff(ctx, in.StaffID)
	if err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			return nil, ErrUnknownStaff
		}
		return nil, err
	}
	if !member.Active {
		return nil, ErrInactiveStaff
	}

	signature := strings.TrimSpace(in.Signature)
	if signature == "" || len(signature) > 200 {
		return nil, ErrInvalidSignature
	}
	if in.ReadSeconds < l.minReadSeconds {
		return nil, fmt.Errorf("%w: %ds < %ds", ErrBelowMinimumRead, in.ReadSeconds, l.minReadSeconds)
	}

	a := &Acknowledgment{
		ID:             ids.New(),
		DocumentID:     in.DocumentID,
		StaffID:        in.StaffID,
		Signature:      signature,
		ReadSeconds:    in.ReadSeconds,
		IPAddress:      in.Proof.IPAddress,
		UserAgent:      in.Proof.UserAgent,
		AcknowledgedAt: l.now().UTC(),
	}
	if err := l.store.AppendAcknowledgment(ctx, a); err != nil {
		return nil, err
	}
	obs.AcknowledgmentsRecorded.Inc()

	audit.Record(ctx, l.sink, &audit.Entry{
		ActorID:    actor,
		Action:     "sop.acknowledged",
		EntityType: "sop",
		EntityID:   a.DocumentID,
		Detail:     fmt.Sprintf("staff=%s version=%d signature=%s", a.StaffID, a.DocumentVersion, signature),
	})
	return a, nil
}

// Latest returns the most recent acknowledgment for the pair: highest
// timestamp, with timestamp ties broken by later insertion.
func (l *Ledger) Latest(ctx context.Context, documentID, staffID string) (*Acknowledgment, error) {
	return l.store.LatestAcknowledgment(ctx, documentID, staffID)
}

// IsCurrent reports whether the staff member currently satisfies the
// document as of the given instant: their latest acknowledgment covers the
// document's current version and has not aged past the re-ack window.
func (l *Ledger) IsCurrent(ctx context.Context, documentID, staffID string, asOf time.Time) (bool, error) {
	doc, err := l.docs.FindDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sop.ErrNotFound) {
			return false, ErrUnknownDocument
		}
		return false, err
	}
	latest, err := l.store.LatestAcknowledgment(ctx, documentID, staffID)
	if err != nil {
		if errors.Is(err, ErrNoAcknowledgment) {
			return false, nil
		}
		return false, err
	}
	return Current(doc, latest, asOf, l.reackWindow), nil
}

// Current is the pure compliance predicate shared with the aggregator.
func Current(doc *sop.Document, latest *Acknowledgment, asOf time.Time, reackWindow time.Duration) bool {
	if doc == nil || latest == nil {
		return false
	}
	if latest.DocumentVersion != doc.CurrentVersion {
		return false
	}
	return asOf.Sub(latest.AcknowledgedAt) <= reackWindow
}

// MissingStaff filters the supplied roster down to active members who are
// not current for the document as of the given instant.
func (l *Ledger) MissingStaff(ctx context.Context, documentID string, staff []*roster.Staff, asOf time.Time) ([]*roster.Staff, error) {
	doc, err := l.docs.FindDocument(ctx, documentID)
	if err != nil {
		if errors.Is(err, sop.ErrNotFound) {
			return nil, ErrUnknownDocument
		}
		return nil, err
	}

	var missing []*roster.Staff
	for _, member := range staff {
		if !member.Active {
			continue
		}
		latest, err := l.store.LatestAcknowledgment(ctx, documentID, member.ID)
		if err != nil {
			if errors.Is(err, ErrNoAcknowledgment) {
				missing = append(missing, member)
				continue
			}
			return nil, err
		}
		if !Current(doc, latest, asOf, l.reackWindow) {
			missing = append(missing, member)
		}
	}
	return missing, nil
}

// History returns every acknowledgment recorded against a document,
// newest first. Used by the evidence views.
func (l *Ledger) History(ctx context.Context, documentID string) ([]*Acknowledgment, error) {
	if _, err := l.docs.FindDocument(ctx, documentID); err != nil {
		if errors.Is(err, sop.ErrNotFound) {
			return nil, ErrUnknownDocument
		}
		return nil, err
	}
	return l.store.ListAcknowledgmentsByDocument(ctx, documentID)
}
