package ack

import (
	"context"
	"time"
)

// Store describes persistence operations required by the ledger.
//
// AppendAcknowledgment must stamp DocumentVersion from the document's
// current_version inside the same transaction as the insert, so a
// concurrent edit cannot leave the row pinned to a version that was
// already stale when the write committed. It also assigns Seq and must
// return ErrUnknownDocument when the document vanished underneath.
type Store interface {
	AppendAcknowledgment(ctx context.Context, a *Acknowledgment) error
	LatestAcknowledgment(ctx context.Context, documentID, staffID string) (*Acknowledgment, error)
	ListAcknowledgmentsByDocument(ctx context.Context, documentID string) ([]*Acknowledgment, error)
	ListAcknowledgmentsInWindow(ctx context.Context, start, end time.Time) ([]*Acknowledgment, error)
}
