// Package audit provides the append-only trail of privileged actions.
// The core only ever writes entries; reading them back is a reporting
// concern that lives outside this module.
package audit

import (
	"context"
	"strings"
	"time"

	"sopledger.org/internal/ids"
	"sopledger.org/internal/obs"
)

// Entry is one append-only audit record.
type Entry struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	ActorID    string    `json:"actor_id"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink accepts entries. Implementations must never mutate or delete
// previously appended entries.
type Sink interface {
	Append(ctx context.Context, e *Entry) error
}

// Record fills in defaults and appends the entry, logging instead of failing
// when the sink is unavailable. Mutating operations succeed even when their
// audit write does not.
func Record(ctx context.Context, sink Sink, e *Entry) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if sink == nil {
		return
	}
	if err := sink.Append(ctx, e); err != nil {
		obs.LogEvent(map[string]any{
			"level":  "error",
			"msg":    "audit append failed",
			"action": e.Action,
			"error":  err.Error(),
		})
	}
}

// LogSink emits entries as structured JSON log lines. Used in dev mode and
// alongside a durable sink via Tee.
type LogSink struct{}

func (LogSink) Append(ctx context.Context, e *Entry) error {
	fields := map[string]any{
		"ts":          e.OccurredAt.Format(time.RFC3339Nano),
		"type":        "audit",
		"audit_id":    e.ID,
		"actor_id":    e.ActorID,
		"action":      e.Action,
		"entity_type": e.EntityType,
	}
	if e.EntityID != "" {
		fields["entity_id"] = e.EntityID
	}
	if d := strings.TrimSpace(e.Detail); d != "" {
		fields["detail"] = d
	}
	obs.LogEvent(fields)
	return nil
}

// Tee duplicates entries across sinks; the first error wins but all sinks
// still receive the entry.
func Tee(sinks ...Sink) Sink { return teeSink(sinks) }

type teeSink []Sink

func (t teeSink) Append(ctx context.Context, e *Entry) error {
	var first error
	for _, s := range t {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
