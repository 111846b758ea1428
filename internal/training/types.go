// Package training covers knowledge-check modules: recertification state
// derived from attempt history and the sliding-window lockout policy.
package training

import (
	"errors"
	"time"
)

// Module is a knowledge check linked 1:1 to a document.
type Module struct {
	ID           string    `json:"id"`
	DocumentID   string    `json:"document_id"`
	Title        string    `json:"title"`
	PassingScore int       `json:"passing_score"`
	RecertDays   int       `json:"recert_days"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Attempt is one scored submission, immutable once recorded. Seq is the
// insertion order assigned by the store and breaks timestamp ties.
type Attempt struct {
	ID          string    `json:"id"`
	ModuleID    string    `json:"module_id"`
	StaffID     string    `json:"staff_id"`
	Score       int       `json:"score"`
	Passed      bool      `json:"passed"`
	AttemptedAt time.Time `json:"attempted_at"`
	Seq         uint64    `json:"seq"`
}

// State is the derived recertification state for a (module, staff) pair.
// It is never stored: it is recomputed from attempt history on each query
// so status can never drift from the history that determines it.
type State string

const (
	StateNotStarted State = "not_started"
	StatePassed     State = "passed"
	StateDue        State = "due"
)

var (
	ErrModuleNotFound = errors.New("training: module not found")
	ErrModuleExists   = errors.New("training: module already exists for document")
	ErrUnknownStaff   = errors.New("training: unknown staff member")
	ErrInactiveStaff  = errors.New("training: staff member is inactive")
	ErrInactiveModule = errors.New("training: module is inactive")
	ErrLocked         = errors.New("training: attempts locked by lockout policy")
	ErrInvalidScore   = errors.New("training: score must be within 0..100")
)
