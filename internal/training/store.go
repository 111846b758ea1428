package training

import "context"

// Store describes persistence operations required by the training subsystem.
//
// RecordAttempt must evaluate the lockout policy and insert the attempt as
// one atomic unit per (module, staff) pair, so parallel submissions cannot
// slip past MaxAttempts between the check and the insert. A rejected
// submission returns ErrLocked and leaves no row. Attempt listings are
// ordered ascending by (attempted_at, seq).
type Store interface {
	CreateModule(ctx context.Context, m *Module) error
	FindModule(ctx context.Context, id string) (*Module, error)
	FindModuleByDocument(ctx context.Context, documentID string) (*Module, error)
	ListModules(ctx context.Context) ([]*Module, error)
	UpdateModule(ctx context.Context, m *Module) error

	RecordAttempt(ctx context.Context, at *Attempt, policy LockoutPolicy) error
	Attempts(ctx context.Context, moduleID, staffID string) ([]*Attempt, error)
	ListAttempts(ctx context.Context) ([]*Attempt, error)
}
