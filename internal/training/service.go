package training

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sopledger.org/internal/audit"
	"sopledger.org/internal/ids"
	"sopledger.org/internal/obs"
	"sopledger.org/internal/roster"
	"sopledger.org/internal/sop"
)

// DocumentDirectory is the slice of the document store needed for seeding.
type DocumentDirectory interface {
	ListDocuments(ctx context.Context) ([]*sop.Document, error)
}

// StaffDirectory is the slice of the roster the service needs.
type StaffDirectory interface {
	FindStaff(ctx context.Context, id string) (*roster.Staff, error)
}

// Defaults are applied to modules created by seeding.
type Defaults struct {
	PassingScore int
	RecertDays   int
}

// Service gates and scores quiz attempts and answers recertification
// status queries.
type Service struct {
	store  Store
	docs   DocumentDirectory
	staff  StaffDirectory
	policy LockoutPolicy
	def    Defaults

	sink audit.Sink
	now  func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithAuditSink attaches an audit sink to training mutations.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Service) { s.sink = sink }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

func NewService(store Store, docs DocumentDirectory, staff StaffDirectory, policy LockoutPolicy, def Defaults, opts ...Option) *Service {
	s := &Service{
		store:  store,
		docs:   docs,
		staff:  staff,
		policy: policy,
		def:    def,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureModules creates a module with default thresholds for every document
// that does not have one yet, returning how many were created.
func (s *Service) EnsureModules(ctx context.Context, actor string) (int, error) {
	docs, err := s.docs.ListDocuments(ctx)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, doc := range docs {
		if _, err := s.store.FindModuleByDocument(ctx, doc.ID); err == nil {
			continue
		} else if !errors.Is(err, ErrModuleNotFound) {
			return created, err
		}
		m := &Module{
			ID:           ids.New(),
			DocumentID:   doc.ID,
			Title:        doc.Title,
			PassingScore: s.def.PassingScore,
			RecertDays:   s.def.RecertDays,
			Active:       true,
			CreatedAt:    s.now().UTC(),
		}
		if err := s.store.CreateModule(ctx, m); err != nil {
			if errors.Is(err, ErrModuleExists) {
				continue
			}
			return created, err
		}
		created++
	}
	if created > 0 {
		audit.Record(ctx, s.sink, &audit.Entry{
			ActorID:    actor,
			Action:     "training.seed_modules",
			EntityType: "training_module",
			Detail:     fmt.Sprintf("created=%d", created),
		})
	}
	return created, nil
}

// Module returns a module by id.
func (s *Service) Module(ctx context.Context, id string) (*Module, error) {
	return s.store.FindModule(ctx, id)
}

// Modules returns all modules.
func (s *Service) Modules(ctx context.Context) ([]*Module, error) {
	return s.store.ListModules(ctx)
}

// Status derives the recertification state for a (module, staff) pair at
// the given day. Pure over history: nothing is stored.
func (s *Service) Status(ctx context.Context, moduleID, staffID string, today time.Time) (Status, error) {
	m, err := s.store.FindModule(ctx, moduleID)
	if err != nil {
		return Status{}, err
	}
	attempts, err := s.store.Attempts(ctx, moduleID, staffID)
	if err != nil {
		return Status{}, err
	}
	return Derive(m.RecertDays, attempts, today), nil
}

// Locked evaluates the lockout policy for a pair right now.
func (s *Service) Locked(ctx context.Context, moduleID, staffID string) (LockoutStatus, error) {
	if _, err := s.store.FindModule(ctx, moduleID); err != nil {
		return LockoutStatus{}, err
	}
	attempts, err := s.store.Attempts(ctx, moduleID, staffID)
	if err != nil {
		return LockoutStatus{}, err
	}
	return EvaluateLockout(s.policy, attempts, s.now()), nil
}

// AttemptInput describes one quiz submission.
type AttemptInput struct {
	ModuleID string
	StaffID  string
	Score    int
}

// SubmitAttempt scores and records a submission. The lockout check and the
// insert happen atomically in the store; a locked pair's submission is
// rejected with ErrLocked and leaves no attempt row.
func (s *Service) SubmitAttempt(ctx context.Context, actor string, in AttemptInput) (*Attempt, error) {
	if in.Score < 0 || in.Score > 100 {
		return nil, ErrInvalidScore
	}
	m, err := s.store.FindModule(ctx, in.ModuleID)
	if err != nil {
		return nil, err
	}
	if !m.Active {
		return nil, ErrInactiveModule
	}
	member, err := s.staff.FindStaff(ctx, in.StaffID)
	if err != nil {
		if errors.Is(err, roster.ErrNotFound) {
			return nil, ErrUnknownStaff
		}
		return nil, err
	}
	if !member.Active {
		return nil, ErrInactiveStaff
	}

	at := &Attempt{
		ID:          ids.New(),
		ModuleID:    in.ModuleID,
		StaffID:     in.StaffID,
		Score:       in.Score,
		Passed:      in.Score >= m.PassingScore,
		AttemptedAt: s.now().UTC(),
	}
	if err := s.store.RecordAttempt(ctx, at, s.policy); err != nil {
		if errors.Is(err, ErrLocked) {
			obs.LockoutsTriggered.Inc()
			audit.Record(ctx, s.sink, &audit.Entry{
				ActorID:    actor,
				Action:     "training.lockout",
				EntityType: "training_module",
				EntityID:   in.ModuleID,
				Detail:     fmt.Sprintf("staff=%s", in.StaffID),
			})
		}
		return nil, err
	}

	outcome := "failed"
	if at.Passed {
		outcome = "passed"
	}
	obs.AttemptsRecorded.WithLabelValues(outcome).Inc()
	audit.Record(ctx, s.sink, &audit.Entry{
		ActorID:    actor,
		Action:     "training.attempt",
		EntityType: "training_module",
		EntityID:   in.ModuleID,
		Detail:     fmt.Sprintf("staff=%s score=%d passed=%t", in.StaffID, in.Score, at.Passed),
	})
	return at, nil
}
