package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sopledger.org/internal/audit"
	"sopledger.org/internal/ids"
)

// Service owns the staff roster.
type Service struct {
	store Store
	sink  audit.Sink
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithAuditSink attaches an audit sink to roster mutations.
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

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput carries the staff profile supplied by the caller.
type CreateInput struct {
	Name       string
	StaffType  string
	Role       string
	Department string
	Supervisor string
	HireDate   *time.Time
}

// Create adds a staff member. Names are deduplicated case-insensitively:
// creating an existing name returns the existing record unchanged.
func (s *Service) Create(ctx context.Context, actor string, in CreateInput) (*Staff, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" || len(name) > 200 {
		return nil, fmt.Errorf("%w: name must be 1..200 characters", ErrInvalidInput)
	}
	normalized := strings.ToLower(name)

	if existing, err := s.store.FindStaffByNormalizedName(ctx, normalized); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	member := &Staff{
		ID:             ids.New(),
		Name:           name,
		NormalizedName: normalized,
		StaffType:      strings.TrimSpace(in.StaffType),
		Role:           strings.TrimSpace(in.Role),
		Department:     strings.TrimSpace(in.Department),
		Supervisor:     strings.TrimSpace(in.Supervisor),
		HireDate:       in.HireDate,
		Active:         true,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateStaff(ctx, member); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return s.store.FindStaffByNormalizedName(ctx, normalized)
		}
		return nil, err
	}

	audit.Record(ctx, s.sink, &audit.Entry{
		ActorID:    actor,
		Action:     "staff.create",
		EntityType: "staff",
		EntityID:   member.ID,
		Detail:     member.Name,
	})
	return member, nil
}

// Get returns a staff member by id.
func (s *Service) Get(ctx context.Context, id string) (*Staff, error) {
	return s.store.FindStaff(ctx, id)
}

// List returns the roster, optionally restricted to active members.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*Staff, error) {
	return s.store.ListStaff(ctx, activeOnly)
}

// SetActive flips the active flag. Historical acknowledgments and attempts
// are never touched.
func (s *Service) SetActive(ctx context.Context, actor, id string, active bool) error {
	if _, err := s.store.FindStaff(ctx, id); err != nil {
		return err
	}
	if err := s.store.SetStaffActive(ctx, id, active); err != nil {
		return err
	}
	audit.Record(ctx, s.sink, &audit.Entry{
		ActorID:    actor,
		Action:     "staff.set_active",
		EntityType: "staff",
		EntityID:   id,
		Detail:     fmt.Sprintf("active=%t", active),
	})
	return nil
}
