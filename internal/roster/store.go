package roster

import "context"

// Store describes persistence operations required by the roster.
type Store interface {
	CreateStaff(ctx context.Context, s *Staff) error
	FindStaff(ctx context.Context, id string) (*Staff, error)
	FindStaffByNormalizedName(ctx context.Context, name string) (*Staff, error)
	ListStaff(ctx context.Context, activeOnly bool) ([]*Staff, error)
	SetStaffActive(ctx context.Context, id string, active bool) error
}
