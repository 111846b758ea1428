package roster

import (
	"errors"
	"time"
)

// Staff is a person who must read SOPs and pass knowledge checks.
// Deactivation is a soft delete: the member drops out of compliance
// denominators but all historical records stay attached to the id.
type Staff struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"-"`
	StaffType      string     `json:"staff_type,omitempty"`
	Role           string     `json:"role,omitempty"`
	Department     string     `json:"department,omitempty"`
	Supervisor     string     `json:"supervisor,omitempty"`
	HireDate       *time.Time `json:"hire_date,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
}

var (
	ErrNotFound      = errors.New("roster: staff not found")
	ErrAlreadyExists = errors.New("roster: staff already exists")
	ErrInvalidInput  = errors.New("roster: invalid input")
)
