// Package ack is the append-only ledger of document acknowledgments.
// An acknowledgment is only ever valid against the specific document
// version it was recorded under; "current" means the latest acknowledgment
// covers the document's current version within the re-ack window.
package ack

import (
	"errors"
	"time"
)

// Acknowledgment records that a staff member read one document version.
// DocumentVersion and Seq are stamped by the store at commit time: the
// version is the document's current_version when the insert commits, and
// Seq is the global insertion order used to break timestamp ties.
type Acknowledgment struct {
	ID              string    `json:"id"`
	DocumentID      string    `json:"document_id"`
	StaffID         string    `json:"staff_id"`
	DocumentVersion int       `json:"document_version"`
	Signature       string    `json:"signature"`
	ReadSeconds     int       `json:"read_seconds"`
	IPAddress       string    `json:"ip_address,omitempty"`
	UserAgent       string    `json:"user_agent,omitempty"`
	AcknowledgedAt  time.Time `json:"acknowledged_at"`
	Seq             uint64    `json:"seq"`
}

var (
	ErrUnknownDocument  = errors.New("ack: unknown document")
	ErrUnknownStaff     = errors.New("ack: unknown staff member")
	ErrInactiveStaff    = errors.New("ack: staff member is inactive")
	ErrBelowMinimumRead = errors.New("ack: read time below configured minimum")
	ErrInvalidSignature = errors.New("ack: signature must be 1..200 characters")
	ErrNoAcknowledgment = errors.New("ack: no acknowledgment recorded")
)
