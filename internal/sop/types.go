// Package sop owns document identity and the append-only sequence of
// document versions. Every edit bumps current_version and snapshots the
// content; snapshots are immutable once written.
package sop

import (
	"errors"
	"time"
)

// Document is the mutable head of an SOP. Content fields are only ever
// rewritten through Service.Edit, which bumps CurrentVersion atomically.
type Document struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Category       string    `json:"category"`
	Content        string    `json:"content"`
	CurrentVersion int       `json:"current_version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Version is an immutable snapshot of a document as of one edit.
// For any document the numbers form a gapless sequence 1..CurrentVersion.
type Version struct {
	DocumentID string    `json:"document_id"`
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	Category   string    `json:"category"`
	Content    string    `json:"content"`
	Author     string    `json:"author"`
	CreatedAt  time.Time `json:"created_at"`
}

var (
	ErrNotFound     = errors.New("sop: document not found")
	ErrStaleVersion = errors.New("sop: concurrent edit, stale version")
	ErrInvalidInput = errors.New("sop: invalid input")
)
