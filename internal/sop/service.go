package sop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sopledger.org/internal/audit"
	"sopledger.org/internal/ids"
)

// editRetries bounds the optimistic-concurrency retry loop in Edit.
const editRetries = 3

// Service exposes the versioned document operations.
type Service struct {
	store Store
	sink  audit.Sink
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithAuditSink attaches an audit sink to document mutations.
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

// Draft is the caller-supplied content for a create or edit.
type Draft struct {
	Title    string
	Category string
	Content  string
}

func (d *Draft) normalize() error {
	d.Title = strings.TrimSpace(d.Title)
	d.Category = strings.TrimSpace(d.Category)
	d.Content = strings.TrimSpace(d.Content)
	if d.Title == "" || len(d.Title) > 500 {
		return fmt.Errorf("%w: title must be 1..500 characters", ErrInvalidInput)
	}
	if d.Category == "" || len(d.Category) > 100 {
		return fmt.Errorf("%w: category must be 1..100 characters", ErrInvalidInput)
	}
	if len(d.Content) < 10 {
		return fmt.Errorf("%w: content must be at least 10 characters", ErrInvalidInput)
	}
	return nil
}

// Create stores a new document at version 1 with its first snapshot.
func (s *Service) Create(ctx context.Context, author string, draft Draft) (*Document, error) {
	if err := draft.normalize(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	doc := &Document{
		ID:             ids.New(),
		Title:          draft.Title,
		Category:       draft.Category,
		Content:        draft.Content,
		CurrentVersion: 1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	snap := snapshot(doc, author, now)
	if err := s.store.CreateDocument(ctx, doc, snap); err != nil {
		return nil, err
	}

	audit.Record(ctx, s.sink, &audit.Entry{
		ActorID:    author,
		Action:     "sop.create",
		EntityType: "sop",
		EntityID:   doc.ID,
		Detail:     doc.Title,
	})
	return doc, nil
}

// Edit replaces a document's content, bumping CurrentVersion by exactly one
// and appending a snapshot at the new number. This is the only mutation path
// for document content. Concurrent edits serialize on the version counter:
// the store rejects stale writes and the edit is retried against the fresh
// head a bounded number of times.
func (s *Service) Edit(ctx context.Context, author, id string, draft Draft) (*Document, error) {
	if err := draft.normalize(); err != nil {
		return nil, err
	}

	var lastErr error
	for i := 0; i < editRetries; i++ {
		doc, err := s.store.FindDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		now := s.now().UTC()
		updated := &Document{
			ID:             doc.ID,
			Title:          draft.Title,
			Category:       draft.Category,
			Content:        draft.Content,
			CurrentVersion: doc.CurrentVersion + 1,
			CreatedAt:      doc.CreatedAt,
			UpdatedAt:      now,
		}
		snap := snapshot(updated, author, now)
		if err := s.store.UpdateDocument(ctx, updated, doc.CurrentVersion, snap); err != nil {
			if errors.Is(err, ErrStaleVersion) {
				lastErr = err
				continue
			}
			return nil, err
		}

		audit.Record(ctx, s.sink, &audit.Entry{
			ActorID:    author,
			Action:     "sop.update",
			EntityType: "sop",
			EntityID:   updated.ID,
			Detail:     fmt.Sprintf("version=%d", updated.CurrentVersion),
		})
		return updated, nil
	}
	return nil, lastErr
}

// Get returns the current head of a document.
func (s *Service) Get(ctx context.Context, id string) (*Document, error) {
	return s.store.FindDocument(ctx, id)
}

// List returns all documents.
func (s *Service) List(ctx context.Context) ([]*Document, error) {
	return s.store.ListDocuments(ctx)
}

// VersionHistory returns every snapshot of a document, newest first.
func (s *Service) VersionHistory(ctx context.Context, id string) ([]*Version, error) {
	if _, err := s.store.FindDocument(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Versions(ctx, id)
}

func snapshot(d *Document, author string, at time.Time) *Version {
	return &Version{
		DocumentID: d.ID,
		Number:     d.CurrentVersion,
		Title:      d.Title,
		Category:   d.Category,
		Content:    d.Content,
		Author:     author,
		CreatedAt:  at,
	}
}
