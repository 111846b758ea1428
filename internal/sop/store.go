package sop

import "context"

// Store describes persistence operations required by the document store.
//
// CreateDocument and UpdateDocument must persist the document head and its
// snapshot as one atomic unit. UpdateDocument is conditional: it applies only
// when the stored CurrentVersion still equals expectedVersion and returns
// ErrStaleVersion otherwise, which serializes concurrent edits.
type Store interface {
	CreateDocument(ctx context.Context, d *Document, snap *Version) error
	FindDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
	UpdateDocument(ctx context.Context, d *Document, expectedVersion int, snap *Version) error
	Versions(ctx context.Context, documentID string) ([]*Version, error)
}
