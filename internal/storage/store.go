package storage

import (
	"context"
	"errors"
	"time"

	"docdigitizer/internal/models"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("document not found")
	// ErrDuplicate is returned when inserting a document id that already exists.
	ErrDuplicate = errors.New("document already exists")
)

// DocumentStore persists DocumentRecords. Every update touches only the
// fields it names so concurrent extraction runs cannot clobber each other.
type DocumentStore interface {
	Insert(ctx context.Context, doc *models.DocumentRecord) error
	FindByID(ctx context.Context, id string) (*models.DocumentRecord, error)
	FindByOwner(ctx context.Context, ownerKey string) ([]*models.DocumentRecord, error)
	FindAll(ctx context.Context) ([]*models.DocumentRecord, error)

	MarkProcessingStarted(ctx context.Context, id string, at time.Time) error
	// MarkPageExtracted sets one page's result. It reports false when the
	// page was already processed by another run.
	MarkPageExtracted(ctx context.Context, docID, pageID string, fields models.StructuredFields, at time.Time) (bool, error)
	// SetDocumentExtracted stores the merged result only if none is present yet.
	SetDocumentExtracted(ctx context.Context, docID string, fields models.StructuredFields, at time.Time) (bool, error)
	MarkProcessingFinished(ctx context.Context, id string, at time.Time, errMsg string) error

	Delete(ctx context.Context, id string) error
}
