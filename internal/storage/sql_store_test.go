package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"docdigitizer/internal/config"
	"docdigitizer/internal/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleDocument(id, owner string, uploaded time.Time) *models.DocumentRecord {
	return &models.DocumentRecord{
		ID:                id,
		OwnerKey:          owner,
		Name:              "Birth certificate",
		DeclaredPageCount: 2,
		UploadedAt:        uploaded,
		Pages: []models.PageAsset{
			{ID: "p1", PageNumber: 1, Filename: "page_1_p1.png", OriginalFilename: "front.png", FilePath: "documents/" + id + "/page_1_p1.png", Extension: "png", MIMEType: "image/png", Source: "scanner", Timestamp: uploaded},
			{ID: "p2", PageNumber: 2, Filename: "page_2_p2.png", OriginalFilename: "back.png", FilePath: "documents/" + id + "/page_2_p2.png", Extension: "png", MIMEType: "image/png", Source: "scanner", Timestamp: uploaded},
		},
	}
}

func TestSQLStoreInsertAndFind(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(openTestDB(t))
	now := time.Now().UTC().Truncate(time.Second)

	if err := store.Insert(ctx, sampleDocument("doc-1", "A123", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := store.FindByID(ctx, "doc-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.OwnerKey != "A123" || got.PageCount() != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Pages[0].PageNumber != 1 || got.Pages[1].OriginalFilename != "back.png" {
		t.Fatalf("pages not ordered: %+v", got.Pages)
	}
	if !got.UploadedAt.Equal(now) {
		t.Fatalf("uploadedAt mismatch: %v vs %v", got.UploadedAt, now)
	}

	if err := store.Insert(ctx, sampleDocument("doc-1", "A123", now)); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := store.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLStoreFindByOwner(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(openTestDB(t))
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"old", "new", "other"} {
		owner := "A123"
		if id == "other" {
			owner = "B456"
		}
		if err := store.Insert(ctx, sampleDocument(id, owner, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	docs, err := store.FindByOwner(ctx, "A123")
	if err != nil {
		t.Fatalf("find by owner: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "new" || docs[1].ID != "old" {
		t.Fatalf("unexpected owner listing: %+v", docs)
	}
	for _, d := range docs {
		if len(d.Pages) != 2 {
			t.Fatalf("document %s missing pages", d.ID)
		}
	}

	all, err := store.FindAll(ctx)
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(all))
	}
}

func TestSQLStoreFieldScopedUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(openTestDB(t))
	now := time.Now().UTC()
	if err := store.Insert(ctx, sampleDocument("doc-1", "A123", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	fields := models.StructuredFields{Certificate: "Birth Certificate", Name: "John Doe", OfficeSealPresent: true}
	applied, err := store.MarkPageExtracted(ctx, "doc-1", "p1", fields, now)
	if err != nil || !applied {
		t.Fatalf("mark page: applied=%v err=%v", applied, err)
	}
	applied, err = store.MarkPageExtracted(ctx, "doc-1", "p1", models.StructuredFields{Name: "someone else"}, now)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if applied {
		t.Fatalf("second write to a processed page must not apply")
	}

	applied, err = store.SetDocumentExtracted(ctx, "doc-1", fields, now)
	if err != nil || !applied {
		t.Fatalf("set merged: applied=%v err=%v", applied, err)
	}
	applied, _ = store.SetDocumentExtracted(ctx, "doc-1", models.StructuredFields{}, now)
	if applied {
		t.Fatalf("merged result must be set once")
	}

	if err := store.MarkProcessingStarted(ctx, "doc-1", now); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if err := store.MarkProcessingFinished(ctx, "doc-1", now.Add(time.Second), "page 2: boom"); err != nil {
		t.Fatalf("mark finished: %v", err)
	}
	if err := store.MarkProcessingStarted(ctx, "missing", now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := store.FindByID(ctx, "doc-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	p1 := got.Pages[0]
	if !p1.Processed || p1.ProcessedAt == nil || p1.Extracted == nil || p1.Extracted.Name != "John Doe" || !p1.Extracted.OfficeSealPresent {
		t.Fatalf("page 1 not updated: %+v", p1)
	}
	if got.Pages[1].Processed {
		t.Fatalf("page 2 must stay unprocessed")
	}
	if got.DocumentExtracted == nil || got.DocumentExtracted.Certificate != "Birth Certificate" {
		t.Fatalf("merged result missing: %+v", got.DocumentExtracted)
	}
	if got.ExtractionError != "page 2: boom" || got.ProcessingFinishedAt == nil {
		t.Fatalf("processing markers not stored: %+v", got)
	}
}

func TestSQLStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewSQLStore(openTestDB(t))
	if err := store.Insert(ctx, sampleDocument("doc-1", "A123", time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.FindByID(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for second delete, got %v", err)
	}
}
