package query

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"docdigitizer/internal/apperr"
	"docdigitizer/internal/blob"
	"docdigitizer/internal/config"
	"docdigitizer/internal/models"
	"docdigitizer/internal/storage"
)

func newTestService(t *testing.T) (*Service, *storage.SQLStore, *blob.DiskStore) {
	t.Helper()
	db, err := storage.Open("sqlite3", &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	blobs, err := blob.NewDiskStore(t.TempDir())
	if err != nil {
		t.Fatalf("disk store: %v", err)
	}
	store := storage.NewSQLStore(db)
	return NewService(store, blobs, zaptest.NewLogger(t)), store, blobs
}

func insert(t *testing.T, store *storage.SQLStore, blobs blob.Store, id, owner string, uploaded time.Time) {
	t.Helper()
	ctx := context.Background()
	ref, err := blobs.Put(ctx, "documents/"+id+"/page_1_p1.png", strings.NewReader("bytes-"+id))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	doc := &models.DocumentRecord{
		ID: id, OwnerKey: owner, Name: id, DeclaredPageCount: 1, UploadedAt: uploaded,
		Pages: []models.PageAsset{{ID: "p1", PageNumber: 1, Filename: "page_1_p1.png", FilePath: ref, Extension: "png", MIMEType: "image/png", Source: "scanner", Timestamp: uploaded}},
	}
	if err := store.Insert(ctx, doc); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestListByOwner(t *testing.T) {
	svc, store, blobs := newTestService(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	insert(t, store, blobs, "older", "A123", base)
	insert(t, store, blobs, "newer", "A123", base.Add(time.Hour))
	insert(t, store, blobs, "foreign", "B456", base.Add(2*time.Hour))

	got, err := svc.ListByOwner(context.Background(), "A123")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "newer" || got[1].ID != "older" {
		t.Fatalf("unexpected listing: %+v", got)
	}
	if got[0].Status != models.StatusUploaded || got[0].PageCount != 1 {
		t.Fatalf("unexpected summary: %+v", got[0])
	}

	all, err := svc.ListAll(context.Background())
	if err != nil || len(all) != 3 || all[0].ID != "foreign" {
		t.Fatalf("list all: %+v (%v)", all, err)
	}

	if _, err := svc.ListByOwner(context.Background(), ""); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetByIDDerivesStatus(t *testing.T) {
	svc, store, blobs := newTestService(t)
	ctx := context.Background()
	now := time.Now().UTC()
	insert(t, store, blobs, "doc-1", "A123", now)
	if _, err := store.MarkPageExtracted(ctx, "doc-1", "p1", models.StructuredFields{Name: "John Doe"}, now); err != nil {
		t.Fatalf("mark: %v", err)
	}

	view, err := svc.GetByID(ctx, "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.Status != models.StatusProcessed || view.PageCount != 1 || view.Pages[0].Extracted.Name != "John Doe" {
		t.Fatalf("unexpected view: %+v", view)
	}
	if _, err := svc.GetByID(ctx, "missing"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPageFile(t *testing.T) {
	svc, store, blobs := newTestService(t)
	ctx := context.Background()
	insert(t, store, blobs, "doc-1", "A123", time.Now())

	page, rc, err := svc.PageFile(ctx, "doc-1", "p1")
	if err != nil {
		t.Fatalf("page file: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "bytes-doc-1" || page.MIMEType != "image/png" {
		t.Fatalf("unexpected page file %q %+v", data, page)
	}
	if _, _, err := svc.PageFile(ctx, "doc-1", "nope"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// brokenDeletes fails every Delete call.
type brokenDeletes struct{ blob.Store }

func (brokenDeletes) Delete(context.Context, string) error { return errors.New("permission denied") }

func TestDeleteByID(t *testing.T) {
	svc, store, blobs := newTestService(t)
	ctx := context.Background()
	insert(t, store, blobs, "doc-1", "A123", time.Now())

	res, err := svc.DeleteByID(ctx, "doc-1")
	if err != nil || len(res.OrphanedRefs) != 0 {
		t.Fatalf("delete: %+v (%v)", res, err)
	}
	if _, err := svc.GetByID(ctx, "doc-1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if _, err := blobs.Open(ctx, "documents/doc-1/page_1_p1.png"); !errors.Is(err, blob.ErrNotFound) {
		t.Fatalf("bytes must be removed, got %v", err)
	}
	if _, err := svc.DeleteByID(ctx, "doc-1"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteReportsOrphans(t *testing.T) {
	svc, store, blobs := newTestService(t)
	ctx := context.Background()
	insert(t, store, blobs, "doc-1", "A123", time.Now())
	svc.blobs = brokenDeletes{blobs}

	res, err := svc.DeleteByID(ctx, "doc-1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(res.OrphanedRefs) != 1 || res.OrphanedRefs[0] != "documents/doc-1/page_1_p1.png" {
		t.Fatalf("orphans = %v", res.OrphanedRefs)
	}
	if _, err := store.FindByID(ctx, "doc-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("record must be removed, got %v", err)
	}
}
