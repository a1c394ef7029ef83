package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"docdigitizer/internal/models"
)

// FirestoreStore implements DocumentStore on a Firestore collection. Pages are
// kept as a map keyed by page id so a single page can be updated by field path.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

type firestoreDocument struct {
	OwnerKey             string                      `firestore:"ownerKey"`
	Name                 string                      `firestore:"name"`
	IsMultiPage          bool                        `firestore:"isMultiPage"`
	DeclaredPageCount    int                         `firestore:"declaredPageCount"`
	UploadedAt           time.Time                   `firestore:"uploadedAt"`
	Pages                map[string]models.PageAsset `firestore:"pages"`
	DocumentExtracted    *models.StructuredFields    `firestore:"documentExtracted"`
	ExtractedAt          *time.Time                  `firestore:"extractedAt"`
	ProcessingStartedAt  *time.Time                  `firestore:"processingStartedAt"`
	ProcessingFinishedAt *time.Time                  `firestore:"processingFinishedAt"`
	ExtractionError      string                      `firestore:"extractionError"`
}

// NewFirestoreClient creates a Firestore client for projectID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return client, nil
}

func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	return &FirestoreStore{client: client, collection: collection}
}

func (s *FirestoreStore) ref(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) Insert(ctx context.Context, doc *models.DocumentRecord) error {
	if _, err := s.ref(doc.ID).Create(ctx, toFirestore(doc)); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("insert document %s: %w", doc.ID, ErrDuplicate)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *FirestoreStore) FindByID(ctx context.Context, id string) (*models.DocumentRecord, error) {
	snap, err := s.ref(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find document: %w", err)
	}
	return fromSnapshot(snap)
}

func (s *FirestoreStore) FindByOwner(ctx context.Context, ownerKey string) ([]*models.DocumentRecord, error) {
	snaps, err := s.client.Collection(s.collection).Where("ownerKey", "==", ownerKey).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return fromSnapshots(snaps)
}

func (s *FirestoreStore) FindAll(ctx context.Context) ([]*models.DocumentRecord, error) {
	snaps, err := s.client.Collection(s.collection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return fromSnapshots(snaps)
}

func (s *FirestoreStore) MarkProcessingStarted(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, []firestore.Update{{Path: "processingStartedAt", Value: at.UTC()}})
}

func (s *FirestoreStore) MarkProcessingFinished(ctx context.Context, id string, at time.Time, errMsg string) error {
	return s.update(ctx, id, []firestore.Update{
		{Path: "processingFinishedAt", Value: at.UTC()},
		{Path: "extractionError", Value: errMsg},
	})
}

func (s *FirestoreStore) update(ctx context.Context, id string, updates []firestore.Update) error {
	if _, err := s.ref(id).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("update document: %w", err)
	}
	return nil
}

func (s *FirestoreStore) MarkPageExtracted(ctx context.Context, docID, pageID string, fields models.StructuredFields, at time.Time) (bool, error) {
	applied := false
	ref := s.ref(docID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		processed, err := snap.DataAt("pages." + pageID + ".processed")
		if err != nil {
			return fmt.Errorf("page %s: %w", pageID, ErrNotFound)
		}
		if done, _ := processed.(bool); done {
			return nil
		}
		applied = true
		return tx.Update(ref, []firestore.Update{
			{FieldPath: firestore.FieldPath{"pages", pageID, "processed"}, Value: true},
			{FieldPath: firestore.FieldPath{"pages", pageID, "processedAt"}, Value: at.UTC()},
			{FieldPath: firestore.FieldPath{"pages", pageID, "extracted"}, Value: fields},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("mark page extracted: %w", err)
	}
	return applied, nil
}

func (s *FirestoreStore) SetDocumentExtracted(ctx context.Context, docID string, fields models.StructuredFields, at time.Time) (bool, error) {
	applied := false
	ref := s.ref(docID)
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		applied = false
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		if v, err := snap.DataAt("documentExtracted"); err == nil && v != nil {
			return nil
		}
		applied = true
		return tx.Update(ref, []firestore.Update{
			{Path: "documentExtracted", Value: fields},
			{Path: "extractedAt", Value: at.UTC()},
		})
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("set document extracted: %w", err)
	}
	return applied, nil
}

func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.ref(id).Delete(ctx, firestore.Exists); err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func toFirestore(doc *models.DocumentRecord) firestoreDocument {
	pages := make(map[string]models.PageAsset, len(doc.Pages))
	for _, p := range doc.Pages {
		pages[p.ID] = p
	}
	return firestoreDocument{
		OwnerKey:             doc.OwnerKey,
		Name:                 doc.Name,
		IsMultiPage:          doc.IsMultiPage,
		DeclaredPageCount:    doc.DeclaredPageCount,
		UploadedAt:           doc.UploadedAt.UTC(),
		Pages:                pages,
		DocumentExtracted:    doc.DocumentExtracted,
		ExtractedAt:          doc.ExtractedAt,
		ProcessingStartedAt:  doc.ProcessingStartedAt,
		ProcessingFinishedAt: doc.ProcessingFinishedAt,
		ExtractionError:      doc.ExtractionError,
	}
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (*models.DocumentRecord, error) {
	var fd firestoreDocument
	if err := snap.DataTo(&fd); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", snap.Ref.ID, err)
	}
	pages := make([]models.PageAsset, 0, len(fd.Pages))
	for _, p := range fd.Pages {
		pages = append(pages, p)
	}
	return &models.DocumentRecord{
		ID:                   snap.Ref.ID,
		OwnerKey:             fd.OwnerKey,
		Name:                 fd.Name,
		IsMultiPage:          fd.IsMultiPage,
		DeclaredPageCount:    fd.DeclaredPageCount,
		UploadedAt:           fd.UploadedAt,
		Pages:                models.SortedPages(pages),
		DocumentExtracted:    fd.DocumentExtracted,
		ExtractedAt:          fd.ExtractedAt,
		ProcessingStartedAt:  fd.ProcessingStartedAt,
		ProcessingFinishedAt: fd.ProcessingFinishedAt,
		ExtractionError:      fd.ExtractionError,
	}, nil
}

func fromSnapshots(snaps []*firestore.DocumentSnapshot) ([]*models.DocumentRecord, error) {
	docs := make([]*models.DocumentRecord, 0, len(snaps))
	var errs []error
	for _, snap := range snaps {
		doc, err := fromSnapshot(snap)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		docs = append(docs, doc)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
	return docs, nil
}
