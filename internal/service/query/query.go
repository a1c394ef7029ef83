package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"go.uber.org/zap"

	"docdigitizer/internal/apperr"
	"docdigitizer/internal/blob"
	"docdigitizer/internal/models"
	"docdigitizer/internal/storage"
)

// Service serves read and delete requests. Status is derived on every read.
type Service struct {
	store  storage.DocumentStore
	blobs  blob.Store
	logger *zap.Logger
}

func NewService(store storage.DocumentStore, blobs blob.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, blobs: blobs, logger: logger.Named("query")}
}

// DocumentView is a full record with its derived status.
type DocumentView struct {
	*models.DocumentRecord
	PageCount int           `json:"pageCount"`
	Status    models.Status `json:"status"`
}

func (s *Service) GetByID(ctx context.Context, id string) (*DocumentView, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DocumentView{DocumentRecord: doc, PageCount: doc.PageCount(), Status: models.DeriveStatus(doc)}, nil
}

// ListByOwner returns summaries for ownerKey, most recent upload first.
func (s *Service) ListByOwner(ctx context.Context, ownerKey string) ([]models.DocumentSummary, error) {
	if ownerKey == "" {
		return nil, apperr.Validation(apperr.CodeMissingOwner, "ownerKey is required")
	}
	docs, err := s.store.FindByOwner(ctx, ownerKey)
	if err != nil {
		return nil, apperr.Store("list documents", err)
	}
	return summarize(docs), nil
}

func (s *Service) ListAll(ctx context.Context) ([]models.DocumentSummary, error) {
	docs, err := s.store.FindAll(ctx)
	if err != nil {
		return nil, apperr.Store("list documents", err)
	}
	return summarize(docs), nil
}

// PageFile opens the stored bytes of one page.
func (s *Service) PageFile(ctx context.Context, documentID, pageID string) (models.PageAsset, io.ReadCloser, error) {
	doc, err := s.find(ctx, documentID)
	if err != nil {
		return models.PageAsset{}, nil, err
	}
	for _, p := range doc.Pages {
		if p.ID != pageID {
			continue
		}
		rc, err := s.blobs.Open(ctx, p.FilePath)
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				return models.PageAsset{}, nil, apperr.NotFound(fmt.Sprintf("bytes of page %s are missing", pageID))
			}
			return models.PageAsset{}, nil, apperr.Store("open page bytes", err)
		}
		return p, rc, nil
	}
	return models.PageAsset{}, nil, apperr.NotFound(fmt.Sprintf("page %s not found in document %s", pageID, documentID))
}

// DeleteResult lists page references whose bytes could not be removed.
type DeleteResult struct {
	OrphanedRefs []string `json:"orphanedRefs,omitempty"`
}

// DeleteByID removes page bytes, then the record. The two steps are not
// atomic; bytes that fail to delete are reported and logged.
func (s *Service) DeleteByID(ctx context.Context, id string) (*DeleteResult, error) {
	doc, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("document_id", id))

	result := &DeleteResult{}
	for _, p := range doc.Pages {
		if err := s.blobs.Delete(ctx, p.FilePath); err != nil && !errors.Is(err, blob.ErrNotFound) {
			log.Warn("delete page bytes", zap.String("ref", p.FilePath), zap.Error(err))
			result.OrphanedRefs = append(result.OrphanedRefs, p.FilePath)
		}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return result, apperr.NotFound(fmt.Sprintf("document %s not found", id))
		}
		log.Error("delete record after removing bytes", zap.Error(err))
		return result, apperr.Store("delete document", err)
	}
	log.Info("document deleted", zap.Int("pages", len(doc.Pages)), zap.Int("orphaned", len(result.OrphanedRefs)))
	return result, nil
}

func (s *Service) find(ctx context.Context, id string) (*models.DocumentRecord, error) {
	doc, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.NotFound(fmt.Sprintf("document %s not found", id))
		}
		return nil, apperr.Store("load document", err)
	}
	return doc, nil
}

func summarize(docs []*models.DocumentRecord) []models.DocumentSummary {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
	out := make([]models.DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, models.Summarize(d))
	}
	return out
}
