package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"docdigitizer/internal/apperr"
	"docdigitizer/internal/blob"
	"docdigitizer/internal/events"
	"docdigitizer/internal/extraction"
	"docdigitizer/internal/models"
	"docdigitizer/internal/storage"
)

const defaultEngineTimeout = 60 * time.Second

// Orchestrator drives extraction for one document at a time. It is safe to
// run again on the same document: processed pages and an existing merged
// result are never extracted twice.
type Orchestrator struct {
	store         storage.DocumentStore
	blobs         blob.Store
	engine        extraction.Engine
	notifier      events.Notifier
	engineTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func New(store storage.DocumentStore, blobs blob.Store, engine extraction.Engine, notifier events.Notifier, engineTimeout time.Duration, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if engineTimeout <= 0 {
		engineTimeout = defaultEngineTimeout
	}
	return &Orchestrator{
		store:         store,
		blobs:         blobs,
		engine:        engine,
		notifier:      notifier,
		engineTimeout: engineTimeout,
		logger:        logger.Named("orchestrator"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ProcessDocument extracts every pending page of documentID, or the merged
// result for multi-page documents. A nil error means the document ended up
// Processed.
func (o *Orchestrator) ProcessDocument(ctx context.Context, documentID string) error {
	doc, err := o.store.FindByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound(fmt.Sprintf("document %s not found", documentID))
		}
		return apperr.Store("load document", err)
	}
	log := o.logger.With(zap.String("document_id", doc.ID), zap.Bool("multi_page", doc.IsMultiPage))

	if models.DeriveStatus(doc) == models.StatusProcessed {
		log.Debug("document already processed")
		return nil
	}
	if len(doc.Pages) == 0 {
		return apperr.Validation(apperr.CodeNoPages, fmt.Sprintf("document %s has no pages", doc.ID))
	}

	if err := o.store.MarkProcessingStarted(ctx, doc.ID, o.now()); err != nil {
		return apperr.Store("mark processing started", err)
	}
	o.publish(ctx, events.Event{Type: events.StatusChanged, DocumentID: doc.ID, Status: models.StatusProcessing})
	log.Info("extraction started", zap.Int("pages", doc.PageCount()))

	var failures []string
	if doc.IsMultiPage {
		failures = o.processMerged(ctx, doc, log)
	} else {
		failures = o.processPages(ctx, doc, log)
	}
	summary := strings.Join(failures, "; ")

	if err := o.store.MarkProcessingFinished(ctx, doc.ID, o.now(), summary); err != nil {
		return apperr.Store("mark processing finished", err)
	}

	status := models.StatusFailed
	if final, err := o.store.FindByID(ctx, doc.ID); err == nil {
		status = models.DeriveStatus(final)
	} else if len(failures) == 0 {
		status = models.StatusProcessed
	}
	o.publish(ctx, events.Event{Type: events.StatusChanged, DocumentID: doc.ID, Status: status, Error: summary})
	log.Info("extraction finished", zap.String("status", string(status)), zap.Int("failures", len(failures)))

	if status != models.StatusProcessed {
		return apperr.Engine(fmt.Sprintf("document %s ended %s", doc.ID, status), errors.New(summary))
	}
	return nil
}

// processPages extracts pending pages in ascending order and persists each
// result on its own. A failed page is reported and skipped.
func (o *Orchestrator) processPages(ctx context.Context, doc *models.DocumentRecord, log *zap.Logger) []string {
	var failures []string
	for _, page := range doc.PendingPages() {
		plog := log.With(zap.String("page_id", page.ID), zap.Int("page_number", page.PageNumber))

		fields, err := o.extract(ctx, []models.PageAsset{page}, false)
		if err != nil {
			plog.Warn("page extraction failed", zap.Error(err))
			failures = append(failures, fmt.Sprintf("page %d: %v", page.PageNumber, err))
			continue
		}
		applied, err := o.store.MarkPageExtracted(ctx, doc.ID, page.ID, fields, o.now())
		if err != nil {
			plog.Error("persist page result", zap.Error(err))
			failures = append(failures, fmt.Sprintf("page %d: %v", page.PageNumber, apperr.Store("persist page result", err)))
			continue
		}
		if !applied {
			plog.Debug("page already processed by another run")
			continue
		}
		o.publish(ctx, events.Event{
			Type:       events.PageExtracted,
			DocumentID: doc.ID,
			PageID:     page.ID,
			PageNumber: page.PageNumber,
			Status:     models.StatusProcessing,
		})
	}
	return failures
}

// processMerged submits all pages as one document. Nothing is stored unless
// the single engine call succeeds.
func (o *Orchestrator) processMerged(ctx context.Context, doc *models.DocumentRecord, log *zap.Logger) []string {
	fields, err := o.extract(ctx, models.SortedPages(doc.Pages), true)
	if err != nil {
		log.Warn("merged extraction failed", zap.Error(err))
		return []string{err.Error()}
	}
	applied, err := o.store.SetDocumentExtracted(ctx, doc.ID, fields, o.now())
	if err != nil {
		log.Error("persist merged result", zap.Error(err))
		return []string{apperr.Store("persist merged result", err).Error()}
	}
	if !applied {
		log.Debug("merged result already stored by another run")
	}
	return nil
}

func (o *Orchestrator) extract(ctx context.Context, pages []models.PageAsset, multiPage bool) (models.StructuredFields, error) {
	images := make([]extraction.PageImage, 0, len(pages))
	for _, p := range pages {
		data, err := blob.ReadAll(ctx, o.blobs, p.FilePath)
		if err != nil {
			return models.StructuredFields{}, apperr.Engine(fmt.Sprintf("read page %d bytes", p.PageNumber), err)
		}
		images = append(images, extraction.PageImage{Name: p.Filename, MIMEType: p.MIMEType, Data: data})
	}

	ctx, cancel := context.WithTimeout(ctx, o.engineTimeout)
	defer cancel()
	fields, err := o.engine.Extract(ctx, images, multiPage)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return models.StructuredFields{}, apperr.Engine(fmt.Sprintf("engine timed out after %s", o.engineTimeout), err)
		}
		if apperr.KindOf(err) != apperr.KindEngine {
			err = apperr.Engine("extract", err)
		}
		return models.StructuredFields{}, err
	}
	return fields, nil
}

func (o *Orchestrator) publish(ctx context.Context, ev events.Event) {
	if o.notifier == nil {
		return
	}
	ev.At = o.now()
	if err := o.notifier.Publish(ctx, ev); err != nil {
		o.logger.Debug("publish event", zap.String("document_id", ev.DocumentID), zap.Error(err))
	}
}
