package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docdigitizer/internal/apperr"
	"docdigitizer/internal/blob"
	"docdigitizer/internal/config"
	"docdigitizer/internal/models"
	"docdigitizer/internal/storage"
)

const defaultSource = "unknown"

// PageUpload is one file of an upload batch. Metadata is the optional JSON
// sent in the slot parallel to the file.
type PageUpload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
	Metadata string
}

type Request struct {
	OwnerKey          string
	DocumentID        string
	Name              string
	DeclaredPageCount int
	IsMultiPage       bool
	Pages             []PageUpload
}

// Rejection explains why one upload was left out of the document.
type Rejection struct {
	Index    int    `json:"index"`
	Filename string `json:"filename"`
	Code     string `json:"code"`
	Reason   string `json:"reason"`
}

type Result struct {
	Document *models.DocumentRecord
	Rejected []Rejection
	// TaskID is empty when the record was stored but extraction could not be queued.
	TaskID string
}

// Dispatcher queues extraction for a stored document.
type Dispatcher interface {
	Dispatch(ctx context.Context, documentID string) (string, error)
}

type Service struct {
	store      storage.DocumentStore
	blobs      blob.Store
	dispatcher Dispatcher
	cfg        config.IngestConfig
	allowed    map[string]bool
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(store storage.DocumentStore, blobs blob.Store, dispatcher Dispatcher, cfg config.IngestConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.AllowedExtensions) == 0 {
		cfg.AllowedExtensions = config.DefaultAllowedExtensions
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 4
	}
	allowed := make(map[string]bool, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[strings.ToLower(strings.TrimPrefix(ext, "."))] = true
	}
	return &Service{
		store:      store,
		blobs:      blobs,
		dispatcher: dispatcher,
		cfg:        cfg,
		allowed:    allowed,
		logger:     logger.Named("ingest"),
		now:        time.Now,
	}
}

// candidate is a page that passed validation and waits to be written.
type candidate struct {
	index  int
	upload PageUpload
	page   models.PageAsset
}

// Ingest validates the batch, stores accepted pages and the record, then
// queues extraction. Invalid pages are dropped and reported, not fatal.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.OwnerKey) == "" {
		return nil, apperr.Validation(apperr.CodeMissingOwner, "ownerKey is required")
	}
	if len(req.Pages) == 0 {
		return nil, apperr.Validation(apperr.CodeNoPages, "no pages provided")
	}
	if s.cfg.MaxPages > 0 && len(req.Pages) > s.cfg.MaxPages {
		return nil, apperr.Validation(apperr.CodeTooManyPages,
			fmt.Sprintf("%d pages exceeds the limit of %d", len(req.Pages), s.cfg.MaxPages))
	}

	docID := strings.TrimSpace(req.DocumentID)
	if docID == "" {
		docID = uuid.NewString()
	} else if !identifierPattern.MatchString(docID) {
		return nil, apperr.Validation(apperr.CodeInvalidDocumentID, "documentId must match [A-Za-z0-9_-]{1,64}")
	} else if err := s.ensureAbsent(ctx, docID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	log := s.logger.With(zap.String("document_id", docID), zap.String("owner", req.OwnerKey))

	declared := req.DeclaredPageCount
	if declared <= 0 {
		declared = len(req.Pages)
	}

	candidates, rejected := s.validatePages(docID, req.Pages, max(declared, len(req.Pages)), now, log)
	pages, writeRejected, clashed := s.writePages(ctx, candidates, log)
	rejected = append(rejected, writeRejected...)
	if clashed {
		// another upload owns these keys; only bytes written here are removed
		s.discard(pages, log)
		return nil, apperr.Conflict(fmt.Sprintf("document %s already exists", docID), blob.ErrExists)
	}

	if len(pages) == 0 {
		return &Result{Rejected: rejected}, apperr.Validation(apperr.CodeNoPages, "no page could be accepted")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Document-" + now.Format(time.RFC3339)
	}
	doc := &models.DocumentRecord{
		ID:                docID,
		OwnerKey:          req.OwnerKey,
		Name:              name,
		IsMultiPage:       req.IsMultiPage,
		DeclaredPageCount: declared,
		UploadedAt:        now,
		Pages:             models.SortedPages(pages),
	}
	if err := s.store.Insert(ctx, doc); err != nil {
		s.discard(doc.Pages, log)
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Conflict(fmt.Sprintf("document %s already exists", docID), err)
		}
		log.Error("insert document", zap.Error(err))
		return nil, apperr.Store("persist document", err)
	}

	result := &Result{Document: doc, Rejected: rejected}
	taskID, err := s.dispatcher.Dispatch(ctx, docID)
	if err != nil {
		log.Error("dispatch extraction", zap.Error(err))
	} else {
		result.TaskID = taskID
	}
	log.Info("document ingested",
		zap.Int("accepted", len(doc.Pages)),
		zap.Int("rejected", len(rejected)),
		zap.Bool("multi_page", doc.IsMultiPage),
		zap.String("task_id", result.TaskID))
	return result, nil
}

func (s *Service) ensureAbsent(ctx context.Context, docID string) error {
	_, err := s.store.FindByID(ctx, docID)
	switch {
	case err == nil:
		return apperr.Conflict(fmt.Sprintf("document %s already exists", docID), storage.ErrDuplicate)
	case errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return apperr.Store("look up document", err)
	}
}

// validatePages checks each upload on its own. Page numbers must fall within
// 1..maxPageNumber.
func (s *Service) validatePages(docID string, uploads []PageUpload, maxPageNumber int, now time.Time, log *zap.Logger) ([]candidate, []Rejection) {
	var (
		candidates []candidate
		rejected   []Rejection
		numbers    = make(map[int]bool)
		ids        = make(map[string]bool)
	)
	reject := func(i int, filename, code, reason string) {
		rejected = append(rejected, Rejection{Index: i, Filename: filename, Code: code, Reason: reason})
		log.Warn("page rejected", zap.Int("index", i), zap.String("filename", filename), zap.String("code", code), zap.String("reason", reason))
	}

	for i, up := range uploads {
		original := sanitizeFilename(up.Filename)
		ext := extensionOf(original)
		if !s.allowed[ext] {
			reject(i, up.Filename, apperr.CodeDisallowedExtension, fmt.Sprintf("extension %q is not allowed", ext))
			continue
		}
		if s.cfg.MaxPageBytes > 0 && up.Size > s.cfg.MaxPageBytes {
			reject(i, up.Filename, apperr.CodePageTooLarge, fmt.Sprintf("%d bytes exceeds the limit of %d", up.Size, s.cfg.MaxPageBytes))
			continue
		}
		meta, err := parseMetadata(up.Metadata)
		if err != nil {
			reject(i, up.Filename, apperr.CodeInvalidMetadata, err.Error())
			continue
		}

		pageID := meta.PageID
		if pageID != "" && !identifierPattern.MatchString(pageID) {
			log.Warn("ignoring malformed page id", zap.Int("index", i), zap.String("page_id", pageID))
			pageID = ""
		}
		if pageID == "" {
			pageID = uuid.NewString()
		}
		pageNumber := meta.PageNumber
		if pageNumber == 0 {
			pageNumber = i + 1
		}
		if pageNumber < 1 || pageNumber > maxPageNumber {
			reject(i, up.Filename, apperr.CodeInvalidMetadata, fmt.Sprintf("page number %d is outside 1..%d", pageNumber, maxPageNumber))
			continue
		}
		if numbers[pageNumber] {
			reject(i, up.Filename, apperr.CodeDuplicatePage, fmt.Sprintf("page number %d already used in this upload", pageNumber))
			continue
		}
		if ids[pageID] {
			reject(i, up.Filename, apperr.CodeDuplicatePage, fmt.Sprintf("page id %s already used in this upload", pageID))
			continue
		}

		if ext == "pdf" {
			if up.Content == nil {
				reject(i, up.Filename, apperr.CodeInvalidPDF, "empty file")
				continue
			}
			if _, err := checkPDF(up.Content); err != nil {
				reject(i, up.Filename, apperr.CodeInvalidPDF, err.Error())
				continue
			}
		}

		captured := meta.Timestamp
		if captured.IsZero() {
			captured = now
		}
		source := strings.TrimSpace(meta.Source)
		if source == "" {
			source = defaultSource
		}
		filename := fmt.Sprintf("page_%d_%s.%s", pageNumber, pageID, ext)

		numbers[pageNumber] = true
		ids[pageID] = true
		candidates = append(candidates, candidate{
			index:  i,
			upload: up,
			page: models.PageAsset{
				ID:               pageID,
				PageNumber:       pageNumber,
				Filename:         filename,
				OriginalFilename: original,
				FilePath:         "documents/" + docID + "/" + filename,
				Extension:        ext,
				MIMEType:         mimeTypeOf(ext),
				Source:           source,
				Timestamp:        captured.UTC(),
			},
		})
	}
	return candidates, rejected
}

var errPageTooLarge = errors.New("page exceeds size limit")

// writePages stores candidate bytes concurrently. FilePath is replaced by the
// reference returned from the blob store. The returned pages are exactly the
// blobs this call created. clashed reports a key that was already taken.
func (s *Service) writePages(ctx context.Context, candidates []candidate, log *zap.Logger) (pages []models.PageAsset, rejected []Rejection, clashed bool) {
	var mu sync.Mutex
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.UploadConcurrency)

	for _, c := range candidates {
		eg.Go(func() error {
			var r io.Reader = eofReader{}
			if c.upload.Content != nil {
				r = c.upload.Content
			}
			if s.cfg.MaxPageBytes > 0 {
				r = &limitReader{r: r, remaining: s.cfg.MaxPageBytes}
			}
			ref, err := s.blobs.Put(gctx, c.page.FilePath, r)

			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, blob.ErrExists) {
				clashed = true
				log.Warn("page key already stored", zap.Int("index", c.index), zap.String("key", c.page.FilePath))
				return nil
			}
			if err != nil {
				code := apperr.CodeWriteFailed
				if errors.Is(err, errPageTooLarge) {
					code = apperr.CodePageTooLarge
				}
				werr := apperr.StorageWrite("store page bytes", err)
				rejected = append(rejected, Rejection{Index: c.index, Filename: c.upload.Filename, Code: code, Reason: werr.Error()})
				log.Warn("page write failed", zap.Int("index", c.index), zap.String("page_id", c.page.ID), zap.Error(werr))
				return nil
			}
			page := c.page
			page.FilePath = ref
			pages = append(pages, page)
			return nil
		})
	}
	_ = eg.Wait()
	return pages, rejected, clashed
}

// discard removes bytes written by this request for a record that could not
// be persisted.
func (s *Service) discard(pages []models.PageAsset, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, p := range pages {
		if err := s.blobs.Delete(ctx, p.FilePath); err != nil && !errors.Is(err, blob.ErrNotFound) {
			log.Warn("discard page bytes", zap.String("ref", p.FilePath), zap.Error(err))
		}
	}
}

type limitReader struct {
	r         io.Reader
	remaining int64
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.remaining < 0 {
		return 0, errPageTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, errPageTooLarge
	}
	return n, err
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
