package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"docdigitizer/internal/apperr"
	"docdigitizer/internal/config"
	"docdigitizer/internal/events"
	"docdigitizer/internal/models"
	"docdigitizer/internal/queue"
	"docdigitizer/internal/service/ingest"
	"docdigitizer/internal/service/query"
)

const (
	defaultMaxUploadBytes = 16 << 20
	heartbeatInterval     = 15 * time.Second
)

// TaskManager queues extraction runs and reports their state.
type TaskManager interface {
	Dispatch(ctx context.Context, documentID string) (string, error)
	Status(ctx context.Context, taskID string) (queue.TaskStatus, error)
	Pending() int
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler wires HTTP routes to the ingestion and query services.
type Handler struct {
	ingest         *ingest.Service
	query          *query.Service
	tasks          TaskManager
	notifier       events.Notifier
	maxUploadBytes int64
	heartbeat      time.Duration
	checks         map[string]HealthCheck
	logger         *zap.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(ingestSvc *ingest.Service, querySvc *query.Service, tasks TaskManager, notifier events.Notifier, cfg config.ServerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Handler{
		ingest:         ingestSvc,
		query:          querySvc,
		tasks:          tasks,
		notifier:       notifier,
		maxUploadBytes: maxUpload,
		heartbeat:      heartbeatInterval,
		checks:         make(map[string]HealthCheck),
		logger:         logger.Named("api"),
	}
}

// AddHealthCheck registers a dependency probed by /healthz.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)

	api := router.Group("/api")
	api.POST("/upload-document", h.uploadDocument)
	api.GET("/documents", h.listDocuments)
	api.GET("/documents/:id", h.getDocument)
	api.DELETE("/documents/:id", h.deleteDocument)
	api.POST("/documents/:id/process", h.processDocument)
	api.GET("/documents/:id/pages/:pageId/file", h.pageFile)
	api.GET("/documents/:id/events", h.documentEvents)
	api.GET("/tasks/:id", h.taskStatus)
}

// writeError maps an apperr kind to its HTTP status.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindConflict:
		status = http.StatusConflict
	}
	_ = c.Error(err)
	body := gin.H{"error": err.Error()}
	if code := apperr.CodeOf(err); code != "" {
		body["code"] = code
	}
	c.JSON(status, body)
}

func (h *Handler) uploadDocument(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	if err := c.Request.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	defer c.Request.MultipartForm.RemoveAll()

	declared := 0
	if v := strings.TrimSpace(c.PostForm("pageCount")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pageCount"})
			return
		}
		declared = n
	}
	multiPage := false
	if v := strings.TrimSpace(c.PostForm("isMultiPage")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid isMultiPage"})
			return
		}
		multiPage = b
	}

	files := c.Request.MultipartForm.File["pages"]
	metadata := c.Request.MultipartForm.Value["pageMetadata"]
	req := ingest.Request{
		OwnerKey:          strings.TrimSpace(c.PostForm("ownerKey")),
		DocumentID:        strings.TrimSpace(c.PostForm("documentId")),
		Name:              strings.TrimSpace(c.PostForm("documentName")),
		DeclaredPageCount: declared,
		IsMultiPage:       multiPage,
	}
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("open page %d failed", i)})
			return
		}
		opened = append(opened, f)
		up := ingest.PageUpload{Filename: fh.Filename, Size: fh.Size, Content: f}
		if i < len(metadata) {
			up.Metadata = metadata[i]
		}
		req.Pages = append(req.Pages, up)
	}

	res, err := h.ingest.Ingest(c.Request.Context(), req)
	if err != nil {
		if res != nil && len(res.Rejected) > 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperr.CodeOf(err), "rejected": res.Rejected})
			return
		}
		writeError(c, err)
		return
	}

	rejected := res.Rejected
	if rejected == nil {
		rejected = []ingest.Rejection{}
	}
	doc := res.Document
	c.JSON(http.StatusCreated, gin.H{
		"success":           true,
		"documentId":        doc.ID,
		"documentName":      doc.Name,
		"pageCount":         doc.PageCount(),
		"declaredPageCount": doc.DeclaredPageCount,
		"isMultiPage":       doc.IsMultiPage,
		"taskId":            res.TaskID,
		"pages":             doc.Pages,
		"rejected":          rejected,
	})
}

func (h *Handler) listDocuments(c *gin.Context) {
	var (
		docs []models.DocumentSummary
		err  error
	)
	if owner := strings.TrimSpace(c.Query("ownerKey")); owner != "" {
		docs, err = h.query.ListByOwner(c.Request.Context(), owner)
	} else {
		docs, err = h.query.ListAll(c.Request.Context())
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (h *Handler) getDocument(c *gin.Context) {
	view, err := h.query.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) deleteDocument(c *gin.Context) {
	res, err := h.query.DeleteByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{"success": true, "message": "document deleted"}
	if len(res.OrphanedRefs) > 0 {
		body["orphanedRefs"] = res.OrphanedRefs
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) processDocument(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.query.GetByID(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	taskID, err := h.tasks.Dispatch(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task queue unavailable"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"documentId": id, "taskId": taskID})
}

func (h *Handler) taskStatus(c *gin.Context) {
	status, err := h.tasks.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, queue.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handler) pageFile(c *gin.Context) {
	page, rc, err := h.query.PageFile(c.Request.Context(), c.Param("id"), c.Param("pageId"))
	if err != nil {
		writeError(c, err)
		return
	}
	defer rc.Close()
	name := page.OriginalFilename
	if name == "" {
		name = page.Filename
	}
	c.DataFromReader(http.StatusOK, -1, page.MIMEType, rc, map[string]string{
		"Content-Disposition": fmt.Sprintf("inline; filename=%q", name),
	})
}

// documentEvents streams a snapshot followed by progress events until the
// document reaches a terminal status or the client leaves. Events may be
// dropped, so every heartbeat re-reads the record and sends a closing
// snapshot once it is terminal.
func (h *Handler) documentEvents(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	ch, unsubscribe, err := h.notifier.Subscribe(ctx, id)
	if err != nil {
		h.logger.Error("subscribe to document events", zap.String("document_id", id), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event stream unavailable"})
		return
	}
	defer unsubscribe()

	view, err := h.query.GetByID(ctx, id)
	if err != nil {
		writeError(c, err)
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload any) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := sendEvent("snapshot", view); err != nil || view.Status.Terminal() {
		return
	}

	// finished re-reads the record and reports whether the stream is done.
	finished := func() bool {
		view, err := h.query.GetByID(ctx, id)
		if err != nil {
			return apperr.Is(err, apperr.KindNotFound)
		}
		if !view.Status.Terminal() {
			return false
		}
		_ = sendEvent("snapshot", view)
		return true
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if finished() {
				return
			}
			if _, err := fmt.Fprint(c.Writer, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				finished()
				return
			}
			if err := sendEvent(string(ev.Type), ev); err != nil {
				return
			}
			if ev.Type == events.StatusChanged && ev.Status.Terminal() {
				return
			}
		}
	}
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	body := gin.H{"status": "ok"}
	if h.tasks != nil {
		body["pendingTasks"] = h.tasks.Pending()
	}
	if len(failed) > 0 {
		body["status"] = "degraded"
		body["failed"] = failed
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	c.JSON(http.StatusOK, body)
}
