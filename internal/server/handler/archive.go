package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/simplifi-protocol/simplifi-core/internal/domain"
)

// ArchiveHandler serves the cold-storage archive: listing exported datasets,
// downloading them, and triggering an immediate archive run. It is only
// mounted when blob storage is configured.
type ArchiveHandler struct {
	blobs     domain.BlobReader
	logger    *slog.Logger
	triggerCh chan<- struct{} // when non-nil, sending schedules one archive run
}

// NewArchiveHandler creates an ArchiveHandler with the given reader and logger.
func NewArchiveHandler(blobs domain.BlobReader, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{blobs: blobs, logger: logger}
}

// WithTriggerChannel sets the channel to send on when an archive run is
// requested. The archiver loop must receive from this channel to run a cycle.
func (h *ArchiveHandler) WithTriggerChannel(ch chan<- struct{}) *ArchiveHandler {
	h.triggerCh = ch
	return h
}

type listArchiveResponse struct {
	Objects []domain.BlobInfo `json:"objects"`
	Count   int               `json:"count"`
}

// List returns the archived objects under an optional prefix.
// GET /api/archive?prefix=archive/positions/
func (h *ArchiveHandler) List(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		prefix = "archive/"
	}

	objects, err := h.blobs.List(r.Context(), prefix)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: archive list failed",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archive")
		return
	}
	if objects == nil {
		objects = []domain.BlobInfo{}
	}

	writeJSON(w, http.StatusOK, listArchiveResponse{
		Objects: objects,
		Count:   len(objects),
	})
}

// Download streams one archived object.
// GET /api/archive/{path...}
func (h *ArchiveHandler) Download(w http.ResponseWriter, r *http.Request) {
	path := pathParam(r, "path")
	if path == "" || strings.Contains(path, "..") {
		writeError(w, http.StatusBadRequest, "invalid archive path")
		return
	}

	body, err := h.blobs.Get(r.Context(), path)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: archive download interrupted",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// Trigger enqueues one archive run. A non-blocking send is performed so the
// archiver loop runs one cycle as soon as it is free.
// POST /api/archive/trigger
func (h *ArchiveHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	h.logger.InfoContext(r.Context(), "handler: archive run requested")
	if h.triggerCh != nil {
		select {
		case h.triggerCh <- struct{}{}:
		default:
			// already triggered and not yet consumed
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "accepted",
		"message":      "archive run enqueued",
		"requested_at": time.Now().UTC().Format(time.RFC3339),
	})
}
