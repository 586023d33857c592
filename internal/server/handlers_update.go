package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aerodocs/aipdeck/internal/model"
	"github.com/aerodocs/aipdeck/internal/storage"
	"github.com/aerodocs/aipdeck/internal/update"
)

// HandleTriggerUpdate handles POST /api/update/run.
// An optional ?profile= query parameter targets a single profile (which may
// be disabled); without it, every enabled profile is processed.
func (h *Handlers) HandleTriggerUpdate(w http.ResponseWriter, r *http.Request) {
	profile := r.URL.Query().Get("profile")

	runID, err := h.updater.Trigger(r.Context(), profile)
	switch {
	case errors.Is(err, update.ErrAlreadyRunning):
		writeError(w, r, http.StatusConflict, model.ErrCodeAlreadyRunning, "update already in progress")
		return
	case errors.Is(err, update.ErrInsufficientSpace):
		writeError(w, r, http.StatusInsufficientStorage, model.ErrCodeInsufficientSpace, err.Error())
		return
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "profile not found: "+profile)
		return
	case err != nil:
		h.writeInternalError(w, r, "failed to start update", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.TriggerResponse{Status: "started", RunID: runID.String()})
}

// HandleProgress handles GET /api/update/progress (SSE).
// Each stage event is one SSE message carrying the event as JSON. The stream
// stays open until the client disconnects; missed events are recovered from
// the run history, not replayed here.
func (h *Handlers) HandleProgress(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	// Without this, idle SSE connections are killed after WriteTimeout.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(event); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleCleanup handles POST /api/cleanup. It shares the orchestrator's run
// lock so maintenance never races an in-progress update.
func (h *Handlers) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	var req model.CleanupRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := h.updater.TryAcquire(); err != nil {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "cleanup blocked: update in progress")
		return
	}
	defer h.updater.Release()

	// Profile directories are recreated after an output wipe.
	var names []string
	if req.DeleteOutput {
		profiles, err := h.db.ListProfiles(r.Context())
		if err != nil {
			h.logger.Warn("cleanup: failed to list profiles for dir recreation", "error", err)
		}
		for _, p := range profiles {
			names = append(names, p.Name)
		}
	}

	results, err := h.docs.Cleanup(req.DeleteCache, req.DeleteOutput, names)
	if err != nil {
		h.writeInternalError(w, r, "cleanup failed", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.CleanupResponse{
		Status:  "ok",
		Message: strings.Join(results, ", "),
	})
}
