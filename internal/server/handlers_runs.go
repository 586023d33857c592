package server

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/aerodocs/aipdeck/internal/model"
	"github.com/aerodocs/aipdeck/internal/storage"
)

// HandleListRuns handles GET /api/runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.db.ListRuns(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list runs", err)
		return
	}
	writeJSON(w, r, http.StatusOK, runs)
}

// HandleGetRun handles GET /api/runs/{id}.
func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
		return
	}

	rec, err := h.db.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "run not found")
			return
		}
		h.writeInternalError(w, r, "failed to get run", err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}
