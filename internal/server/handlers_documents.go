package server

import (
	"errors"
	"net/http"

	"github.com/aerodocs/aipdeck/internal/docstore"
	"github.com/aerodocs/aipdeck/internal/model"
)

// HandleListDocuments handles GET /api/documents.
func (h *Handlers) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.List()
	if err != nil {
		h.writeInternalError(w, r, "failed to list documents", err)
		return
	}
	writeJSON(w, r, http.StatusOK, docs)
}

// HandleDownloadDocument handles GET /api/documents/{profile}/{filename}.
func (h *Handlers) HandleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	profile := r.PathValue("profile")
	filename := r.PathValue("filename")

	path, err := h.docs.Resolve(profile, filename)
	if err != nil {
		writeDocError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	http.ServeFile(w, r, path)
}

// HandleDeleteDocument handles DELETE /api/documents/{profile}/{filename}.
func (h *Handlers) HandleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	profile := r.PathValue("profile")
	filename := r.PathValue("filename")

	if err := h.docs.Delete(profile, filename); err != nil {
		writeDocError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDocError maps docstore errors to API errors. Traversal attempts are a
// client error, not a missing file.
func writeDocError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, docstore.ErrInvalidPath):
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid path")
	case errors.Is(err, docstore.ErrNotFound):
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "document not found")
	default:
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "document operation failed")
	}
}
