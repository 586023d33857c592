package server

import (
	"errors"
	"net/http"

	"github.com/aerodocs/aipdeck/internal/model"
	"github.com/aerodocs/aipdeck/internal/storage"
)

// profileRequest is the request body for profile create/update.
// Enabled defaults to true when omitted.
type profileRequest struct {
	Name       string           `json:"name"`
	FlightRule model.FlightRule `json:"flight_rule"`
	Filters    []string         `json:"filters"`
	Enabled    *bool            `json:"enabled"`
}

func (req profileRequest) toProfile() model.Profile {
	p := model.Profile{
		Name:       req.Name,
		FlightRule: req.FlightRule,
		Filters:    req.Filters,
		Enabled:    true,
	}
	if p.FlightRule == "" {
		p.FlightRule = model.FlightRuleVFR
	}
	if p.Filters == nil {
		p.Filters = []string{}
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	return p
}

// HandleListProfiles handles GET /api/profiles.
func (h *Handlers) HandleListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.db.ListProfiles(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list profiles", err)
		return
	}
	writeJSON(w, r, http.StatusOK, profiles)
}

// HandleCreateProfile handles POST /api/profiles.
func (h *Handlers) HandleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	p := req.toProfile()
	if err := p.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if err := h.db.CreateProfile(r.Context(), p); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, r, http.StatusConflict, model.ErrCodeDuplicateName,
				"profile "+p.Name+" already exists")
			return
		}
		h.writeInternalError(w, r, "failed to create profile", err)
		return
	}

	// The output directory is created eagerly so the documents view shows
	// the profile before its first run.
	if err := h.docs.EnsureProfileDir(p.Name); err != nil {
		h.logger.Warn("failed to create profile output dir", "profile", p.Name, "error", err)
	}

	writeJSON(w, r, http.StatusCreated, p)
}

// HandleUpdateProfile handles PUT /api/profiles/{name}.
func (h *Handlers) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req profileRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	p := req.toProfile()
	if err := p.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if err := h.db.UpdateProfile(r.Context(), name, p); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "profile not found")
			return
		}
		h.writeInternalError(w, r, "failed to update profile", err)
		return
	}
	writeJSON(w, r, http.StatusOK, p)
}

// HandleDeleteProfile handles DELETE /api/profiles/{name}.
// Past run records referencing the profile stay untouched.
func (h *Handlers) HandleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.db.DeleteProfile(r.Context(), name); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "profile not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete profile", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}
