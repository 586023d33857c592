package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aerodocs/aipdeck/internal/docstore"
	"github.com/aerodocs/aipdeck/internal/model"
	"github.com/aerodocs/aipdeck/internal/storage"
)

// Updater is the orchestrator surface the handlers depend on.
type Updater interface {
	// Trigger starts a run; see update.Orchestrator.Trigger.
	Trigger(ctx context.Context, profile string) (uuid.UUID, error)
	// Running reports whether the run lock is currently held.
	Running() bool
	// TryAcquire/Release expose the run lock so maintenance operations can
	// exclude themselves from in-progress runs.
	TryAcquire() error
	Release()
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	docs                *docstore.Store
	updater             Updater
	broker              *Broker
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	Docs                *docstore.Store
	Updater             Updater
	Broker              *Broker
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		docs:                d.Docs,
		updater:             d.Updater,
		broker:              d.Broker,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// writeInternalError logs the underlying error and responds with a generic 500.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// HandleHealth handles GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		dbStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, model.HealthResponse{
		Status:   status,
		Version:  h.version,
		Database: dbStatus,
		Running:  h.updater.Running(),
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}
