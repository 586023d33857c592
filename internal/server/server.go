package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/aerodocs/aipdeck/internal/docstore"
	"github.com/aerodocs/aipdeck/internal/ratelimit"
	"github.com/aerodocs/aipdeck/internal/storage"
)

// Server is the aipdeck HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Limiter, UIFS.
type ServerConfig struct {
	// Required dependencies.
	DB      *storage.DB
	Docs    *docstore.Store
	Updater Updater
	Broker  *Broker
	Logger  *slog.Logger

	// Optional dependencies (nil = disabled).
	Limiter ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// Optional embedded UI filesystem (SPA).
	UIFS fs.FS
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                  cfg.DB,
		Docs:                cfg.Docs,
		Updater:             cfg.Updater,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Mutating endpoints are rate limited by client IP.
	mutateRL := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Profile management.
	mux.HandleFunc("GET /api/profiles", h.HandleListProfiles)
	mux.Handle("POST /api/profiles", mutateRL(http.HandlerFunc(h.HandleCreateProfile)))
	mux.Handle("PUT /api/profiles/{name}", mutateRL(http.HandlerFunc(h.HandleUpdateProfile)))
	mux.Handle("DELETE /api/profiles/{name}", mutateRL(http.HandlerFunc(h.HandleDeleteProfile)))

	// Update runs.
	mux.Handle("POST /api/update/run", mutateRL(http.HandlerFunc(h.HandleTriggerUpdate)))
	mux.HandleFunc("GET /api/runs", h.HandleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", h.HandleGetRun)

	// Live progress (no rate limit — long-lived connection).
	mux.HandleFunc("GET /api/update/progress", h.HandleProgress)

	// Generated documents.
	mux.HandleFunc("GET /api/documents", h.HandleListDocuments)
	mux.HandleFunc("GET /api/documents/{profile}/{filename}", h.HandleDownloadDocument)
	mux.Handle("DELETE /api/documents/{profile}/{filename}", mutateRL(http.HandlerFunc(h.HandleDeleteDocument)))

	// Maintenance.
	mux.Handle("POST /api/cleanup", mutateRL(http.HandlerFunc(h.HandleCleanup)))

	// Health (no rate limit).
	mux.HandleFunc("GET /api/health", h.HandleHealth)

	// SPA: serve the embedded UI at the root path.
	// Registered last so all API routes take priority via the mux's longest-match rule.
	if cfg.UIFS != nil {
		mux.Handle("/", newSPAHandler(cfg.UIFS))
		cfg.Logger.Info("ui enabled, serving SPA at /")
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
