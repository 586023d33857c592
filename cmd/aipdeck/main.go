package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/aerodocs/aipdeck/internal/aiptool"
	"github.com/aerodocs/aipdeck/internal/config"
	"github.com/aerodocs/aipdeck/internal/docstore"
	"github.com/aerodocs/aipdeck/internal/ratelimit"
	"github.com/aerodocs/aipdeck/internal/scheduler"
	"github.com/aerodocs/aipdeck/internal/server"
	"github.com/aerodocs/aipdeck/internal/storage"
	"github.com/aerodocs/aipdeck/internal/telemetry"
	"github.com/aerodocs/aipdeck/internal/update"
	"github.com/aerodocs/aipdeck/ui"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("AIPDECK_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("aipdeck starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Open the run database. The embedded schema is applied on open.
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	db, err := storage.New(ctx, cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer func() { _ = db.Close() }()

	// Prepare the output and cache directory tree, including a directory per
	// existing profile so generated PDFs have a home before the first run.
	docs := docstore.New(cfg.OutputDir, cfg.CacheDir, uint64(cfg.MinFreeSpaceMB)*1024*1024, logger)
	if err := docs.EnsureDirs(); err != nil {
		return fmt.Errorf("docstore: %w", err)
	}
	profiles, err := db.ListProfiles(ctx)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	for _, p := range profiles {
		if err := docs.EnsureProfileDir(p.Name); err != nil {
			logger.Warn("profile dir create failed", "profile", p.Name, "error", err)
		}
	}

	// External tool adapter.
	tool := aiptool.NewCLI(cfg.PythonBin, cfg.AIPScript, cfg.OCRBin, cfg.CacheDir, cfg.OCRJobs, logger)

	// SSE broker and update orchestrator.
	broker := server.NewBroker(logger)
	orch := update.New(db, docs, tool, broker, logger)

	// Load embedded UI filesystem (non-nil only when built with -tags ui).
	uiFS, err := ui.DistFS()
	if err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	if uiFS != nil {
		logger.Info("ui: embedded SPA loaded")
	}

	// Create rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitPerMinute)/60.0, cfg.RateLimitPerMinute)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"per_minute", cfg.RateLimitPerMinute)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Create the HTTP server.
	srv := server.New(server.ServerConfig{
		DB:                  db,
		Docs:                docs,
		Updater:             orch,
		Broker:              broker,
		Logger:              logger,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		UIFS:                uiFS,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.AutoUpdateEnabled {
		sched := scheduler.New(orch, cfg.AutoUpdateHour, cfg.AutoUpdateMinute, logger)
		g.Go(func() error {
			return sched.Run(gctx)
		})
		logger.Info("scheduler enabled", "hour", cfg.AutoUpdateHour, "minute", cfg.AutoUpdateMinute)
	}

	// Shut the HTTP server down when the signal context or any goroutine fails.
	g.Go(func() error {
		<-gctx.Done()

		slog.Info("aipdeck shutting down")
		httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer httpCancel()
		if err := srv.Shutdown(httpCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}

		// An in-flight update keeps writing to the database and output tree;
		// let it finish before closing the store.
		orch.Wait()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("aipdeck stopped")
	return nil
}
