// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Directory layout. OutputDir and CacheDir are shared with the external
	// tool; DataDir holds aipdeck's own state (sqlite database).
	DataDir   string
	OutputDir string
	CacheDir  string
	DBPath    string // Defaults to <DataDir>/aipdeck.db when empty.

	// External tool invocation.
	PythonBin string
	AIPScript string
	OCRBin    string
	OCRJobs   int

	// Scheduled updates (daily, UTC).
	AutoUpdateEnabled bool
	AutoUpdateHour    int
	AutoUpdateMinute  int

	// Minimum free disk space on the output filesystem before a run starts.
	MinFreeSpaceMB int64

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
	RateLimitPerMinute  int // 0 disables rate limiting.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("AIPDECK_PORT", 8080),
		ReadTimeout:         envDuration("AIPDECK_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("AIPDECK_WRITE_TIMEOUT", 30*time.Second),
		DataDir:             envStr("AIPDECK_DATA_DIR", "/app/data"),
		OutputDir:           envStr("AIPDECK_OUTPUT_DIR", "/app/output"),
		CacheDir:            envStr("AIPDECK_CACHE_DIR", "/app/cache"),
		DBPath:              envStr("AIPDECK_DB_PATH", ""),
		PythonBin:           envStr("AIPDECK_PYTHON_BIN", "python3"),
		AIPScript:           envStr("AIPDECK_AIP_SCRIPT", "/app/aip.py"),
		OCRBin:              envStr("AIPDECK_OCR_BIN", "ocrmypdf"),
		OCRJobs:             envInt("AIPDECK_OCR_JOBS", defaultOCRJobs()),
		AutoUpdateEnabled:   envBool("AIPDECK_AUTO_UPDATE", false),
		AutoUpdateHour:      envInt("AIPDECK_AUTO_UPDATE_HOUR", 2),
		AutoUpdateMinute:    envInt("AIPDECK_AUTO_UPDATE_MINUTE", 0),
		MinFreeSpaceMB:      int64(envInt("AIPDECK_MIN_FREE_SPACE_MB", 1024)),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("AIPDECK_OTEL_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "aipdeck"),
		LogLevel:            envStr("AIPDECK_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("AIPDECK_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
		RateLimitPerMinute:  envInt("AIPDECK_RATE_LIMIT_PER_MINUTE", 120),
	}

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "aipdeck.db")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and in range.
func (c Config) Validate() error {
	if c.DataDir == "" || c.OutputDir == "" || c.CacheDir == "" {
		return fmt.Errorf("config: AIPDECK_DATA_DIR, AIPDECK_OUTPUT_DIR, and AIPDECK_CACHE_DIR are required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: AIPDECK_PORT must be in [1, 65535]")
	}
	if c.AutoUpdateHour < 0 || c.AutoUpdateHour > 23 {
		return fmt.Errorf("config: AIPDECK_AUTO_UPDATE_HOUR must be in [0, 23]")
	}
	if c.AutoUpdateMinute < 0 || c.AutoUpdateMinute > 59 {
		return fmt.Errorf("config: AIPDECK_AUTO_UPDATE_MINUTE must be in [0, 59]")
	}
	if c.OCRJobs < 1 {
		return fmt.Errorf("config: AIPDECK_OCR_JOBS must be positive")
	}
	if c.MinFreeSpaceMB < 0 {
		return fmt.Errorf("config: AIPDECK_MIN_FREE_SPACE_MB must not be negative")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: AIPDECK_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

// defaultOCRJobs mirrors the ocrmypdf guidance of using about half the cores.
func defaultOCRJobs() int {
	n := runtime.NumCPU() / 2
	if n < 2 {
		n = 2
	}
	return n
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
