package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "/app/data", cfg.DataDir)
	assert.Equal(t, "/app/output", cfg.OutputDir)
	assert.Equal(t, "/app/cache", cfg.CacheDir)
	assert.Equal(t, "/app/data/aipdeck.db", cfg.DBPath)
	assert.Equal(t, "python3", cfg.PythonBin)
	assert.Equal(t, "ocrmypdf", cfg.OCRBin)
	assert.False(t, cfg.AutoUpdateEnabled)
	assert.Equal(t, 2, cfg.AutoUpdateHour)
	assert.Equal(t, 0, cfg.AutoUpdateMinute)
	assert.EqualValues(t, 1024, cfg.MinFreeSpaceMB)
	assert.EqualValues(t, 1*1024*1024, cfg.MaxRequestBodyBytes)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
	assert.GreaterOrEqual(t, cfg.OCRJobs, 2)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AIPDECK_PORT", "9090")
	t.Setenv("AIPDECK_DATA_DIR", "/srv/aipdeck")
	t.Setenv("AIPDECK_DB_PATH", "/srv/state.db")
	t.Setenv("AIPDECK_READ_TIMEOUT", "5s")
	t.Setenv("AIPDECK_AUTO_UPDATE", "true")
	t.Setenv("AIPDECK_AUTO_UPDATE_HOUR", "23")
	t.Setenv("AIPDECK_RATE_LIMIT_PER_MINUTE", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/srv/aipdeck", cfg.DataDir)
	assert.Equal(t, "/srv/state.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.ReadTimeout)
	assert.True(t, cfg.AutoUpdateEnabled)
	assert.Equal(t, 23, cfg.AutoUpdateHour)
	assert.Equal(t, 0, cfg.RateLimitPerMinute)
}

func TestLoadDBPathDefaultFollowsDataDir(t *testing.T) {
	t.Setenv("AIPDECK_DATA_DIR", "/var/lib/aipdeck")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/aipdeck/aipdeck.db", cfg.DBPath)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"port out of range", "AIPDECK_PORT", "70000"},
		{"negative hour", "AIPDECK_AUTO_UPDATE_HOUR", "-1"},
		{"hour too large", "AIPDECK_AUTO_UPDATE_HOUR", "24"},
		{"minute too large", "AIPDECK_AUTO_UPDATE_MINUTE", "60"},
		{"ocr jobs zero", "AIPDECK_OCR_JOBS", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
