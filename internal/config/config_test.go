package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultUsesFileBackend(t *testing.T) {
	cfg := Default()
	assert.Equal(t, BackendFile, cfg.CacheBackend)
	assert.Empty(t, cfg.CachePath)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	t.Setenv("SIZEW_CACHE_BACKEND", "sqlite")
	t.Setenv("SIZEW_CACHE_PATH", "/tmp/sizew-test.db")
	t.Setenv("SIZEW_LWT_TOLERANCE_SECONDS", "30")

	cfg := Load()
	assert.Equal(t, BackendSQLite, cfg.CacheBackend)
	assert.Equal(t, "/tmp/sizew-test.db", cfg.CachePath)
	assert.Equal(t, 30*time.Second, cfg.LWTTolerance)
}

func TestLoadIgnoresUnknownBackend(t *testing.T) {
	t.Setenv("SIZEW_CACHE_BACKEND", "not-a-backend")
	cfg := Load()
	assert.Equal(t, BackendFile, cfg.CacheBackend)
}

func TestLoadIgnoresInvalidTolerance(t *testing.T) {
	t.Setenv("SIZEW_LWT_TOLERANCE_SECONDS", "not-a-number")
	cfg := Load()
	assert.Equal(t, Default().LWTTolerance, cfg.LWTTolerance)
}

func TestLoadIgnoresNegativeTolerance(t *testing.T) {
	t.Setenv("SIZEW_LWT_TOLERANCE_SECONDS", "-5")
	cfg := Load()
	assert.Equal(t, Default().LWTTolerance, cfg.LWTTolerance)
}
