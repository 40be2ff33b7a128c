// Package config resolves sizew's tunables: cache backend selection, cache
// file location, and the engine's LWT tolerance. The check-rate bounds and
// default are exposed read-only; the default check rate and the
// growth/shrink factors are not configurable here.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/riadafridishibly/sizew/internal/cacheentry"
	"github.com/riadafridishibly/sizew/internal/engine"
)

// Backend names the Store implementation to use.
type Backend string

const (
	BackendFile   Backend = "file"
	BackendSQLite Backend = "sqlite"
)

// Config is sizew's resolved runtime configuration, grounded on the
// teacher's small typed Config struct (tui/config.go) generalized from a
// display-only concern to the engine's own tunables.
type Config struct {
	CacheBackend Backend       `json:"cache_backend"`
	CachePath    string        `json:"cache_path"` // empty means "use the backend's default"
	LWTTolerance time.Duration `json:"lwt_tolerance"`
}

// Default returns sizew's built-in defaults before environment overrides.
func Default() Config {
	return Config{
		CacheBackend: BackendFile,
		CachePath:    "",
		LWTTolerance: engine.LWTTolerance,
	}
}

// Load resolves Config from defaults overridden by environment variables.
// It never fails: an invalid environment value is silently ignored and the
// default is kept, matching spec.md's "absorb, don't abort"
// error philosophy.
func Load() Config {
	cfg := Default()

	if v := os.Getenv("SIZEW_CACHE_BACKEND"); v != "" {
		switch Backend(v) {
		case BackendFile, BackendSQLite:
			cfg.CacheBackend = Backend(v)
		}
	}

	if v := os.Getenv("SIZEW_CACHE_PATH"); v != "" {
		cfg.CachePath = v
	}

	if v := os.Getenv("SIZEW_LWT_TOLERANCE_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			cfg.LWTTolerance = time.Duration(secs) * time.Second
		}
	}

	return cfg
}

// EntryDefaults exposes the cacheentry package's check-rate bounds so
// callers configuring the engine don't need to import cacheentry directly
// just to read a constant.
var EntryDefaults = struct {
	Min, Max, Default float64
}{
	Min:     cacheentry.MinCheckRate,
	Max:     cacheentry.MaxCheckRate,
	Default: cacheentry.DefaultCheckRate,
}
