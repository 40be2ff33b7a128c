package cachefile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riadafridishibly/sizew/internal/cacheentry"
)

func newStore(t *testing.T) *FileStore {
	t.Helper()
	return &FileStore{Path: filepath.Join(t.TempDir(), "cache.bin")}
}

func TestLoadMissingFileYieldsEmptyIndex(t *testing.T) {
	s := newStore(t)
	idx, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := newStore(t)
	idx := cacheentry.NewIndex()
	idx.CurrentRoot = cacheentry.NormalizePath("/data/projects")
	now := time.Now().UTC().Truncate(time.Microsecond)

	entry := &cacheentry.Entry{
		Version:         cacheentry.Version,
		OwnSizeBytes:    1024,
		TotalSizeBytes:  4096,
		DirectoryLWTUTC: now,
		UpdatedUTC:      now,
		CheckRate:       0.3,
		Visited:         true,
	}
	idx.InsertOrReplace("/data/projects", entry)

	require.NoError(t, s.Save(context.Background(), idx, true))

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())

	got := loaded.Get("/data/projects")
	require.NotNil(t, got)
	assert.Equal(t, entry.OwnSizeBytes, got.OwnSizeBytes)
	assert.Equal(t, entry.TotalSizeBytes, got.TotalSizeBytes)
	assert.Equal(t, entry.CheckRate, got.CheckRate)
	assert.True(t, entry.DirectoryLWTUTC.Equal(got.DirectoryLWTUTC))
	assert.True(t, entry.UpdatedUTC.Equal(got.UpdatedUTC))
}

func TestLoadRejectsBadMagicOrVersion(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(s.Path, []byte{0xde, 0xad, 0xbe, 0xef, 1, 0, 0, 0, 0, 0, 0, 0}, 0o644))

	idx, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestSavePrunesUnvisitedDescendantsOnRecursiveScan(t *testing.T) {
	s := newStore(t)
	idx := cacheentry.NewIndex()
	idx.CurrentRoot = "/root"

	idx.InsertOrReplace("/root", &cacheentry.Entry{Visited: true})
	idx.InsertOrReplace("/root/kept", &cacheentry.Entry{Visited: true})
	idx.InsertOrReplace("/root/stale", &cacheentry.Entry{Visited: false})
	idx.InsertOrReplace("/rootless/unrelated", &cacheentry.Entry{Visited: false})

	require.NoError(t, s.Save(context.Background(), idx, true))

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.NotNil(t, loaded.Get("/root"))
	assert.NotNil(t, loaded.Get("/root/kept"))
	assert.Nil(t, loaded.Get("/root/stale"))
	assert.NotNil(t, loaded.Get("/rootless/unrelated"))
}

func TestSaveKeepsUnvisitedEntriesOnNonRecursiveScan(t *testing.T) {
	s := newStore(t)
	idx := cacheentry.NewIndex()
	idx.CurrentRoot = "/root"
	idx.InsertOrReplace("/root/stale", &cacheentry.Entry{Visited: false})

	require.NoError(t, s.Save(context.Background(), idx, false))

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, loaded.Get("/root/stale"))
}

func TestIsAtOrBeneathDoesNotMatchOnStringPrefixAlone(t *testing.T) {
	assert.True(t, isAtOrBeneath("/foo/bar", "/foo"))
	assert.True(t, isAtOrBeneath("/foo", "/foo"))
	assert.False(t, isAtOrBeneath("/foobar", "/foo"))
	assert.False(t, isAtOrBeneath("/fo", "/foo"))
}

func TestTicksRoundTripThroughZeroSentinel(t *testing.T) {
	assert.Equal(t, int64(0), timeToTicks(time.Time{}))
	assert.True(t, ticksToTime(0).IsZero())

	now := time.Now().UTC().Truncate(100 * time.Nanosecond)
	assert.True(t, now.Equal(ticksToTime(timeToTicks(now))))
}
