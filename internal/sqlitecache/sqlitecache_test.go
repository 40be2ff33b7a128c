package sqlitecache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riadafridishibly/sizew/internal/cacheentry"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := &Store{Path: filepath.Join(t.TempDir(), "cache.db")}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadEmptyDatabaseYieldsEmptyIndex(t *testing.T) {
	s := newStore(t)
	idx, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	s := newStore(t)
	idx := cacheentry.NewIndex()
	idx.CurrentRoot = "/data/projects"
	now := time.Now().UTC().Truncate(time.Second)

	entry := &cacheentry.Entry{
		Version:         cacheentry.Version,
		OwnSizeBytes:    512,
		TotalSizeBytes:  2048,
		DirectoryLWTUTC: now,
		UpdatedUTC:      now,
		CheckRate:       0.45,
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
}

func TestSavePrunesUnvisitedDescendantsOnRecursiveScan(t *testing.T) {
	s := newStore(t)
	idx := cacheentry.NewIndex()
	idx.CurrentRoot = "/root"

	idx.InsertOrReplace("/root", &cacheentry.Entry{Visited: true})
	idx.InsertOrReplace("/root/kept", &cacheentry.Entry{Visited: true})
	idx.InsertOrReplace("/root/stale", &cacheentry.Entry{Visited: false})

	require.NoError(t, s.Save(context.Background(), idx, true))

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, loaded.Get("/root"))
	assert.NotNil(t, loaded.Get("/root/kept"))
	assert.Nil(t, loaded.Get("/root/stale"))
}

func TestUpsertOverwritesExistingRow(t *testing.T) {
	s := newStore(t)
	idx := cacheentry.NewIndex()
	idx.InsertOrReplace("/x", &cacheentry.Entry{OwnSizeBytes: 1, Visited: true})
	require.NoError(t, s.Save(context.Background(), idx, false))

	idx2 := cacheentry.NewIndex()
	idx2.InsertOrReplace("/x", &cacheentry.Entry{OwnSizeBytes: 2, Visited: true})
	require.NoError(t, s.Save(context.Background(), idx2, false))

	loaded, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())
	assert.EqualValues(t, 2, loaded.Get("/x").OwnSizeBytes)
}

func TestNanosToTimeZeroSentinelRoundTrips(t *testing.T) {
	assert.True(t, nanosToTime(0).IsZero())
	assert.Equal(t, int64(0), timeToNanos(time.Time{}))

	now := time.Now().UTC()
	assert.True(t, now.Equal(nanosToTime(timeToNanos(now))))
}
