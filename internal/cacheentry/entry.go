// Package cacheentry defines the per-directory cache record and the
// normalized-path index that the measurement engine consults.
package cacheentry

import (
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Version is the cache-entry format tag written into every persisted record.
const Version = 2

// MinCheckRate and MaxCheckRate bound CheckRate per spec.md §3.
const (
	MinCheckRate = 0.01
	MaxCheckRate = 1.0

	// DefaultCheckRate is used when an entry has never been scored before.
	DefaultCheckRate = 0.2
)

// Entry is one cache record, keyed by a normalized absolute directory path.
type Entry struct {
	Version         int32
	OwnSizeBytes    int64
	TotalSizeBytes  int64
	DirectoryLWTUTC time.Time
	UpdatedUTC      time.Time
	CheckRate       float64

	// Visited is set during the current invocation when the engine reaches
	// this entry. It is never serialized.
	Visited bool
}

// ClampCheckRate forces r into [MinCheckRate, MaxCheckRate].
func ClampCheckRate(r float64) float64 {
	if r < MinCheckRate {
		return MinCheckRate
	}
	if r > MaxCheckRate {
		return MaxCheckRate
	}
	return r
}

// EffectiveCheckRate returns e.CheckRate clamped, or DefaultCheckRate if e is nil.
func EffectiveCheckRate(e *Entry) float64 {
	if e == nil {
		return DefaultCheckRate
	}
	return ClampCheckRate(e.CheckRate)
}

// NormalizePath produces the index key for path: separators canonicalized
// to '/', trailing separators stripped, then case-folded for ASCII letters,
// so that Windows- and POSIX-produced cache files remain compatible with
// each other. Backslashes are replaced unconditionally, not via
// filepath.ToSlash, since that only rewrites the host OS's own separator
// and a cache built on Linux must still normalize Windows-style paths
// (and vice versa).
func NormalizePath(path string) string {
	p := strings.ReplaceAll(path, `\`, "/")
	p = strings.TrimRight(p, "/")
	return strings.ToLower(p)
}

// bucketOf returns a sharding hint for path, used only to keep the index's
// internal map small per shard on very large stores; it has no effect on
// observable behavior.
func bucketOf(normalized string) uint64 {
	return xxhash.Sum64String(normalized) & 0xff
}

// Index is the in-memory mapping from normalized absolute path to Entry.
// It is safe for concurrent use: the measurement engine may measure sibling
// subtrees concurrently within a single invocation.
type Index struct {
	mu      sync.RWMutex
	buckets [256]map[string]*Entry

	// CurrentRoot is the normalized root path of the active scan, used only
	// by the pruning step in package cachefile/sqlitecache.
	CurrentRoot string

	// Dirty is set whenever a measurement decision altered an entry.
	Dirty bool
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	idx := &Index{}
	for i := range idx.buckets {
		idx.buckets[i] = make(map[string]*Entry)
	}
	return idx
}

// Get returns the entry for path (already normalized by the caller via
// NormalizePath), or nil if absent.
func (idx *Index) Get(normalized string) *Entry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.buckets[bucketOf(normalized)][normalized]
}

// InsertOrReplace stores e under normalized, replacing any prior entry.
func (idx *Index) InsertOrReplace(normalized string, e *Entry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.buckets[bucketOf(normalized)][normalized] = e
}

// MarkDirty sets Dirty under the index's lock, for callers outside the
// Get/InsertOrReplace critical sections (e.g. the engine noticing a
// CheckRate-only change).
func (idx *Index) MarkDirty() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.Dirty = true
}

// IsDirty reports whether the index has been mutated since it was loaded.
func (idx *Index) IsDirty() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.Dirty
}

// Iter calls fn for every (normalizedPath, entry) pair currently in the
// index. fn must not call back into the Index.
func (idx *Index) Iter(fn func(normalized string, e *Entry)) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for _, bucket := range idx.buckets {
		for k, v := range bucket {
			fn(k, v)
		}
	}
}

// Len returns the number of entries currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, bucket := range idx.buckets {
		n += len(bucket)
	}
	return n
}
