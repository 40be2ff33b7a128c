// Package store defines the persistence contract the measurement engine
// depends on, decoupling it from any one on-disk representation.
package store

import (
	"context"

	"github.com/riadafridishibly/sizew/internal/cacheentry"
)

// Store loads and saves a cache Index. Implementations decide their own
// on-disk representation; internal/cachefile implements the spec's binary
// format and internal/sqlitecache implements an alternate backend grounded
// on the teacher's sqlite-based cache.
type Store interface {
	// Load reads the persisted index. A missing or corrupt store is not an
	// error: implementations return an empty *cacheentry.Index instead.
	Load(ctx context.Context) (*cacheentry.Index, error)

	// Save writes idx back to persistent storage. recursive indicates
	// whether the scan that produced idx walked the whole subtree rooted
	// at idx.CurrentRoot; non-recursive scans must not prune entries they
	// did not have the authority to visit.
	Save(ctx context.Context, idx *cacheentry.Index, recursive bool) error
}
