// Package sqlitecache is an alternate store.Store backend: the same
// CacheEntry rows the binary format persists, kept instead in a small
// SQLite database. It is adapted from the teacher's node_modules cache
// (which kept path/size/mtime rows in SQLite) to the engine's richer
// per-directory record.
package sqlitecache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sirupsen/logrus"

	"github.com/riadafridishibly/sizew/internal/cacheentry"
)

const schema = `
CREATE TABLE IF NOT EXISTS directories (
	path              TEXT PRIMARY KEY,
	own_size_bytes    INTEGER NOT NULL,
	total_size_bytes  INTEGER NOT NULL,
	directory_lwt_utc INTEGER NOT NULL,
	updated_utc       INTEGER NOT NULL,
	check_rate        REAL NOT NULL
);
`

// Store is a store.Store backed by a SQLite database file.
type Store struct {
	Path string

	db *sql.DB
}

// DefaultPath returns the standard SQLite cache file location, mirroring
// cachefile.DefaultPath but with a ".db" suffix so the two backends never
// collide on disk.
func DefaultPath() string {
	base, err := os.UserCacheDir()
	if err == nil {
		dir := filepath.Join(base, "sizew")
		if mkErr := os.MkdirAll(dir, 0o755); mkErr == nil {
			return filepath.Join(dir, "cache.db")
		}
	}
	exe, err := os.Executable()
	if err != nil {
		return "cache.db"
	}
	return filepath.Join(filepath.Dir(exe), "sizew-cache.db")
}

func (s *Store) open() (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlitecache: create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", s.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlitecache: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.Exec(`PRAGMA journal_mode=WAL;`)
	db.Exec(`PRAGMA synchronous=NORMAL;`)
	db.Exec(`PRAGMA busy_timeout=5000;`)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitecache: create schema: %w", err)
	}
	s.db = db
	return db, nil
}

// Load reads every row into a fresh Index. Any failure to open or query the
// database yields an empty index, matching the binary backend's "absorb
// cache I/O errors" contract (spec.md §7).
func (s *Store) Load(ctx context.Context) (*cacheentry.Index, error) {
	idx := cacheentry.NewIndex()

	db, err := s.open()
	if err != nil {
		logrus.WithError(err).Debug("sqlitecache: open failed, starting empty")
		return idx, nil
	}

	rows, err := db.QueryContext(ctx, `SELECT path, own_size_bytes, total_size_bytes, directory_lwt_utc, updated_utc, check_rate FROM directories`)
	if err != nil {
		logrus.WithError(err).Debug("sqlitecache: query failed, starting empty")
		return idx, nil
	}
	defer rows.Close()

	for rows.Next() {
		var path string
		e := &cacheentry.Entry{Version: cacheentry.Version}
		var lwtNanos, updatedNanos int64
		if err := rows.Scan(&path, &e.OwnSizeBytes, &e.TotalSizeBytes, &lwtNanos, &updatedNanos, &e.CheckRate); err != nil {
			logrus.WithError(err).Debug("sqlitecache: scan failed, skipping row")
			continue
		}
		e.DirectoryLWTUTC = nanosToTime(lwtNanos)
		e.UpdatedUTC = nanosToTime(updatedNanos)
		idx.InsertOrReplace(cacheentry.NormalizePath(path), e)
	}

	return idx, nil
}

// Save upserts every surviving entry and deletes pruned ones in a single
// transaction, applying spec.md §4.4's pruning predicate.
func (s *Store) Save(ctx context.Context, idx *cacheentry.Index, recursive bool) error {
	db, err := s.open()
	if err != nil {
		logrus.WithError(err).Debug("sqlitecache: open failed, skipping save")
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		logrus.WithError(err).Debug("sqlitecache: begin transaction failed")
		return nil
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO directories (path, own_size_bytes, total_size_bytes, directory_lwt_utc, updated_utc, check_rate)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			own_size_bytes = excluded.own_size_bytes,
			total_size_bytes = excluded.total_size_bytes,
			directory_lwt_utc = excluded.directory_lwt_utc,
			updated_utc = excluded.updated_utc,
			check_rate = excluded.check_rate
	`)
	if err != nil {
		logrus.WithError(err).Debug("sqlitecache: prepare upsert failed")
		return nil
	}
	defer upsert.Close()

	del, err := tx.PrepareContext(ctx, `DELETE FROM directories WHERE path = ?`)
	if err != nil {
		logrus.WithError(err).Debug("sqlitecache: prepare delete failed")
		return nil
	}
	defer del.Close()

	idx.Iter(func(normalized string, e *cacheentry.Entry) {
		if shouldPrune(normalized, idx.CurrentRoot, recursive, e.Visited) {
			if _, err := del.ExecContext(ctx, normalized); err != nil {
				logrus.WithError(err).WithField("path", normalized).Debug("sqlitecache: delete failed")
			}
			return
		}
		if _, err := upsert.ExecContext(ctx, normalized, e.OwnSizeBytes, e.TotalSizeBytes,
			timeToNanos(e.DirectoryLWTUTC), timeToNanos(e.UpdatedUTC), e.CheckRate); err != nil {
			logrus.WithError(err).WithField("path", normalized).Debug("sqlitecache: upsert failed")
		}
	})

	if err := tx.Commit(); err != nil {
		logrus.WithError(err).Debug("sqlitecache: commit failed")
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// shouldPrune mirrors internal/cachefile.shouldPrune; duplicated rather than
// shared because the two backends' key representations (file-normalized
// path vs. SQLite TEXT primary key) are allowed to diverge independently.
func shouldPrune(key, currentRoot string, recursive, visited bool) bool {
	if !recursive || visited {
		return false
	}
	if currentRoot == "" {
		return false
	}
	if key == currentRoot {
		return true
	}
	if len(key) <= len(currentRoot) || key[:len(currentRoot)] != currentRoot {
		return false
	}
	return key[len(currentRoot)] == '/' || key[len(currentRoot)] == '\\'
}

func nanosToTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func timeToNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
