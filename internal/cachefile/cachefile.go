// Package cachefile implements the spec's binary cache file format: a
// versioned header followed by one fixed-layout record per cached
// directory, little-endian regardless of host, with pruning of entries
// that a recursive scan proves no longer exist.
package cachefile

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/riadafridishibly/sizew/internal/cacheentry"
)

// Magic and Version identify the on-disk format. An unrecognized magic or
// version causes the loader to treat the file as empty; no migration is
// attempted (spec.md §4.4, §6).
const (
	Magic   uint32 = 0x315A4353 // 'S' 'C' 'Z' '1' read little-endian
	Version int32  = 2
)

// ticksPerSecond is the tick resolution (100ns units) the wire format uses.
const ticksPerSecond = 10_000_000

// unixToTicksOffset is the number of ticks between 0001-01-01T00:00:00Z and
// the Unix epoch, i.e. time.Time{}'s tick value is 0.
const unixToTicksOffset = 621355968000000000

// FileStore is the default store.Store implementation: a single binary
// file under a per-user cache directory.
type FileStore struct {
	// Path is the cache file location. Use DefaultPath to compute the
	// spec-mandated <local-app-data>/sizew/cache.bin location with an
	// executable-adjacent fallback.
	Path string
}

// DefaultPath returns the standard cache file location: a per-user cache
// directory's "sizew/cache.bin" subpath, falling back to a path next to
// the running executable if that directory cannot be created.
func DefaultPath() string {
	base, err := os.UserCacheDir()
	if err == nil {
		dir := filepath.Join(base, "sizew")
		if mkErr := os.MkdirAll(dir, 0o755); mkErr == nil {
			return filepath.Join(dir, "cache.bin")
		}
	}

	exe, err := os.Executable()
	if err != nil {
		return "cache.bin"
	}
	return filepath.Join(filepath.Dir(exe), "sizew-cache.bin")
}

// Load reads the cache file at s.Path. A missing file, a truncated file,
// or a bad magic/version all yield an empty index rather than an error,
// per spec.md §4.4 and §7's "cache I/O errors are absorbed" rule.
func (s *FileStore) Load(_ context.Context) (*cacheentry.Index, error) {
	idx := cacheentry.NewIndex()

	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		logrus.WithError(err).WithField("path", s.Path).Debug("cachefile: open failed")
		return idx, nil
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var magic uint32
	var version int32
	var count int32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return idx, nil
	}
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return idx, nil
	}
	if magic != Magic || version != Version {
		logrus.WithFields(logrus.Fields{"magic": magic, "version": version}).
			Debug("cachefile: unrecognized header, starting empty")
		return idx, nil
	}
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return idx, nil
	}

	for i := int32(0); i < count; i++ {
		path, entry, err := readRecord(r)
		if err != nil {
			logrus.WithError(err).WithField("record", i).Debug("cachefile: truncated record, starting empty")
			return cacheentry.NewIndex(), nil
		}
		idx.InsertOrReplace(cacheentry.NormalizePath(path), entry)
	}

	return idx, nil
}

// Save writes idx to s.Path, pruning entries per spec.md §4.4: an entry is
// dropped iff the scan was recursive, the entry's key is idx.CurrentRoot or
// a path-component descendant of it, and the entry was not visited this
// run.
func (s *FileStore) Save(_ context.Context, idx *cacheentry.Index, recursive bool) error {
	var records []record
	idx.Iter(func(normalized string, e *cacheentry.Entry) {
		if shouldPrune(normalized, idx.CurrentRoot, recursive, e.Visited) {
			return
		}
		records = append(records, record{path: normalized, entry: e})
	})

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, Magic); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, Version); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, int32(len(records))); err != nil {
		return err
	}
	for _, rec := range records {
		if err := writeRecord(&buf, rec.path, rec.entry); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		logrus.WithError(err).WithField("path", s.Path).Debug("cachefile: mkdir failed")
		return nil
	}

	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		logrus.WithError(err).WithField("path", s.Path).Debug("cachefile: write failed")
		return nil
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		logrus.WithError(err).WithField("path", s.Path).Debug("cachefile: rename failed")
		return nil
	}
	return nil
}

// shouldPrune implements spec.md §4.4's pruning predicate using
// path-component comparison, not a bare string prefix: "/foo/bar" is not a
// descendant of "/foo/ba".
func shouldPrune(key, currentRoot string, recursive, visited bool) bool {
	if !recursive || visited {
		return false
	}
	return isAtOrBeneath(key, currentRoot)
}

func isAtOrBeneath(key, root string) bool {
	if root == "" {
		return false
	}
	if key == root {
		return true
	}
	if !strings.HasPrefix(key, root) {
		return false
	}
	return key[len(root)] == '/' || key[len(root)] == '\\'
}

type record struct {
	path  string
	entry *cacheentry.Entry
}

func writeRecord(w io.Writer, path string, e *cacheentry.Entry) error {
	pathBytes := []byte(path)
	if len(pathBytes) == 0 {
		return fmt.Errorf("cachefile: empty path in record")
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(pathBytes))); err != nil {
		return err
	}
	if _, err := w.Write(pathBytes); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.OwnSizeBytes); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, e.TotalSizeBytes); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, timeToTicks(e.DirectoryLWTUTC)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, timeToTicks(e.UpdatedUTC)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, e.CheckRate)
}

func readRecord(r io.Reader) (string, *cacheentry.Entry, error) {
	var pathLen int32
	if err := binary.Read(r, binary.LittleEndian, &pathLen); err != nil {
		return "", nil, err
	}
	if pathLen <= 0 {
		return "", nil, fmt.Errorf("cachefile: invalid path length %d", pathLen)
	}
	pathBytes := make([]byte, pathLen)
	if _, err := io.ReadFull(r, pathBytes); err != nil {
		return "", nil, err
	}

	e := &cacheentry.Entry{Version: cacheentry.Version}
	if err := binary.Read(r, binary.LittleEndian, &e.OwnSizeBytes); err != nil {
		return "", nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &e.TotalSizeBytes); err != nil {
		return "", nil, err
	}
	var lwtTicks, updatedTicks int64
	if err := binary.Read(r, binary.LittleEndian, &lwtTicks); err != nil {
		return "", nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &updatedTicks); err != nil {
		return "", nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, &e.CheckRate); err != nil {
		return "", nil, err
	}
	e.DirectoryLWTUTC = ticksToTime(lwtTicks)
	e.UpdatedUTC = ticksToTime(updatedTicks)

	return string(pathBytes), e, nil
}

// timeToTicks converts t to ticks (100ns units since 0001-01-01 UTC), the
// wire format's timestamp unit per spec.md §6. The zero time.Time maps to
// tick 0, matching the "sentinel minimum" spec.md §3 describes for an
// unknown last-write time.
func timeToTicks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return unixToTicksOffset + t.UnixNano()/100
}

// ticksToTime is timeToTicks's inverse. Tick 0 maps back to the zero
// time.Time, preserving the sentinel round-trip.
func ticksToTime(ticks int64) time.Time {
	if ticks == 0 {
		return time.Time{}
	}
	return time.Unix(0, (ticks-unixToTicksOffset)*100).UTC()
}
