// Package fsprobe implements the stateless, single-level filesystem
// operations the measurement engine builds on: a directory's own last-write
// time, the summed size of its immediate files, and its immediate
// subdirectories (reparse points excluded).
package fsprobe

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/sirupsen/logrus"
)

// DirLWT returns path's own last-write time in UTC. Any error (permission,
// not-found, a concurrent rename) is absorbed: the zero Time and ok=false
// are returned instead of propagating the error, matching spec.md §4.1's
// "not fatal" contract.
func DirLWT(path string) (t time.Time, ok bool) {
	info, err := os.Lstat(path)
	if err != nil {
		logrus.WithError(err).WithField("path", path).Debug("fsprobe: dir_lwt failed")
		return time.Time{}, false
	}
	return info.ModTime().UTC(), true
}

// concurrentListThreshold is the immediate-entry count at which OwnFilesSize
// switches from a sequential ReadDir+stat pass to WalkOwnFilesConcurrent's
// fastwalk-backed worker pool. Var, not const, so tests can exercise the
// concurrent path without creating thousands of files.
var concurrentListThreshold = 256

// OwnFilesSize sums the length of every regular file directly inside path,
// without recursing into subdirectories. Per-file stat errors contribute
// zero for that file; a failure to open path itself returns 0, not an
// error, per spec.md §4.1. Directories with at least concurrentListThreshold
// immediate entries are listed with WalkOwnFilesConcurrent instead, so that
// very wide directories are stat'd in parallel rather than one at a time.
func OwnFilesSize(path string) uint64 {
	entries, err := os.ReadDir(path)
	if err != nil {
		logrus.WithError(err).WithField("path", path).Debug("fsprobe: own_files_size failed to list directory")
		return 0
	}
	if len(entries) >= concurrentListThreshold {
		return WalkOwnFilesConcurrent(path)
	}

	var total uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			// A symlinked file is not a "regular file"; skip it the same
			// way child_dirs skips symlinked directories.
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		total += uint64(info.Size())
	}
	return total
}

// ChildDirs returns the absolute paths of path's immediate subdirectories.
// Entries that are reparse points (symlinks, junctions, mount points on
// Windows) are omitted to prevent cycles and double-counting. Enumeration
// errors yield an empty slice, never an error.
func ChildDirs(path string) []string {
	entries, err := os.ReadDir(path)
	if err != nil {
		logrus.WithError(err).WithField("path", path).Debug("fsprobe: child_dirs failed to list directory")
		return nil
	}

	children := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type()&fs.ModeSymlink != 0 {
			continue
		}
		if !entry.IsDir() {
			continue
		}
		children = append(children, filepath.Join(path, entry.Name()))
	}
	return children
}

// WalkOwnFilesConcurrent is OwnFilesSize's fan-out variant: for directories
// at or above concurrentListThreshold it uses fastwalk's worker pool
// instead of a single ReadDir+stat pass, grounded on the teacher's
// scanner.go use of fastwalk.Config{NumWorkers: runtime.NumCPU()}.
func WalkOwnFilesConcurrent(path string) uint64 {
	var total uint64
	conf := fastwalk.Config{Follow: false, NumWorkers: runtime.GOMAXPROCS(0)}

	_ = fastwalk.Walk(&conf, path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == path {
			return nil
		}
		if d.IsDir() {
			return fastwalk.SkipDir
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		info, err := d.Info()
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		total += uint64(info.Size())
		return nil
	})
	return total
}
