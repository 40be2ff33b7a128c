// Package engine implements the measurement core of sizew: the recursive
// decision logic that fuses fresh disk enumeration with a persistent,
// per-directory cache to answer "how many bytes live under this directory"
// while skipping subtrees that provably have not changed.
package engine

import (
	"context"
	"math/rand"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/riadafridishibly/sizew/internal/cacheentry"
	"github.com/riadafridishibly/sizew/internal/fsprobe"
	"github.com/riadafridishibly/sizew/internal/store"
)

// LWTTolerance is the slack within which a directory's observed last-write
// time is still considered "unchanged" relative to its cached value.
const LWTTolerance = 5 * time.Second

const (
	growthFactor = 1.5
	shrinkFactor = 0.2
)

// checkRateEpsilon bounds the smallest CheckRate delta considered a real
// change for dirtying purposes (spec.md §4.3 "Writeback").
const checkRateEpsilon = 1e-6

// concurrencyFanoutThreshold is the minimum child-directory count at which
// the engine measures children concurrently instead of one at a time.
const concurrencyFanoutThreshold = 2

// RandFunc returns a uniform random value in [0, 1). It is the injectable
// randomness seam spec.md §9 calls for.
type RandFunc func() float64

// NowFunc returns the current UTC time. Injectable for deterministic tests.
type NowFunc func() time.Time

// Engine is the measurement core. It is safe for a single call to
// Measure to recurse concurrently across sibling subtrees; it is
// not safe to call Measure concurrently from two goroutines against
// the same *Engine (mirroring spec.md §5: one invocation, one Store, one
// scan root).
type Engine struct {
	Store store.Store
	Rand  RandFunc
	Now   NowFunc

	// LWTTolerance overrides LWTTolerance for this engine instance when
	// non-zero; callers that want the spec default leave it unset.
	LWTTolerance time.Duration
}

// New returns an Engine backed by s, with default randomness and clock
// sources.
func New(s store.Store) *Engine {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	var mu sync.Mutex
	return &Engine{
		Store: s,
		Rand: func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return src.Float64()
		},
		Now:          func() time.Time { return time.Now().UTC() },
		LWTTolerance: LWTTolerance,
	}
}

// Options are the flags measure_directory accepts, per spec.md §6.
type Options struct {
	Recursive   bool
	BypassCache bool
	Recalculate bool
}

// Measure loads the Store, runs the recursive decision core rooted at path,
// persists the Store if it was mutated, and returns the total byte count.
// Filesystem enumeration errors are absorbed and contribute zero; cache I/O
// errors are logged and never fail the call.
func (e *Engine) Measure(ctx context.Context, path string, opts Options) uint64 {
	absPath, err := filepath.Abs(path)
	if err != nil || path == "" {
		logrus.WithError(err).WithField("path", path).Warn("engine: invalid path")
		return 0
	}

	idx, err := e.Store.Load(ctx)
	if err != nil {
		logrus.WithError(err).Debug("engine: store load failed, proceeding with empty index")
		idx = cacheentry.NewIndex()
	}
	idx.CurrentRoot = cacheentry.NormalizePath(absPath)

	lwtTolerance := e.LWTTolerance
	if lwtTolerance == 0 {
		lwtTolerance = LWTTolerance
	}

	r := &run{
		idx:          idx,
		opts:         opts,
		now:          e.Now,
		rand:         e.Rand,
		lwtTolerance: lwtTolerance,
	}

	total := r.measure(absPath)

	if idx.IsDirty() {
		if err := e.Store.Save(ctx, idx, opts.Recursive); err != nil {
			logrus.WithError(err).Debug("engine: store save failed")
		}
	}

	return total
}

// run carries the state of a single Measure invocation: the flags
// it was called with plus the clock/randomness seams, so that measure can
// recurse without re-threading four parameters through every call.
type run struct {
	idx          *cacheentry.Index
	opts         Options
	now          NowFunc
	rand         RandFunc
	lwtTolerance time.Duration
}

// measure implements the decision table from spec.md §4.3 for one
// directory and, when recursion is chosen, for its whole subtree.
func (r *run) measure(path string) uint64 {
	key := cacheentry.NormalizePath(path)
	entry := r.idx.Get(key)

	lwtNow, lwtKnown := fsprobe.DirLWT(path)

	switch {
	case r.opts.BypassCache:
		return r.fullRecomputeNoWriteback(path)

	case !lwtKnown:
		// path cannot be statted (missing, permission denied, a concurrent
		// rename): contributes zero and the Store is left untouched,
		// whatever entry it held for this key before the call.
		return 0

	case r.opts.Recalculate:
		return r.fullRecompute(path, key, entry, lwtNow, lwtKnown)

	case entry != nil && lwtKnown && !entry.DirectoryLWTUTC.IsZero() &&
		absDuration(lwtNow.Sub(entry.DirectoryLWTUTC)) > r.lwtTolerance:
		r.idx.MarkDirty()
		return r.fullRecompute(path, key, entry, lwtNow, lwtKnown)

	case entry != nil && r.stabilityTestPasses(entry) && entry.TotalSizeBytes > 0 && r.opts.Recursive:
		entry.Visited = true
		return uint64(entry.TotalSizeBytes)

	case entry != nil && r.stabilityTestPasses(entry) && entry.TotalSizeBytes == 0:
		entry.Visited = true
		return r.shallowTrustRecurse(path, uint64(entry.OwnSizeBytes))

	default:
		return r.fullRecompute(path, key, entry, lwtNow, lwtKnown)
	}
}

// stabilityTestPasses implements spec.md §4.3's stability test: it passes
// (i.e. the engine trusts the cache) iff a freshly drawn uniform value is
// at least the entry's effective CheckRate.
func (r *run) stabilityTestPasses(e *cacheentry.Entry) bool {
	return r.rand() >= cacheentry.EffectiveCheckRate(e)
}

// fullRecomputeNoWriteback handles bypass_cache=true: own files plus
// recursive children, with the Store neither read nor written for this
// node (spec.md §4.3 decision table, row 1).
func (r *run) fullRecomputeNoWriteback(path string) uint64 {
	own := fsprobe.OwnFilesSize(path)
	if !r.opts.Recursive {
		return own
	}
	return own + r.sumChildren(path)
}

// shallowTrustRecurse reuses a cached own-size and still recurses into
// children (spec.md §4.3 decision table, row 5).
func (r *run) shallowTrustRecurse(path string, cachedOwn uint64) uint64 {
	if !r.opts.Recursive {
		return cachedOwn
	}
	return cachedOwn + r.sumChildren(path)
}

// fullRecompute computes own files fresh, recurses into children when the
// scan is recursive, and writes the result back to the Store.
func (r *run) fullRecompute(path, key string, prior *cacheentry.Entry, lwtNow time.Time, lwtKnown bool) uint64 {
	own := fsprobe.OwnFilesSize(path)

	var childTotal uint64
	if r.opts.Recursive {
		childTotal = r.sumChildren(path)
	}
	total := own + childTotal

	r.writeback(key, prior, own, total, lwtNow, lwtKnown)
	return total
}

// sumChildren measures every immediate subdirectory of path and sums their
// totals. Children are fanned out across a bounded worker pool when there
// is more than one of them, per SPEC_FULL.md §4.3. The fan-out itself uses
// errgroup.Group.SetLimit rather than a hand-rolled semaphore, matching how
// moby-moby's own disk-usage fan-out (daemon/disk_usage.go) bounds
// concurrent subtree work; measure itself never returns an error, so the
// group exists purely for its bounded, awaitable fan-out, not for error
// propagation.
func (r *run) sumChildren(path string) uint64 {
	children := fsprobe.ChildDirs(path)
	if len(children) == 0 {
		return 0
	}
	if len(children) < concurrencyFanoutThreshold {
		var total uint64
		for _, c := range children {
			total += r.measure(c)
		}
		return total
	}

	results := make([]uint64, len(children))
	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for i, c := range children {
		i, c := i, c
		eg.Go(func() error {
			results[i] = r.measure(c)
			return nil
		})
	}
	eg.Wait()

	var total uint64
	for _, v := range results {
		total += v
	}
	return total
}

// writeback applies spec.md §4.3's CheckRate adaptation and persists the
// recomputed entry, marking the index dirty on any observed field change.
func (r *run) writeback(key string, prior *cacheentry.Entry, own, total uint64, lwtNow time.Time, lwtKnown bool) {
	checkRate := cacheentry.EffectiveCheckRate(prior)

	changed := false
	switch {
	case prior == nil:
		changed = true
	case prior.OwnSizeBytes != int64(own):
		changed = true
	case prior.TotalSizeBytes > 0 && prior.TotalSizeBytes != int64(total):
		changed = true
	}

	if changed {
		checkRate = cacheentry.ClampCheckRate(checkRate * growthFactor)
	} else {
		checkRate = cacheentry.ClampCheckRate(checkRate * shrinkFactor)
	}

	effectiveLWT := lwtNow
	if !lwtKnown {
		effectiveLWT = r.now()
	}

	newEntry := &cacheentry.Entry{
		Version:         cacheentry.Version,
		OwnSizeBytes:    int64(own),
		TotalSizeBytes:  int64(total),
		DirectoryLWTUTC: effectiveLWT,
		UpdatedUTC:      r.now(),
		CheckRate:       checkRate,
		Visited:         true,
	}

	dirty := changed ||
		prior == nil ||
		prior.TotalSizeBytes != int64(total) ||
		absFloat(prior.CheckRate-checkRate) > checkRateEpsilon

	r.idx.InsertOrReplace(key, newEntry)
	if dirty {
		r.idx.MarkDirty()
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
