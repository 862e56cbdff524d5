// Package engine owns the retention data: it loads the four collections
// from a data source, keeps the last complete snapshot and lazily derives
// the retained releases from it.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/artpar/retainer/internal/core/domain"
	"github.com/artpar/retainer/internal/core/retention"
	"github.com/artpar/retainer/internal/shell/source"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// StaleAfter is the age after which reads report the data as outdated.
// Stale data is still served.
const StaleAfter = 5 * time.Second

// cacheState tracks whether the retained mapping matches the snapshot.
type cacheState int

const (
	cacheDirty cacheState = iota
	cacheFresh
)

func (s cacheState) String() string {
	if s == cacheFresh {
		return "fresh"
	}
	return "dirty"
}

// =============================================================================
// Config
// =============================================================================

// Config configures an Engine.
type Config struct {
	// AmountOfReleases is how many versions to retain per project/environment.
	// Zero selects retention.DefaultAmountOfReleases.
	AmountOfReleases int

	// Timeout bounds a single load. Zero means no limit.
	Timeout time.Duration

	// Observer receives diagnostics. Nil discards them.
	Observer Observer

	// Now is the clock. Nil uses time.Now.
	Now func() time.Time
}

// =============================================================================
// Engine
// =============================================================================

// Engine loads retention data and serves the derived retained releases.
//
// Loads are collapsed: a call to Init or Refresh made while another load is
// in flight waits for that load and shares its outcome.
type Engine struct {
	source   source.Source
	amount   int
	timeout  time.Duration
	observer Observer
	now      func() time.Time
	flight   singleflight.Group

	mu        sync.Mutex
	snapshot  domain.Snapshot
	updatedAt time.Time
	loaded    bool
	cache     cacheState
	result    *retention.Result
}

// New creates an engine reading from src. Nothing is loaded until Init.
func New(src source.Source, cfg Config) (*Engine, error) {
	if src == nil {
		return nil, ErrNoSource
	}
	if cfg.AmountOfReleases < 0 {
		return nil, ErrInvalidAmount
	}
	if cfg.AmountOfReleases == 0 {
		cfg.AmountOfReleases = retention.DefaultAmountOfReleases
	}
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Engine{
		source:   src,
		amount:   cfg.AmountOfReleases,
		timeout:  cfg.Timeout,
		observer: cfg.Observer,
		now:      cfg.Now,
		snapshot: domain.Snapshot{
			Projects:     []domain.Project{},
			Environments: []domain.Environment{},
			Releases:     []domain.Release{},
			Deployments:  []domain.Deployment{},
		},
		cache: cacheDirty,
	}, nil
}

// Init performs a load. Calling it again loads again.
//
// On success it returns the freshness timestamp. On failure it returns the
// error of the failing resource (a *source.UnavailableError) and leaves the
// previous snapshot and retained releases untouched.
func (e *Engine) Init(ctx context.Context) (time.Time, error) {
	return e.load(ctx)
}

// Refresh invalidates the retained releases and performs a load.
func (e *Engine) Refresh(ctx context.Context) (time.Time, error) {
	e.mu.Lock()
	e.cache = cacheDirty
	e.mu.Unlock()

	return e.load(ctx)
}

// Retained returns the retained releases, deriving them if the snapshot
// changed since the last derivation. Consecutive reads without a new load
// return the same *Result.
func (e *Engine) Retained() (*retention.Result, error) {
	e.mu.Lock()
	if !e.loaded {
		e.mu.Unlock()
		return nil, ErrNotLoaded
	}

	age := e.now().Sub(e.updatedAt)
	derived := e.cache == cacheDirty
	if derived {
		e.result = retention.Derive(e.snapshot, e.amount)
		e.cache = cacheFresh
	}
	result := e.result
	e.mu.Unlock()

	// Observers are notified unlocked and may read from the engine.
	if age > StaleAfter {
		e.observer.Stale(age)
	}
	if derived {
		e.observer.Derived(result.Stats)
	}

	return result, nil
}

// Snapshot returns the collections of the last successful load. The slices
// are replaced, never modified, on later loads.
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot
}

// UpdatedAt returns the time of the last successful load.
func (e *Engine) UpdatedAt() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updatedAt, e.loaded
}

// AmountOfReleases returns the configured retention depth.
func (e *Engine) AmountOfReleases() int {
	return e.amount
}

// load runs at most one fetch at a time. Callers arriving during a fetch
// share its result, including its context.
func (e *Engine) load(ctx context.Context) (time.Time, error) {
	v, err, _ := e.flight.Do("load", func() (any, error) {
		return e.fetch(ctx)
	})
	if err != nil {
		return time.Time{}, err
	}
	return v.(time.Time), nil
}

func (e *Engine) fetch(ctx context.Context) (time.Time, error) {
	loadID := uuid.New().String()
	started := e.now()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	snapshot, err := source.FetchAll(ctx, e.source)
	if err != nil {
		e.observer.Loaded(LoadEvent{ID: loadID, Duration: e.now().Sub(started), Err: err})
		return time.Time{}, err
	}

	e.mu.Lock()
	e.snapshot = snapshot
	e.updatedAt = e.now()
	e.loaded = true
	e.cache = cacheDirty
	updatedAt := e.updatedAt
	e.mu.Unlock()

	e.observer.Loaded(LoadEvent{ID: loadID, Duration: updatedAt.Sub(started), UpdatedAt: updatedAt})
	return updatedAt, nil
}
