package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artpar/retainer/internal/core/domain"
	"github.com/artpar/retainer/internal/core/retention"
	"github.com/artpar/retainer/internal/shell/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeSource serves the embedded fixtures, counts loads and can fail or
// block a resource on demand.
type fakeSource struct {
	fixtures *source.FixtureSource

	mu     sync.Mutex
	failOn domain.Resource
	gate   chan struct{}

	loads   atomic.Int32
	entered chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{fixtures: source.DefaultFixtures()}
}

func (f *fakeSource) setFailure(r domain.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failOn = r
}

func (f *fakeSource) check(ctx context.Context, r domain.Resource) error {
	f.mu.Lock()
	failOn, gate, entered := f.failOn, f.gate, f.entered
	f.mu.Unlock()

	if r == domain.ResourceProjects {
		f.loads.Add(1)
		if entered != nil {
			entered <- struct{}{}
		}
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if r == failOn {
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeSource) Projects(ctx context.Context) ([]domain.Project, error) {
	if err := f.check(ctx, domain.ResourceProjects); err != nil {
		return nil, err
	}
	return f.fixtures.Projects(ctx)
}

func (f *fakeSource) Environments(ctx context.Context) ([]domain.Environment, error) {
	if err := f.check(ctx, domain.ResourceEnvironments); err != nil {
		return nil, err
	}
	return f.fixtures.Environments(ctx)
}

func (f *fakeSource) Releases(ctx context.Context) ([]domain.Release, error) {
	if err := f.check(ctx, domain.ResourceReleases); err != nil {
		return nil, err
	}
	return f.fixtures.Releases(ctx)
}

func (f *fakeSource) Deployments(ctx context.Context) ([]domain.Deployment, error) {
	if err := f.check(ctx, domain.ResourceDeployments); err != nil {
		return nil, err
	}
	return f.fixtures.Deployments(ctx)
}

// recordingObserver keeps every diagnostic it receives.
type recordingObserver struct {
	mu      sync.Mutex
	loads   []LoadEvent
	stale   []time.Duration
	derived []retention.Stats
}

func (o *recordingObserver) Loaded(e LoadEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loads = append(o.loads, e)
}

func (o *recordingObserver) Stale(age time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stale = append(o.stale, age)
}

func (o *recordingObserver) Derived(stats retention.Stats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.derived = append(o.derived, stats)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T, src source.Source, cfg Config) *Engine {
	t.Helper()
	e, err := New(src, cfg)
	require.NoError(t, err)
	return e
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	e := newTestEngine(t, newFakeSource(), Config{})

	assert.Equal(t, 3, e.AmountOfReleases())
	assert.Equal(t, cacheDirty, e.cache)
	assert.Equal(t, "dirty", e.cache.String())

	snapshot := e.Snapshot()
	assert.True(t, snapshot.Empty())
	assert.NotNil(t, snapshot.Projects)
	assert.NotNil(t, snapshot.Deployments)

	_, loaded := e.UpdatedAt()
	assert.False(t, loaded)
}

func TestNew_InvalidAmount(t *testing.T) {
	_, err := New(newFakeSource(), Config{AmountOfReleases: -1})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestNew_NilSource(t *testing.T) {
	_, err := New(nil, Config{})
	assert.ErrorIs(t, err, ErrNoSource)
}

// =============================================================================
// Load Tests
// =============================================================================

func TestRetained_BeforeInit(t *testing.T) {
	e := newTestEngine(t, newFakeSource(), Config{})

	result, err := e.Retained()
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrNotLoaded)
}

func TestInit_LoadsAllCollections(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	e := newTestEngine(t, newFakeSource(), Config{Now: clock.Now})

	updatedAt, err := e.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), updatedAt)

	got, loaded := e.UpdatedAt()
	assert.True(t, loaded)
	assert.Equal(t, updatedAt, got)

	want, err := source.FetchAll(context.Background(), source.DefaultFixtures())
	require.NoError(t, err)
	assert.Equal(t, want, e.Snapshot())

	_, err = e.Retained()
	assert.NoError(t, err)
}

func TestInitThenRefresh_TwoLoads(t *testing.T) {
	src := newFakeSource()
	e := newTestEngine(t, src, Config{})

	_, err := e.Init(context.Background())
	require.NoError(t, err)
	_, err = e.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(2), src.loads.Load())
}

func TestInit_FailureReturnsResourceError(t *testing.T) {
	for _, resource := range domain.Resources {
		t.Run(resource.String(), func(t *testing.T) {
			src := newFakeSource()
			src.setFailure(resource)
			e := newTestEngine(t, src, Config{})

			updatedAt, err := e.Init(context.Background())
			require.Error(t, err)
			assert.True(t, updatedAt.IsZero())

			var unavailable *source.UnavailableError
			require.ErrorAs(t, err, &unavailable)
			assert.Equal(t, resource, unavailable.Resource)
			assert.Equal(t, resource.String()+" are not available", err.Error())

			assert.True(t, e.Snapshot().Empty())
			_, err = e.Retained()
			assert.ErrorIs(t, err, ErrNotLoaded)
		})
	}
}

func TestRefresh_FailureKeepsPreviousData(t *testing.T) {
	src := newFakeSource()
	e := newTestEngine(t, src, Config{})

	firstUpdate, err := e.Init(context.Background())
	require.NoError(t, err)
	before := e.Snapshot()
	first, err := e.Retained()
	require.NoError(t, err)

	src.setFailure(domain.ResourceReleases)
	_, err = e.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, source.ErrUnavailable)

	assert.Equal(t, before, e.Snapshot())
	updatedAt, _ := e.UpdatedAt()
	assert.Equal(t, firstUpdate, updatedAt)

	second, err := e.Retained()
	require.NoError(t, err)
	assert.Equal(t, first.Releases, second.Releases)
}

func TestInit_Timeout(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})
	e := newTestEngine(t, src, Config{Timeout: 20 * time.Millisecond})

	_, err := e.Init(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "Projects are not available", err.Error())
}

func TestInit_ConcurrentCallsShareOneLoad(t *testing.T) {
	src := newFakeSource()
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, 4)
	e := newTestEngine(t, src, Config{})

	var wg sync.WaitGroup
	results := make([]time.Time, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = e.Init(context.Background())
	}()
	<-src.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = e.Refresh(context.Background())
	}()

	// give the second caller time to join the in-flight load
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), src.loads.Load())
	assert.Equal(t, results[0], results[1])
}

// =============================================================================
// Cache Tests
// =============================================================================

func TestRetained_CachesResult(t *testing.T) {
	e := newTestEngine(t, newFakeSource(), Config{AmountOfReleases: 2})

	_, err := e.Init(context.Background())
	require.NoError(t, err)

	first, err := e.Retained()
	require.NoError(t, err)
	second, err := e.Retained()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, cacheFresh, e.cache)
}

func TestRefresh_NewResultWithEqualContent(t *testing.T) {
	e := newTestEngine(t, newFakeSource(), Config{AmountOfReleases: 2})

	_, err := e.Init(context.Background())
	require.NoError(t, err)
	first, err := e.Retained()
	require.NoError(t, err)

	_, err = e.Refresh(context.Background())
	require.NoError(t, err)
	second, err := e.Retained()
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first, second)
}

func TestInit_AgainInvalidatesCache(t *testing.T) {
	e := newTestEngine(t, newFakeSource(), Config{})

	_, err := e.Init(context.Background())
	require.NoError(t, err)
	first, err := e.Retained()
	require.NoError(t, err)

	_, err = e.Init(context.Background())
	require.NoError(t, err)
	second, err := e.Retained()
	require.NoError(t, err)

	assert.NotSame(t, first, second)
}

// =============================================================================
// Staleness Tests
// =============================================================================

func TestRetained_StaleAdvisory(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	obs := &recordingObserver{}
	e := newTestEngine(t, newFakeSource(), Config{Now: clock.Now, Observer: obs})

	_, err := e.Init(context.Background())
	require.NoError(t, err)

	clock.Advance(StaleAfter)
	first, err := e.Retained()
	require.NoError(t, err)
	assert.Empty(t, obs.stale, "exactly the threshold is not stale")

	clock.Advance(time.Second)
	second, err := e.Retained()
	require.NoError(t, err)
	require.Len(t, obs.stale, 1)
	assert.Equal(t, 6*time.Second, obs.stale[0])
	assert.Same(t, first, second)

	_, err = e.Refresh(context.Background())
	require.NoError(t, err)
	_, err = e.Retained()
	require.NoError(t, err)
	assert.Len(t, obs.stale, 1)
}

// =============================================================================
// Observer Tests
// =============================================================================

func TestObserver_ReceivesLoadsAndDerivations(t *testing.T) {
	src := newFakeSource()
	obs := &recordingObserver{}
	e := newTestEngine(t, src, Config{AmountOfReleases: 2, Observer: Observers{NopObserver{}, obs}})

	_, err := e.Init(context.Background())
	require.NoError(t, err)
	_, err = e.Retained()
	require.NoError(t, err)
	_, err = e.Retained()
	require.NoError(t, err)

	src.setFailure(domain.ResourceDeployments)
	_, err = e.Refresh(context.Background())
	require.Error(t, err)

	require.Len(t, obs.loads, 2)
	assert.NoError(t, obs.loads[0].Err)
	assert.NotEmpty(t, obs.loads[0].ID)
	assert.False(t, obs.loads[0].UpdatedAt.IsZero())
	assert.Error(t, obs.loads[1].Err)
	assert.NotEqual(t, obs.loads[0].ID, obs.loads[1].ID)

	require.Len(t, obs.derived, 1)
	assert.Equal(t, 1, obs.derived[0].OrphanedDeployments)
	assert.Equal(t, 1, obs.derived[0].UnknownEnvironmentDeployments)
}

// =============================================================================
// End-to-End Tests (embedded fixtures)
// =============================================================================

func TestRetained_TwoReleases(t *testing.T) {
	e := newTestEngine(t, source.DefaultFixtures(), Config{AmountOfReleases: 2})
	_, err := e.Init(context.Background())
	require.NoError(t, err)

	snapshot := e.Snapshot()
	first, second := snapshot.Projects[0].Name, snapshot.Projects[1].Name
	staging, production := snapshot.Environments[0].Name, snapshot.Environments[1].Name

	result, err := e.Retained()
	require.NoError(t, err)

	assert.Equal(t, []string{"1.0.1", "1.0.0"}, result.Releases.Versions(first, staging))
	assert.Equal(t, []string{"1.0.0"}, result.Releases.Versions(first, production))
	assert.Equal(t, []string{"1.0.2", "1.0.3"}, result.Releases.Versions(second, staging))
	assert.Equal(t, []string{"1.0.2"}, result.Releases.Versions(second, production))
}

func TestRetained_FiveReleases(t *testing.T) {
	e := newTestEngine(t, source.DefaultFixtures(), Config{AmountOfReleases: 5})
	_, err := e.Init(context.Background())
	require.NoError(t, err)

	snapshot := e.Snapshot()
	first, second := snapshot.Projects[0].Name, snapshot.Projects[1].Name
	staging, production := snapshot.Environments[0].Name, snapshot.Environments[1].Name

	result, err := e.Retained()
	require.NoError(t, err)

	assert.Equal(t, []string{"1.0.1", "1.0.0"}, result.Releases.Versions(first, staging))
	assert.Equal(t, []string{"1.0.0"}, result.Releases.Versions(first, production))
	assert.Equal(t, []string{"1.0.2", "1.0.3", "1.0.2", "1.0.1-ci1"}, result.Releases.Versions(second, staging))
	assert.Equal(t, []string{"1.0.2"}, result.Releases.Versions(second, production))
}

// =============================================================================
// Fail-Fast Tests
// =============================================================================

// stuckSource fails Projects at once while Environments blocks until
// released, ignoring its context.
type stuckSource struct {
	*fakeSource
	release chan struct{}
}

func (s *stuckSource) Projects(ctx context.Context) ([]domain.Project, error) {
	return nil, errors.New("connection refused")
}

func (s *stuckSource) Environments(ctx context.Context) ([]domain.Environment, error) {
	<-s.release
	return s.fixtures.Environments(context.Background())
}

func TestInit_FirstFailureReturnsWithoutWaitingForOthers(t *testing.T) {
	src := &stuckSource{fakeSource: newFakeSource(), release: make(chan struct{})}
	t.Cleanup(func() { close(src.release) })
	e := newTestEngine(t, src, Config{})

	done := make(chan error, 1)
	go func() {
		_, err := e.Init(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		var unavailable *source.UnavailableError
		require.ErrorAs(t, err, &unavailable)
		assert.Equal(t, domain.ResourceProjects, unavailable.Resource)
		assert.Equal(t, "Projects are not available", err.Error())
	case <-time.After(time.Second):
		t.Fatal("Init waited for the blocked Environments fetch")
	}

	assert.True(t, e.Snapshot().Empty())
	_, err := e.Retained()
	assert.ErrorIs(t, err, ErrNotLoaded)
}

// =============================================================================
// Observer Reentrancy Tests
// =============================================================================

// readingObserver reads the engine from inside its callbacks.
type readingObserver struct {
	NopObserver
	engine *Engine
	reads  atomic.Int32
}

func (o *readingObserver) Stale(time.Duration) {
	o.engine.Snapshot()
	o.reads.Add(1)
}

func (o *readingObserver) Derived(retention.Stats) {
	o.engine.UpdatedAt()
	o.reads.Add(1)
}

func TestRetained_ObserverMayReadEngine(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	obs := &readingObserver{}
	e := newTestEngine(t, newFakeSource(), Config{Now: clock.Now, Observer: obs})
	obs.engine = e

	_, err := e.Init(context.Background())
	require.NoError(t, err)
	clock.Advance(StaleAfter + time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := e.Retained()
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Retained blocked on its own observer")
	}
	assert.Equal(t, int32(2), obs.reads.Load())
}
