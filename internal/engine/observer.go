package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/artpar/retainer/internal/core/retention"
)

// =============================================================================
// Observer
// =============================================================================

// LoadEvent describes one finished load attempt.
type LoadEvent struct {
	ID        string
	Duration  time.Duration
	UpdatedAt time.Time // zero when Err is set
	Err       error
}

// Observer receives the engine's diagnostics. Methods are called
// synchronously on the goroutine that triggered them, after the engine has
// released its lock, so implementations may read from the engine.
type Observer interface {
	// Loaded is called after every load attempt.
	Loaded(event LoadEvent)

	// Stale is called on a read whose data is older than StaleAfter.
	// It is advisory only; the read still succeeds.
	Stale(age time.Duration)

	// Derived is called after the retained mapping has been rebuilt.
	Derived(stats retention.Stats)
}

// NopObserver discards everything.
type NopObserver struct{}

func (NopObserver) Loaded(LoadEvent)        {}
func (NopObserver) Stale(time.Duration)     {}
func (NopObserver) Derived(retention.Stats) {}

// Observers fans out to several observers in order.
type Observers []Observer

func (o Observers) Loaded(event LoadEvent) {
	for _, obs := range o {
		obs.Loaded(event)
	}
}

func (o Observers) Stale(age time.Duration) {
	for _, obs := range o {
		obs.Stale(age)
	}
}

func (o Observers) Derived(stats retention.Stats) {
	for _, obs := range o {
		obs.Derived(stats)
	}
}

// =============================================================================
// Log Observer
// =============================================================================

// LogObserver writes diagnostics to a structured logger.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a log observer. A nil logger uses slog.Default().
func NewLogObserver(logger *slog.Logger) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogObserver{logger: logger.With("component", "retention_engine")}
}

func (o *LogObserver) Loaded(event LoadEvent) {
	if event.Err != nil {
		o.logger.Error("failed to load retention data",
			"load_id", event.ID,
			"duration", event.Duration,
			"error", event.Err,
		)
		return
	}
	o.logger.Info("loaded retention data",
		"load_id", event.ID,
		"duration", event.Duration,
		"updated_at", event.UpdatedAt,
	)
}

func (o *LogObserver) Stale(age time.Duration) {
	o.logger.Warn("the data is outdated, recommended to update, use Refresh()",
		"age", age.Round(time.Millisecond),
		"stale_after", StaleAfter,
	)
}

func (o *LogObserver) Derived(stats retention.Stats) {
	level := slog.LevelDebug
	if stats.OrphanedDeployments > 0 || stats.UnknownEnvironmentDeployments > 0 {
		level = slog.LevelWarn
	}
	o.logger.Log(context.Background(), level, "derived retained releases",
		"deployments", stats.Deployments,
		"orphaned_deployments", stats.OrphanedDeployments,
		"unknown_environment_deployments", stats.UnknownEnvironmentDeployments,
		"short_pairs", stats.ShortPairs,
	)
}
