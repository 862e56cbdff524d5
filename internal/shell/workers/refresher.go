// Package workers contains background workers for the retainer.
package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Refreshable is anything that can reload its data.
type Refreshable interface {
	Refresh(ctx context.Context) (time.Time, error)
}

// RefresherConfig configures the refresher worker.
type RefresherConfig struct {
	// Interval is the time between refreshes.
	// Default: 60 seconds.
	Interval time.Duration

	// Timeout bounds a single refresh.
	// Default: Interval.
	Timeout time.Duration
}

// DefaultRefresherConfig returns the default configuration.
func DefaultRefresherConfig() RefresherConfig {
	return RefresherConfig{
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
	}
}

// Refresher periodically refreshes the retention data so that reads do not
// go stale. A failed refresh is logged and retried on the next tick; the
// previous data keeps being served.
type Refresher struct {
	target Refreshable
	config RefresherConfig
	logger *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRefresher creates a new refresher worker.
func NewRefresher(target Refreshable, config RefresherConfig, logger *slog.Logger) *Refresher {
	if config.Interval == 0 {
		config.Interval = 60 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = config.Interval
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Refresher{
		target: target,
		config: config,
		logger: logger.With("component", "refresher"),
	}
}

// Start begins the refresher background goroutine.
func (r *Refresher) Start() {
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.run()

	r.logger.Info("refresher started", "interval", r.config.Interval)
}

// Stop stops the refresher and waits for an in-progress refresh to end.
func (r *Refresher) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
	r.logger.Info("refresher stopped")
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.refresh()
		}
	}
}

func (r *Refresher) refresh() {
	ctx, cancel := context.WithTimeout(r.ctx, r.config.Timeout)
	defer cancel()

	updatedAt, err := r.target.Refresh(ctx)
	if err != nil {
		r.logger.Error("refresh failed", "error", err)
		return
	}
	r.logger.Debug("refreshed", "updated_at", updatedAt)
}
