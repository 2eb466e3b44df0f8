// Package coordinator implements the concurrency harness from spec §5: a
// single, explicit, process-wide mutation mutex serializing all
// read-modify-write access to shared state, plus a background watchdog
// scheduler for the streaming run manager's auto-finalize sweep. The
// Coordinator is an explicit value threaded through the app, never a
// package-level singleton, so tests can construct independent instances.
//
// The watchdog's timer-reset-on-activity idiom is grounded on the
// teacher's internal/progress/hub.go batching goroutine (read in full
// before deletion): a single-select loop resetting a timer, except here the
// "activity" is ticks, not incoming events, and each tick's body runs
// inside the same mutation lock the rest of the system uses.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Coordinator owns the single mutation mutex described in spec §5. Every
// read-modify-write touching state.json, the hash registry, per-level
// manifests, streaming JSONL files, or the probe index runs inside With.
type Coordinator struct {
	mu     sync.Mutex
	logger *zap.Logger
}

// New constructs a Coordinator. A nil logger is replaced with zap.NewNop().
func New(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{logger: logger}
}

// With runs fn under the mutation lock and returns its error. Suspension
// points inside fn (filesystem I/O, hashing) do not release the lock —
// spec §5 states critical sections are short, bounded by one disk write,
// and there is no blocking outbound I/O to starve on.
func (c *Coordinator) With(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn()
}

// WatchdogFunc is one auto-finalize sweep tick.
type WatchdogFunc func(ctx context.Context) error

// Watchdog runs tick on a fixed interval under the Coordinator's mutation
// lock, per spec §5: "if a prior watchdog tick is still running, subsequent
// ticks wait on the same mutex and coalesce". Because ticks serialize
// through With, at most one tick's worth of work is ever in flight; a slow
// tick simply delays the next one rather than stacking concurrent runs.
func (c *Coordinator) Watchdog(ctx context.Context, interval time.Duration, tick WatchdogFunc) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.With(func() error { return tick(ctx) }); err != nil {
				c.logger.Warn("watchdog tick failed", zap.Error(err))
			}
		}
	}
}
