package rate

import (
	"context"
	"sync"
	"time"
)

// Config holds the failure budget for a sliding window.
type Config struct {
	Threshold int
	Window    time.Duration
}

// Window is an in-process sliding-window failure limiter keyed by client
// address. All mutation happens under one mutex, so check-then-record
// sequences from concurrent logins cannot interleave on the same key.
// State is process-local; horizontally scaled deployments should use
// Redis instead.
type Window struct {
	mu       sync.Mutex
	config   Config
	failures map[string][]time.Time
	now      func() time.Time
}

// NewWindow creates an in-process limiter. The clock is injectable for
// tests; pass nil for time.Now.
func NewWindow(cfg Config, now func() time.Time) *Window {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 15 * time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Window{
		config:   cfg,
		failures: make(map[string][]time.Time),
		now:      now,
	}
}

// Limited reports whether the key has reached the failure threshold
// within the window. Expired entries are pruned on the way.
func (w *Window) Limited(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	recent := w.prune(key)
	return len(recent) >= w.config.Threshold, nil
}

// RecordFailure appends a failure timestamp for the key.
func (w *Window) RecordFailure(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	recent := w.prune(key)
	w.failures[key] = append(recent, w.now())
	return nil
}

// Reset clears all failures for the key. Called after a successful
// credential check.
func (w *Window) Reset(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.failures, key)
	return nil
}

// prune drops entries older than the window. Caller holds the lock.
func (w *Window) prune(key string) []time.Time {
	cutoff := w.now().Add(-w.config.Window)
	recorded := w.failures[key]

	recent := recorded[:0]
	for _, ts := range recorded {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) == 0 {
		delete(w.failures, key)
		return nil
	}

	w.failures[key] = recent
	return recent
}
