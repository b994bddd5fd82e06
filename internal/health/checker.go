// Package health periodically checks the ledger's backing stores and reports
// whether the service can accept writes.
package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	CheckTimeout  time.Duration
	FailThreshold int
}

// Check tests one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// StatusFunc is called when the overall status changes.
type StatusFunc func(serving bool)

// MetricsRecordFunc is an optional callback for recording check results.
type MetricsRecordFunc func(name string, success bool)

// Checker runs named checks on an interval. A dependency is degraded after
// FailThreshold consecutive failures and recovers on its next success; the
// service is serving while no dependency is degraded.
type Checker struct {
	checks     map[string]Check
	failCounts map[string]int
	serving    bool
	mu         sync.Mutex
	cfg        Config
	onStatus   StatusFunc
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a new Checker. It reports serving until a dependency degrades.
func New(cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 15 * time.Second
	}
	if cfg.CheckTimeout == 0 {
		cfg.CheckTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	return &Checker{
		checks:     make(map[string]Check),
		failCounts: make(map[string]int),
		serving:    true,
		cfg:        cfg,
		logger:     logger,
	}
}

// Add registers a named check. It must be called before Start.
func (h *Checker) Add(name string, c Check) {
	h.checks[name] = c
}

// SetStatusFunc configures the status change callback.
func (h *Checker) SetStatusFunc(fn StatusFunc) {
	h.onStatus = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Serving reports the last computed status.
func (h *Checker) Serving() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serving
}

// Start runs the check loop until ctx is done.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every check once, concurrently, and updates the status.
func (h *Checker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for name, p := range h.checks {
		wg.Add(1)
		go func(name string, p Check) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.CheckTimeout)
			err := p(pctx)
			cancel()

			if h.onMetrics != nil {
				h.onMetrics(name, err == nil)
			}

			h.mu.Lock()
			prevCount := h.failCounts[name]
			if err == nil {
				h.failCounts[name] = 0
			} else {
				h.failCounts[name]++
			}
			count := h.failCounts[name]
			h.mu.Unlock()

			switch {
			case err == nil && prevCount >= h.cfg.FailThreshold:
				h.logger.Info("health: recovered", zap.String("dependency", name))
			case err != nil && count == h.cfg.FailThreshold:
				h.logger.Warn("health: degraded",
					zap.String("dependency", name),
					zap.Int("fail_count", count),
					zap.Error(err),
				)
			}
		}(name, p)
	}
	wg.Wait()

	h.mu.Lock()
	serving := true
	for _, n := range h.failCounts {
		if n >= h.cfg.FailThreshold {
			serving = false
			break
		}
	}
	changed := serving != h.serving
	h.serving = serving
	h.mu.Unlock()

	if changed && h.onStatus != nil {
		h.onStatus(serving)
	}
}
