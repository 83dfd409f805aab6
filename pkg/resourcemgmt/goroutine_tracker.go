// Package resourcemgmt tracks long-lived goroutines so leaks in the
// worker and pump loops show up in logs and metrics instead of OOM kills.
package resourcemgmt

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	goroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goroutines_count",
		Help: "Current number of goroutines in the process",
	})

	goroutineLeaksDetected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goroutine_leaks_detected_total",
		Help: "Times the goroutine count exceeded baseline plus threshold",
	})

	trackedGoroutines = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tracked_goroutines",
		Help: "Currently tracked goroutines by type",
	}, []string{"type"})
)

type tracked struct {
	id      string
	kind    string
	started time.Time
}

// Config bounds the leak checks.
type Config struct {
	CheckInterval    time.Duration
	LeakThreshold    int
	LongRunningLimit time.Duration
}

// DefaultConfig suits both services: the worker pools keep a small,
// stable goroutine count, so a 100-goroutine rise above baseline is a leak.
func DefaultConfig() *Config {
	return &Config{
		CheckInterval:    30 * time.Second,
		LeakThreshold:    100,
		LongRunningLimit: 10 * time.Minute,
	}
}

// GoroutineTracker registers background goroutines and periodically
// compares the process goroutine count against a startup baseline.
type GoroutineTracker struct {
	mu       sync.RWMutex
	active   map[string]*tracked
	logger   *zap.Logger
	baseline int
	cfg      *Config
	seq      atomic.Uint64
}

func NewGoroutineTracker(logger *zap.Logger, cfg *Config) *GoroutineTracker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &GoroutineTracker{
		active:   make(map[string]*tracked),
		logger:   logger,
		baseline: runtime.NumGoroutine(),
		cfg:      cfg,
	}
}

// GoWithContext runs fn on a tracked goroutine. The caller's context
// controls the goroutine's lifetime.
func (gt *GoroutineTracker) GoWithContext(ctx context.Context, kind string, fn func(ctx context.Context)) {
	t := &tracked{
		id:      fmt.Sprintf("%s-%d", kind, gt.seq.Add(1)),
		kind:    kind,
		started: time.Now(),
	}

	gt.mu.Lock()
	gt.active[t.id] = t
	gt.mu.Unlock()
	trackedGoroutines.WithLabelValues(kind).Inc()

	go func() {
		defer func() {
			gt.mu.Lock()
			delete(gt.active, t.id)
			gt.mu.Unlock()
			trackedGoroutines.WithLabelValues(kind).Dec()
		}()
		fn(ctx)
	}()
}

// StartMonitoring checks for leaks until ctx is cancelled. Run it on
// its own goroutine.
func (gt *GoroutineTracker) StartMonitoring(ctx context.Context) {
	ticker := time.NewTicker(gt.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gt.check()
		}
	}
}

func (gt *GoroutineTracker) check() {
	current := runtime.NumGoroutine()
	goroutineCount.Set(float64(current))

	if rise := current - gt.baseline; rise > gt.cfg.LeakThreshold {
		goroutineLeaksDetected.Inc()
		gt.logger.Warn("possible goroutine leak",
			zap.Int("current", current),
			zap.Int("baseline", gt.baseline),
			zap.Int("rise", rise),
		)
	}

	now := time.Now()
	gt.mu.RLock()
	for _, t := range gt.active {
		if age := now.Sub(t.started); age > gt.cfg.LongRunningLimit {
			gt.logger.Debug("long-running goroutine",
				zap.String("id", t.id),
				zap.String("type", t.kind),
				zap.Duration("age", age),
			)
		}
	}
	gt.mu.RUnlock()
}

// TrackedCount reports how many registered goroutines are live.
func (gt *GoroutineTracker) TrackedCount() int {
	gt.mu.RLock()
	defer gt.mu.RUnlock()
	return len(gt.active)
}
