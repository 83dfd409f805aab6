// Package shutdown coordinates orderly teardown of the services.
// Components are stopped in reverse registration order, so the mains
// register the deepest dependencies first (database, then redis, then
// the servers and loops built on top of them).
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	shutdownDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shutdown_duration_seconds",
		Help:    "Total time spent in graceful shutdown",
		Buckets: []float64{1, 5, 10, 15, 20, 30},
	})

	shutdownErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shutdown_errors_total",
		Help: "Shutdown failures by component",
	}, []string{"component"})
)

// StopFunc stops one component. It should respect ctx's deadline.
type StopFunc func(context.Context) error

type component struct {
	name string
	stop StopFunc
}

// Manager runs registered stop functions in LIFO order when a
// termination signal arrives or Shutdown is called.
type Manager struct {
	mu         sync.Mutex
	logger     *zap.Logger
	components []component
	timeout    time.Duration
}

func NewManager(logger *zap.Logger, timeout time.Duration) *Manager {
	return &Manager{logger: logger, timeout: timeout}
}

// Register appends a component. Later registrations stop earlier.
func (m *Manager) Register(name string, stop StopFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, component{name: name, stop: stop})
}

// RegisterHTTPServer registers anything with http.Server's Shutdown shape.
func (m *Manager) RegisterHTTPServer(name string, srv interface{ Shutdown(context.Context) error }) {
	m.Register(name, srv.Shutdown)
}

// RegisterCloser registers an io.Closer style component.
func (m *Manager) RegisterCloser(name string, c interface{ Close() error }) {
	m.Register(name, func(context.Context) error { return c.Close() })
}

// RegisterNoErr registers a stop function with no error and no context.
func (m *Manager) RegisterNoErr(name string, fn func()) {
	m.Register(name, func(context.Context) error { fn(); return nil })
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then runs Shutdown.
func (m *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	m.logger.Info("shutdown signal received",
		zap.String("signal", sig.String()),
		zap.Duration("timeout", m.timeout),
	)
	m.Shutdown()
}

// Shutdown stops every registered component, newest first, sharing one
// deadline across all of them. A failing component is logged and does
// not stop the rest from being torn down.
func (m *Manager) Shutdown() {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	components := make([]component, len(m.components))
	copy(components, m.components)
	m.mu.Unlock()

	for i := len(components) - 1; i >= 0; i-- {
		c := components[i]
		stepStart := time.Now()
		if err := c.stop(ctx); err != nil {
			shutdownErrors.WithLabelValues(c.name).Inc()
			m.logger.Error("component stop failed",
				zap.String("component", c.name),
				zap.Error(err),
			)
			continue
		}
		m.logger.Info("component stopped",
			zap.String("component", c.name),
			zap.Duration("elapsed", time.Since(stepStart)),
		)
	}

	shutdownDuration.Observe(time.Since(start).Seconds())
	m.logger.Info("shutdown complete", zap.Duration("elapsed", time.Since(start)))
}
