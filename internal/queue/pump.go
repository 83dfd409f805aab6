package queue

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Pump periodically promotes due delayed messages back onto their main
// lists. One pump instance covers all queues a service consumes.
type Pump struct {
	substrate *Substrate
	queues    []string
	interval  time.Duration
	logger    *zap.Logger
}

// NewPump builds a pump over the given queues.
func NewPump(substrate *Substrate, queues []string, interval time.Duration, logger *zap.Logger) *Pump {
	return &Pump{substrate: substrate, queues: queues, interval: interval, logger: logger}
}

// Run promotes on each tick until the context is cancelled.
func (p *Pump) Run(ctx context.Context) {
	p.logger.Info("delayed pump started", zap.Duration("interval", p.interval))
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("delayed pump stopped")
			return
		case <-ticker.C:
			p.PumpOnce(ctx)
		}
	}
}

// PumpOnce promotes due messages across all queues. Per-queue failures are
// logged and do not block the remaining queues.
func (p *Pump) PumpOnce(ctx context.Context) {
	for _, q := range p.queues {
		n, err := p.substrate.PromoteDue(ctx, q)
		if err != nil {
			p.logger.Error("promote failed", zap.String("queue", q), zap.Error(err))
			continue
		}
		if n > 0 {
			p.logger.Info("promoted delayed messages", zap.String("queue", q), zap.Int("count", n))
		}
	}
}
