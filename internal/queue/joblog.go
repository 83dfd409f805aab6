package queue

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain/models"
)

// JobRecorder receives job lifecycle events. Implementations must be
// best-effort: recording never blocks or fails job progress.
type JobRecorder interface {
	Record(ctx context.Context, entry models.JobLog)
}

// JobLogStore is the durable sink, satisfied by the postgres job log
// repository through a transaction-free facade.
type JobLogStore interface {
	Append(ctx context.Context, entry *models.JobLog) error
}

// DualRecorder writes each event to the durable store and pushes a compact
// copy onto the ephemeral redis event list for live tailing. Either sink
// failing is logged and swallowed.
type DualRecorder struct {
	service   string
	store     JobLogStore
	substrate *Substrate
	logger    *zap.Logger
}

// NewDualRecorder builds the standard recorder for a service.
func NewDualRecorder(service string, store JobLogStore, substrate *Substrate, logger *zap.Logger) *DualRecorder {
	return &DualRecorder{service: service, store: store, substrate: substrate, logger: logger}
}

type jobEvent struct {
	Service       string `json:"service"`
	Queue         string `json:"queue"`
	MessageID     string `json:"message_id"`
	Action        string `json:"action"`
	Status        string `json:"status"`
	Attempts      int    `json:"attempts"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Error         string `json:"error,omitempty"`
	At            string `json:"at"`
}

// Record persists the entry to both sinks.
func (r *DualRecorder) Record(ctx context.Context, entry models.JobLog) {
	entry.Service = r.service
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if r.store != nil {
		if err := r.store.Append(ctx, &entry); err != nil {
			r.logger.Warn("job log append failed",
				zap.String("queue", entry.Queue),
				zap.String("message_id", entry.MessageID),
				zap.Error(err))
		}
	}
	if r.substrate != nil {
		ev := jobEvent{
			Service:       entry.Service,
			Queue:         entry.Queue,
			MessageID:     entry.MessageID,
			Action:        entry.Action,
			Status:        string(entry.Status),
			Attempts:      entry.Attempts,
			CorrelationID: entry.CorrelationID,
			Error:         entry.LastError,
			At:            entry.CreatedAt.Format(time.RFC3339),
		}
		if b, err := json.Marshal(ev); err == nil {
			r.substrate.PushEventLog(ctx, string(b))
		}
	}
}

// NopRecorder discards all events. Used in tests.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, models.JobLog) {}
