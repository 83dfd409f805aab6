package admin

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/handlers/httputil"
	"github.com/billinglab/billing-backend/internal/queue"
)

// Handler serves operator endpoints. Service token gated.
type Handler struct {
	substrate *queue.Substrate
	queues    []string
	logger    *zap.Logger
}

// NewHandler creates a new admin handler for the given logical queues.
func NewHandler(substrate *queue.Substrate, queues []string, logger *zap.Logger) *Handler {
	return &Handler{substrate: substrate, queues: queues, logger: logger}
}

// QueueStats handles GET /internal/v1/queues. Reading the depths also
// refreshes the queue depth gauges.
func (h *Handler) QueueStats(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]queue.QueueStats, len(h.queues))
	for _, q := range h.queues {
		stats, err := h.substrate.Stats(r.Context(), q)
		if err != nil {
			httputil.Error(w, err)
			return
		}
		out[q] = stats
	}
	httputil.JSON(w, http.StatusOK, map[string]interface{}{"queues": out})
}
