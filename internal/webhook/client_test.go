package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/pkg/resilience"
)

func newTestClient(retries int) *Client {
	return NewClient("shared-secret", "billing-test/1.0", 5*time.Second, retries, zap.NewNop()).
		WithBackoff(&resilience.FixedBackoff{Delay: time.Millisecond})
}

func TestClient_DeliverSignsEveryAttempt(t *testing.T) {
	var requests int32
	verifier := NewVerifier("shared-secret", DefaultTolerance)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, verifier.Verify(
			r.Header.Get(HeaderSignature),
			r.Header.Get(HeaderTimestamp),
			body,
		))
		assert.Equal(t, "evt-42", r.Header.Get(HeaderEventID))
		assert.Equal(t, "billing-test/1.0", r.Header.Get("User-Agent"))

		if atomic.AddInt32(&requests, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := newTestClient(3).Deliver(context.Background(), server.URL,
		map[string]interface{}{"event_id": "evt-42", "status": "success"}, "evt-42")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestClient_ReceiverRejectionIsNotRetried(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	err := newTestClient(3).Deliver(context.Background(), server.URL,
		map[string]interface{}{"event_id": "evt-1"}, "evt-1")
	require.Error(t, err)
	assert.False(t, domain.IsRetryable(err))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newTestClient(2).Deliver(context.Background(), server.URL,
		map[string]interface{}{"event_id": "evt-1"}, "evt-1")
	require.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestClient_CancelledContextStopsRetrying(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient("shared-secret", "billing-test/1.0", 5*time.Second, 5, zap.NewNop()).
		WithBackoff(&resilience.FixedBackoff{Delay: time.Hour})
	err := c.Deliver(ctx, server.URL, map[string]interface{}{"event_id": "evt-1"}, "evt-1")
	require.Error(t, err)
}
