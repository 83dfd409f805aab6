package webhook

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/domain"
	httppool "github.com/billinglab/billing-backend/pkg/http"
	"github.com/billinglab/billing-backend/pkg/resilience"
)

var deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "webhook_deliveries_total",
	Help: "Outbound webhook delivery attempts by outcome",
}, []string{"outcome"})

// Client delivers signed webhooks. Each attempt carries a fresh timestamp
// and signature over the canonical body. Responses below 400 count as
// delivered; 4xx responses are the receiver rejecting the payload and are
// never retried; 5xx and transport failures retry with backoff.
type Client struct {
	httpClient *http.Client
	secret     []byte
	userAgent  string
	maxRetries int
	backoff    resilience.BackoffStrategy
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient builds a webhook client. maxRetries counts total send attempts;
// values below 1 are clamped to 1.
func NewClient(secret, userAgent string, timeout time.Duration, maxRetries int, logger *zap.Logger) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "webhook-delivery",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("webhook circuit state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &Client{
		httpClient: httppool.NewClient(httppool.WebhookClientConfig(), timeout),
		secret:     []byte(secret),
		userAgent:  userAgent,
		maxRetries: maxRetries,
		backoff:    resilience.WebhookBackoff(),
		breaker:    breaker,
		logger:     logger,
	}
}

// WithBackoff overrides the retry delay schedule.
func (c *Client) WithBackoff(b resilience.BackoffStrategy) *Client {
	if b != nil {
		c.backoff = b
	}
	return c
}

// Deliver signs and posts the payload to url. eventID is optional and, when
// set, rides along so the receiver can deduplicate.
func (c *Client) Deliver(ctx context.Context, url string, payload interface{}, eventID string) error {
	body, err := CanonicalJSON(payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff.NextDelay(attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := c.send(ctx, url, body, eventID)
		if err == nil {
			deliveriesTotal.WithLabelValues("delivered").Inc()
			return nil
		}
		if !domain.IsRetryable(err) {
			deliveriesTotal.WithLabelValues("rejected").Inc()
			return err
		}
		lastErr = err
		c.logger.Warn("webhook delivery attempt failed",
			zap.String("url", url),
			zap.String("event_id", eventID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	deliveriesTotal.WithLabelValues("failed").Inc()
	return fmt.Errorf("webhook delivery to %s failed after %d attempts: %w", url, c.maxRetries, lastErr)
}

func (c *Client) send(ctx context.Context, url string, body []byte, eventID string) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	signature := Sign(c.secret, timestamp, body)

	_, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, domain.WrapError(domain.ErrorCodeValidationFailed, "build webhook request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set(HeaderSignature, signature)
		req.Header.Set(HeaderTimestamp, timestamp)
		if eventID != "" {
			req.Header.Set(HeaderEventID, eventID)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, domain.Retryable(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < http.StatusBadRequest {
			return nil, nil
		}
		if resp.StatusCode < http.StatusInternalServerError {
			return nil, domain.WrapError(domain.ErrorCodeValidationFailed,
				fmt.Sprintf("webhook rejected with status %d", resp.StatusCode), nil)
		}
		return nil, domain.Retryable(fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode))
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return domain.Retryable(err)
		}
		return err
	}
	return nil
}
