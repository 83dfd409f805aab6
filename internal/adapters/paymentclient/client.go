package paymentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/billinglab/billing-backend/internal/auth"
	"github.com/billinglab/billing-backend/internal/domain"
	httppool "github.com/billinglab/billing-backend/pkg/http"
)

// ProcessPaymentRequest is the body of the internal payment call.
type ProcessPaymentRequest struct {
	SubscriptionID string            `json:"subscription_id,omitempty"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	Card           map[string]string `json:"card,omitempty"`
	Trial          bool              `json:"trial,omitempty"`
	Renewal        bool              `json:"renewal,omitempty"`
	Upgrade        bool              `json:"upgrade,omitempty"`
}

// PaymentResult is the settled outcome of the internal payment call. A
// declined charge is still a settled result.
type PaymentResult struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// Client calls the payment service's internal API with short-lived service
// tokens. The subscription-side payment workers are its only consumers.
type Client struct {
	baseURL     string
	serviceName string
	httpClient  *http.Client
	tokens      *auth.JWTManager
	logger      *zap.Logger
}

// NewClient creates a payment service client.
func NewClient(baseURL, serviceName string, timeout time.Duration, tokens *auth.JWTManager, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		serviceName: serviceName,
		httpClient:  httppool.NewClient(httppool.InternalAPIClientConfig(), timeout),
		tokens:      tokens,
		logger:      logger,
	}
}

// ProcessPayment runs one charge to settlement. Transport failures and 5xx
// responses come back retryable; the caller's queue retry provides the
// at-least-once behavior. A 402 is a settled decline, not a failure.
func (c *Client) ProcessPayment(ctx context.Context, req ProcessPaymentRequest) (*PaymentResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal payment request: %w", err)
	}

	token, err := c.tokens.IssueServiceToken(c.serviceName)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/internal/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build payment request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.Retryable(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated ||
		resp.StatusCode == http.StatusPaymentRequired:
		var result PaymentResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return nil, domain.Retryable(fmt.Errorf("decode payment response: %w", err))
		}
		return &result, nil
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, domain.Retryable(fmt.Errorf("payment service returned status %d", resp.StatusCode))
	default:
		return nil, domain.WrapError(domain.ErrorCodeValidationFailed,
			fmt.Sprintf("payment service rejected request with status %d", resp.StatusCode), nil)
	}
}
