package models

import "time"

// WebhookInbox records every inbound payment webhook on the subscription side.
// The unique event_id constraint is what makes processing idempotent.
type WebhookInbox struct {
	ID           int64
	EventID      string
	Payload      map[string]interface{}
	Processed    bool
	ProcessedAt  *time.Time
	RetryCount   int
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OutboundWebhook is the payment-side delivery record per target URL.
type OutboundWebhook struct {
	ID           int64
	EventID      string
	TargetURL    string
	Payload      map[string]interface{}
	ResponseCode int
	AttemptCount int
	CompletedAt  *time.Time
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
