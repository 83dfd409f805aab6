package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/billinglab/billing-backend/internal/domain"
	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
)

// WebhookInboxRepository implements ports.WebhookInboxRepository against PostgreSQL
type WebhookInboxRepository struct {
	db ports.DBPort
}

// NewWebhookInboxRepository creates a new inbox repository
func NewWebhookInboxRepository(db ports.DBPort) *WebhookInboxRepository {
	return &WebhookInboxRepository{db: db}
}

func (r *WebhookInboxRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Create records a new inbound event. The unique event_id index is the dedup
// point: a second insert for the same event surfaces as ErrDuplicateEvent.
func (r *WebhookInboxRepository) Create(ctx context.Context, tx ports.DBTX, eventID string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal inbox payload: %w", err)
	}
	_, err = r.q(tx).Exec(ctx, `
		INSERT INTO webhook_inbox (event_id, payload) VALUES ($1, $2)`,
		eventID, body)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateEvent
		}
		return fmt.Errorf("create inbox record: %w", err)
	}
	return nil
}

// GetByEventID returns the inbox record, or nil when unseen.
func (r *WebhookInboxRepository) GetByEventID(ctx context.Context, tx ports.DBTX, eventID string) (*models.WebhookInbox, error) {
	var w models.WebhookInbox
	var payload []byte
	var processedAt pgtype.Timestamptz
	var errorMessage pgtype.Text
	err := r.q(tx).QueryRow(ctx, `
		SELECT id, event_id, payload, processed, processed_at, retry_count, error_message, created_at, updated_at
		FROM webhook_inbox WHERE event_id = $1`, eventID,
	).Scan(&w.ID, &w.EventID, &payload, &w.Processed, &processedAt, &w.RetryCount,
		&errorMessage, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get inbox record: %w", err)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &w.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal inbox payload: %w", err)
		}
	}
	w.ProcessedAt = timePtr(processedAt)
	w.ErrorMessage = errorMessage.String
	return &w, nil
}

// UpdatePayload replaces the stored payload for an unprocessed event.
func (r *WebhookInboxRepository) UpdatePayload(ctx context.Context, tx ports.DBTX, eventID string, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal inbox payload: %w", err)
	}
	_, err = r.q(tx).Exec(ctx, `
		UPDATE webhook_inbox SET payload = $2, updated_at = now()
		WHERE event_id = $1 AND NOT processed`, eventID, body)
	if err != nil {
		return fmt.Errorf("update inbox payload: %w", err)
	}
	return nil
}

// MarkProcessed flags the event as applied.
func (r *WebhookInboxRepository) MarkProcessed(ctx context.Context, tx ports.DBTX, eventID string, at time.Time) error {
	_, err := r.q(tx).Exec(ctx, `
		UPDATE webhook_inbox SET processed = true, processed_at = $2, error_message = NULL, updated_at = now()
		WHERE event_id = $1`, eventID, at)
	if err != nil {
		return fmt.Errorf("mark inbox processed: %w", err)
	}
	return nil
}

// RecordFailure bumps the retry counter and stores the latest error.
func (r *WebhookInboxRepository) RecordFailure(ctx context.Context, tx ports.DBTX, eventID string, errorMessage string) error {
	_, err := r.q(tx).Exec(ctx, `
		UPDATE webhook_inbox SET retry_count = retry_count + 1, error_message = $2, updated_at = now()
		WHERE event_id = $1`, eventID, errorMessage)
	if err != nil {
		return fmt.Errorf("record inbox failure: %w", err)
	}
	return nil
}

// OutboundWebhookRepository implements ports.OutboundWebhookRepository against PostgreSQL
type OutboundWebhookRepository struct {
	db ports.DBPort
}

// NewOutboundWebhookRepository creates a new outbound delivery repository
func NewOutboundWebhookRepository(db ports.DBPort) *OutboundWebhookRepository {
	return &OutboundWebhookRepository{db: db}
}

func (r *OutboundWebhookRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Create records a pending delivery.
func (r *OutboundWebhookRepository) Create(ctx context.Context, tx ports.DBTX, record *models.OutboundWebhook) error {
	body, err := json.Marshal(record.Payload)
	if err != nil {
		return fmt.Errorf("marshal outbound payload: %w", err)
	}
	err = r.q(tx).QueryRow(ctx, `
		INSERT INTO outbound_webhooks (event_id, target_url, payload)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		record.EventID, record.TargetURL, body,
	).Scan(&record.ID, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create outbound record: %w", err)
	}
	return nil
}

// MarkCompleted records a successful delivery.
func (r *OutboundWebhookRepository) MarkCompleted(ctx context.Context, tx ports.DBTX, eventID string, responseCode int, at time.Time) error {
	_, err := r.q(tx).Exec(ctx, `
		UPDATE outbound_webhooks
		SET response_code = $2, completed_at = $3, attempt_count = attempt_count + 1,
		    last_error = NULL, updated_at = now()
		WHERE event_id = $1`, eventID, responseCode, at)
	if err != nil {
		return fmt.Errorf("mark outbound completed: %w", err)
	}
	return nil
}

// RecordAttempt records a failed delivery attempt.
func (r *OutboundWebhookRepository) RecordAttempt(ctx context.Context, tx ports.DBTX, eventID string, responseCode int, lastError string) error {
	_, err := r.q(tx).Exec(ctx, `
		UPDATE outbound_webhooks
		SET response_code = $2, last_error = $3, attempt_count = attempt_count + 1, updated_at = now()
		WHERE event_id = $1`, eventID, responseCode, lastError)
	if err != nil {
		return fmt.Errorf("record outbound attempt: %w", err)
	}
	return nil
}
