package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/billinglab/billing-backend/internal/domain/models"
	"github.com/billinglab/billing-backend/internal/domain/ports"
)

// JobLogRepository implements ports.JobLogRepository against PostgreSQL
type JobLogRepository struct {
	db ports.DBPort
}

// NewJobLogRepository creates a new job log repository
func NewJobLogRepository(db ports.DBPort) *JobLogRepository {
	return &JobLogRepository{db: db}
}

func (r *JobLogRepository) q(tx ports.DBTX) ports.DBTX {
	if tx != nil {
		return tx
	}
	return r.db.GetDB()
}

// Append inserts one lifecycle row.
func (r *JobLogRepository) Append(ctx context.Context, tx ports.DBTX, entry *models.JobLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	err := r.q(tx).QueryRow(ctx, `
		INSERT INTO job_log
			(service, queue, message_id, correlation_id, idempotency_key, action,
			 status, attempts, last_error, next_retry_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		entry.Service, entry.Queue, entry.MessageID,
		nullText(entry.CorrelationID), nullText(entry.IdempotencyKey), entry.Action,
		string(entry.Status), entry.Attempts, nullText(entry.LastError),
		nullTimestamptz(entry.NextRetryAt), entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("append job log: %w", err)
	}
	return nil
}

// ListByMessageID returns the lifecycle rows for one message, oldest first.
func (r *JobLogRepository) ListByMessageID(ctx context.Context, tx ports.DBTX, messageID string) ([]*models.JobLog, error) {
	rows, err := r.q(tx).Query(ctx, `
		SELECT id, service, queue, message_id,
		       COALESCE(correlation_id, ''), COALESCE(idempotency_key, ''), action,
		       status, attempts, COALESCE(last_error, ''), next_retry_at, created_at
		FROM job_log WHERE message_id = $1 ORDER BY created_at, id`, messageID)
	if err != nil {
		return nil, fmt.Errorf("list job log: %w", err)
	}
	defer rows.Close()

	var out []*models.JobLog
	for rows.Next() {
		var e models.JobLog
		var status string
		if err := rows.Scan(&e.ID, &e.Service, &e.Queue, &e.MessageID,
			&e.CorrelationID, &e.IdempotencyKey, &e.Action,
			&status, &e.Attempts, &e.LastError, &e.NextRetryAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}
		e.Status = models.JobStatus(status)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// JobLogStore adapts the repository to the queue recorder's transaction-free
// Append signature.
type JobLogStore struct {
	repo *JobLogRepository
}

// NewJobLogStore wraps a repository for use by queue recorders.
func NewJobLogStore(repo *JobLogRepository) *JobLogStore {
	return &JobLogStore{repo: repo}
}

// Append writes one row outside any transaction.
func (s *JobLogStore) Append(ctx context.Context, entry *models.JobLog) error {
	return s.repo.Append(ctx, nil, entry)
}
