package models

import "time"

// JobStatus enumerates the job lifecycle recorded in the durable event log.
type JobStatus string

const (
	JobStatusReceived   JobStatus = "received"
	JobStatusProcessing JobStatus = "processing"
	JobStatusSuccess    JobStatus = "success"
	JobStatusRetry      JobStatus = "retry"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDead       JobStatus = "dead"
)

// JobLog is one row per job state change, keyed by message id.
// Writes are best-effort and never block job progress.
type JobLog struct {
	ID             int64
	Service        string
	Queue          string
	MessageID      string
	CorrelationID  string
	IdempotencyKey string
	Action         string
	Status         JobStatus
	Attempts       int
	LastError      string
	NextRetryAt    *time.Time
	CreatedAt      time.Time
}
