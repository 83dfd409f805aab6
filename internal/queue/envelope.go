package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the canonical wire form of a queue message. Payload carries the
// action-specific body; the remaining fields are delivery metadata owned by
// the queue layer.
type Envelope struct {
	ID             string                 `json:"id"`
	Action         string                 `json:"action"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
	IdempotencyKey string                 `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	Attempts       int                    `json:"attempts"`
	MaxAttempts    int                    `json:"max_attempts,omitempty"`
	Payload        map[string]interface{} `json:"payload"`
}

// NewEnvelope wraps a payload for enqueueing with fresh delivery metadata.
func NewEnvelope(action string, payload map[string]interface{}) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Action:    action,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
}

// WithCorrelation tags the envelope with a correlation id for tracing.
func (e *Envelope) WithCorrelation(id string) *Envelope {
	e.CorrelationID = id
	return e
}

// WithIdempotencyKey tags the envelope with a consumer dedup key.
func (e *Envelope) WithIdempotencyKey(key string) *Envelope {
	e.IdempotencyKey = key
	return e
}

// Encode serializes the envelope for the wire.
func (e *Envelope) Encode() (string, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}
	return string(b), nil
}

// MessageID identifies the message for locking: the envelope id when present,
// otherwise a content hash of the serialized form so identical bare payloads
// share one lock.
func (e *Envelope) MessageID(raw string) string {
	if e.ID != "" {
		return e.ID
	}
	return ContentHash(raw)
}

// ContentHash returns the hex SHA-256 of the serialized message.
func ContentHash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Clone returns a copy with the given attempt count, sharing the payload map.
func (e *Envelope) Clone(attempts int) *Envelope {
	c := *e
	c.Attempts = attempts
	return &c
}

// Decode parses a raw queue message. Messages that carry both "action" and
// "payload" keys are treated as envelopes; anything else is a legacy bare
// payload from an older producer and gets wrapped in place so consumers see
// one shape. Wrapped messages derive their identity from the payload: event_id
// when present, content hash otherwise.
func Decode(raw string) (*Envelope, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	_, hasAction := probe["action"]
	_, hasPayload := probe["payload"]
	if hasAction && hasPayload {
		var env Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			return nil, fmt.Errorf("decode envelope: %w", err)
		}
		if env.Action == "" {
			return nil, fmt.Errorf("decode envelope: empty action")
		}
		return &env, nil
	}
	return wrapLegacy(raw)
}

// wrapLegacy lifts a bare payload into envelope shape. Kept only until the
// last pre-envelope producer is retired.
func wrapLegacy(raw string) (*Envelope, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode legacy payload: %w", err)
	}
	env := &Envelope{
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
	if v, ok := payload["action"].(string); ok && v != "" {
		env.Action = v
	} else if v, ok := payload["webhook"].(string); ok && v != "" {
		env.Action = v
	}
	if env.Action == "" {
		return nil, fmt.Errorf("decode legacy payload: no action")
	}
	if v, ok := payload["event_id"].(string); ok && v != "" {
		env.ID = v
		env.IdempotencyKey = v
	} else {
		env.ID = ContentHash(raw)
	}
	if v, ok := payload["subscription_id"].(string); ok {
		env.CorrelationID = v
	}
	if v, ok := payload["attempts"].(float64); ok {
		env.Attempts = int(v)
	}
	return env, nil
}
