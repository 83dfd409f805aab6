package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Envelope(t *testing.T) {
	env := NewEnvelope("payment_initiation", map[string]interface{}{
		"subscription_id": "f3b9a2d0-0000-0000-0000-000000000001",
		"amount":          "29.99",
	}).WithCorrelation("corr-1").WithIdempotencyKey("idem-1")

	raw, err := env.Encode()
	require.NoError(t, err)

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, "payment_initiation", got.Action)
	assert.Equal(t, "corr-1", got.CorrelationID)
	assert.Equal(t, "idem-1", got.IdempotencyKey)
	assert.Equal(t, "29.99", got.Payload["amount"])
	assert.Equal(t, 0, got.Attempts)
}

func TestDecode_LegacyPayload(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantAction string
		wantID     string
		wantErr    bool
	}{
		{
			name:       "action_key",
			raw:        `{"action":"usage_sync","subscription_id":"sub-1"}`,
			wantAction: "usage_sync",
		},
		{
			name:       "webhook_key",
			raw:        `{"webhook":"subscription_update","event_id":"evt-9"}`,
			wantAction: "subscription_update",
			wantID:     "evt-9",
		},
		{
			name:    "no_action",
			raw:     `{"subscription_id":"sub-1"}`,
			wantErr: true,
		},
		{
			name:    "not_json",
			raw:     `definitely not json`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAction, got.Action)
			if tt.wantID != "" {
				assert.Equal(t, tt.wantID, got.ID)
				assert.Equal(t, tt.wantID, got.IdempotencyKey)
			} else {
				assert.Equal(t, ContentHash(tt.raw), got.ID)
			}
		})
	}
}

func TestDecode_LegacyCorrelationAndAttempts(t *testing.T) {
	raw := `{"action":"plan_change","subscription_id":"sub-7","attempts":3}`
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "sub-7", got.CorrelationID)
	assert.Equal(t, 3, got.Attempts)
}

func TestEnvelope_MessageID(t *testing.T) {
	raw := `{"action":"x","payload":{}}`

	withID := &Envelope{ID: "msg-1"}
	assert.Equal(t, "msg-1", withID.MessageID(raw))

	bare := &Envelope{}
	assert.Equal(t, ContentHash(raw), bare.MessageID(raw))

	// Byte-identical messages share an identity, so they share a lock.
	assert.Equal(t, bare.MessageID(raw), bare.MessageID(raw))
}

func TestEnvelope_Clone(t *testing.T) {
	env := NewEnvelope("refund_initiation", map[string]interface{}{"amount": "1.00"})
	clone := env.Clone(4)

	assert.Equal(t, 4, clone.Attempts)
	assert.Equal(t, 0, env.Attempts)
	assert.Equal(t, env.ID, clone.ID)

	// Round-trip keeps the bumped attempt count.
	raw, err := clone.Encode()
	require.NoError(t, err)
	var check map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &check))
	assert.Equal(t, float64(4), check["attempts"])
}
