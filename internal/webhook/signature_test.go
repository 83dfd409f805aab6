package webhook

import (
	"fmt"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billinglab/billing-backend/internal/domain"
)

func TestSign_KnownVector(t *testing.T) {
	sig := Sign([]byte("k"), "1700000000", []byte(`{"a":1,"b":2}`))
	assert.True(t, strings.HasPrefix(sig, "sha256="))
	assert.Len(t, sig, len("sha256=")+64)

	// Same inputs, same signature; any input change breaks it.
	assert.Equal(t, sig, Sign([]byte("k"), "1700000000", []byte(`{"a":1,"b":2}`)))
	assert.NotEqual(t, sig, Sign([]byte("k"), "1700000001", []byte(`{"a":1,"b":2}`)))
	assert.NotEqual(t, sig, Sign([]byte("k2"), "1700000000", []byte(`{"a":1,"b":2}`)))
	assert.NotEqual(t, sig, Sign([]byte("k"), "1700000000", []byte(`{"a":1,"b":3}`)))
}

func newTestVerifier(secret string, at time.Time) *Verifier {
	v := NewVerifier(secret, DefaultTolerance)
	v.now = func() time.Time { return at }
	return v
}

func TestVerifier_Verify(t *testing.T) {
	now := time.Unix(1700000000, 0)
	body := []byte(`{"event_id":"evt-1","status":"success"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	good := Sign([]byte("shared-secret"), ts, body)

	tests := []struct {
		name      string
		signature string
		timestamp string
		body      []byte
		wantCode  domain.ErrorCode
	}{
		{
			name:      "valid",
			signature: good,
			timestamp: ts,
			body:      body,
		},
		{
			name:      "wrong_signature",
			signature: "sha256=" + strings.Repeat("0", 64),
			timestamp: ts,
			body:      body,
			wantCode:  domain.ErrorCodeAuthSignatureInvalid,
		},
		{
			name:      "tampered_body",
			signature: good,
			timestamp: ts,
			body:      []byte(`{"event_id":"evt-1","status":"failure"}`),
			wantCode:  domain.ErrorCodeAuthSignatureInvalid,
		},
		{
			name:      "non_numeric_timestamp",
			signature: good,
			timestamp: "yesterday",
			body:      body,
			wantCode:  domain.ErrorCodeAuthTimestampInvalid,
		},
		{
			name:      "stale_timestamp",
			signature: good,
			timestamp: strconv.FormatInt(now.Add(-6*time.Minute).Unix(), 10),
			body:      body,
			wantCode:  domain.ErrorCodeAuthTimestampExpired,
		},
		{
			name:      "future_timestamp_outside_window",
			signature: good,
			timestamp: strconv.FormatInt(now.Add(6*time.Minute).Unix(), 10),
			body:      body,
			wantCode:  domain.ErrorCodeAuthTimestampExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVerifier("shared-secret", now)
			err := v.Verify(tt.signature, tt.timestamp, tt.body)
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, domain.GetErrorCode(err))
		})
	}
}

func TestVerifier_AcceptsDriftWithinWindow(t *testing.T) {
	now := time.Unix(1700000000, 0)
	for _, drift := range []time.Duration{-4 * time.Minute, 4 * time.Minute} {
		ts := strconv.FormatInt(now.Add(drift).Unix(), 10)
		body := []byte(`{}`)
		sig := Sign([]byte("s"), ts, body)
		v := newTestVerifier("s", now)
		assert.NoError(t, v.Verify(sig, ts, body), fmt.Sprintf("drift %v", drift))
	}
}
