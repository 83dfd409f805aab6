package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/billinglab/billing-backend/internal/domain"
)

// Header and scheme constants shared by both sides of the webhook channel.
const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderTimestamp = "X-Webhook-Timestamp"
	HeaderEventID   = "X-Webhook-Event-ID"

	schemePrefix = "sha256="

	// DefaultTolerance bounds how far a request timestamp may drift from
	// the receiver's clock in either direction.
	DefaultTolerance = 5 * time.Minute
)

// Sign computes the signature for a timestamp and body under the secret.
// The signing string is the unix timestamp, a dot, then the exact body
// bytes.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return schemePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verifier checks inbound webhook signatures against a shared secret with a
// bounded timestamp window.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier builds a verifier. A non-positive tolerance falls back to the
// default window.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: []byte(secret), tolerance: tolerance, now: time.Now}
}

// Verify checks the timestamp window first, then the signature in constant
// time. The body must be the exact bytes received on the wire.
func (v *Verifier) Verify(signature, timestamp string, body []byte) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return domain.ErrTimestampInvalid
	}
	drift := v.now().Unix() - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(v.tolerance.Seconds()) {
		return domain.ErrTimestampOutOfWindow
	}
	expected := Sign(v.secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.ErrSignatureInvalid
	}
	return nil
}
