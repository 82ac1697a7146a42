package reconcile

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tjfontaine/carelog/internal/domain"
)

// Standard Webhooks headers.
const (
	HeaderWebhookID        = "Webhook-Id"
	HeaderWebhookTimestamp = "Webhook-Timestamp"
	HeaderWebhookSignature = "Webhook-Signature"

	secretPrefix     = "whsec_"
	signatureVersion = "v1"
)

// DefaultTolerance bounds the clock skew accepted on webhook-timestamp.
const DefaultTolerance = 5 * time.Minute

// Verifier checks Standard Webhooks signatures. A nil Verifier accepts
// every request.
type Verifier struct {
	key       []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier parses secret, either "whsec_<base64>" or a raw string. An
// empty secret returns a nil Verifier.
func NewVerifier(secret string) (*Verifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, nil
	}

	key := []byte(secret)
	if strings.HasPrefix(secret, secretPrefix) {
		decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, secretPrefix))
		if err != nil {
			return nil, domain.ErrValidation("payments.webhook_secret", "is not valid base64")
		}
		key = decoded
	}
	return &Verifier{key: key, tolerance: DefaultTolerance, now: time.Now}, nil
}

// Sign returns the signature header value for body.
func (v *Verifier) Sign(msgID string, ts time.Time, body []byte) string {
	return signatureVersion + "," + v.compute(msgID, strconv.FormatInt(ts.Unix(), 10), body)
}

func (v *Verifier) compute(msgID, ts string, body []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(msgID))
	mac.Write([]byte{'.'})
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature headers against body.
func (v *Verifier) Verify(h http.Header, body []byte) error {
	if v == nil {
		return nil
	}

	msgID := h.Get(HeaderWebhookID)
	ts := h.Get(HeaderWebhookTimestamp)
	sigs := h.Get(HeaderWebhookSignature)
	if msgID == "" || ts == "" || sigs == "" {
		return invalidSignature("missing signature headers")
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return invalidSignature("invalid timestamp")
	}
	skew := v.now().Sub(time.Unix(sec, 0))
	if skew > v.tolerance || skew < -v.tolerance {
		return invalidSignature("timestamp outside tolerance")
	}

	want := []byte(v.compute(msgID, ts, body))
	// The header may carry several space-separated signatures during
	// secret rotation.
	for _, sig := range strings.Fields(sigs) {
		version, value, ok := strings.Cut(sig, ",")
		if !ok || version != signatureVersion {
			continue
		}
		if hmac.Equal([]byte(value), want) {
			return nil
		}
	}
	return invalidSignature("no matching signature")
}

func invalidSignature(msg string) error {
	return domain.ErrAuthentication(msg).WithCode(domain.ErrorCodeInvalidSignature)
}
