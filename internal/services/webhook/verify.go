package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

var ErrSignatureInvalid = errors.New("webhook: signature invalid")

type Verifier interface {
	Verify(payload []byte, header string) error
}

// HMACVerifier checks a hex HMAC-SHA256 of the raw body, optionally prefixed "sha256=".
type HMACVerifier struct {
	Secret string
}

func (v HMACVerifier) Verify(payload []byte, header string) error {
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	if header == "" || v.Secret == "" {
		return ErrSignatureInvalid
	}
	got, err := hex.DecodeString(header)
	if err != nil {
		return ErrSignatureInvalid
	}
	if !hmac.Equal(got, Sign(v.Secret, payload)) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign returns the raw HMAC-SHA256 of payload. Hex-encode it for the signature header.
func Sign(secret string, payload []byte) []byte {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return h.Sum(nil)
}

func SignHex(secret string, payload []byte) string {
	return hex.EncodeToString(Sign(secret, payload))
}

// StripeVerifier checks the Stripe-Signature header (t=...,v1=...) with replay tolerance.
type StripeVerifier struct {
	Secret    string
	Tolerance time.Duration
}

func (v StripeVerifier) Verify(payload []byte, header string) error {
	tolerance := v.Tolerance
	if tolerance <= 0 {
		tolerance = stripewebhook.DefaultTolerance
	}
	if err := stripewebhook.ValidatePayloadWithTolerance(payload, header, v.Secret, tolerance); err != nil {
		return errors.Join(ErrSignatureInvalid, err)
	}
	return nil
}
