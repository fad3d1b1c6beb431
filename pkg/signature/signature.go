// Package signature verifies GitHub-style webhook signatures:
// constant-time HMAC-SHA256 over the raw request body.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/sirupsen/logrus"
)

const sha256Prefix = "sha256="

// Verify reports whether header is a valid `sha256=<hex>` HMAC-SHA256 of
// body under secret. A missing secret accepts the request unconditionally
// (development mode) and logs a warning. A missing header with a secret
// configured is rejected. Comparison is constant-time.
func Verify(body []byte, header, secret string) bool {
	if secret == "" {
		logrus.WithField("component", "signature").Warn("no webhook secret configured, accepting unverified payload")
		return true
	}
	if header == "" {
		return false
	}
	if !strings.HasPrefix(header, sha256Prefix) {
		return false
	}
	gotHex := strings.TrimPrefix(header, sha256Prefix)
	got, err := hex.DecodeString(gotHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	want := mac.Sum(nil)

	return hmac.Equal(got, want)
}

// Pipeline is the minimal shape this package needs from a candidate
// pipeline to attempt verification against its webhook secret.
type Pipeline struct {
	ID     string
	Secret string
}

// VerifyAny iterates candidates in order and returns the first whose secret
// verifies the signature, establishing that pipeline as the webhook's
// verified identity. ok is false if none verify.
func VerifyAny(body []byte, header string, candidates []Pipeline) (pipelineID string, ok bool) {
	for _, p := range candidates {
		if Verify(body, header, p.Secret) {
			return p.ID, true
		}
	}
	return "", false
}
