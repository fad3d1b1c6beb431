package httpapi

import (
	"crypto/rand"
	"encoding/hex"
)

// randomSecret returns a fresh 32-byte hex-encoded secret, used to mint a
// pipeline's webhook secret at creation time.
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
