// Package secretbox implements per-tenant AES-GCM encryption of pipeline
// and organization secrets. The per-tenant key is derived from the process
// master key via PBKDF2 with the tenant ID as salt, per the data model's
// requirement that plaintext never crosses a tenant boundary through a
// shared key.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	versionPrefix = "v1:"
	pbkdf2Iters   = 100_000
)

// Box derives and caches nothing; it is a thin, stateless wrapper around
// the master key supplied at construction, mirroring the teacher's
// envelope-encryption helper shape.
type Box struct {
	masterKey []byte
}

// New constructs a Box from the raw master key bytes (SECRET_ENCRYPTION_KEY).
func New(masterKey []byte) *Box {
	return &Box{masterKey: masterKey}
}

// deriveKey computes PBKDF2(master, salt=tenantID, 100000 iters, SHA-256).
func (b *Box) deriveKey(tenantID string) []byte {
	return pbkdf2.Key(b.masterKey, []byte(tenantID), pbkdf2Iters, 32, sha256.New)
}

// Encrypt seals plaintext under the per-tenant derived key. The result is
// ASCII-safe: "v1:" + base64url(nonce || ciphertext).
func (b *Box) Encrypt(tenantID string, plaintext []byte) (string, error) {
	key := b.deriveKey(tenantID)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, []byte(tenantID))
	buf := append(nonce, ciphertext...)
	return versionPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Decrypt reverses Encrypt. tenantID must match the value supplied at
// encryption time, both as the key-derivation salt and the AEAD
// associated data.
func (b *Box) Decrypt(tenantID, ciphertext string) ([]byte, error) {
	encoded := strings.TrimPrefix(strings.TrimSpace(ciphertext), versionPrefix)
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	key := b.deriveKey(tenantID)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	if len(raw) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := raw[:aead.NonceSize()], raw[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, body, []byte(tenantID))
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return plaintext, nil
}
