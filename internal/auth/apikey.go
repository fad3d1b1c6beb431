package auth

import (
	"fmt"
	"strings"
)

const (
	apiKeyPrefix     = "mci_"
	runnerKeyPrefix  = "mci_runner_"
	secretByteLen    = 32
	displayPrefixLen = 8
)

// IssuedAPIKey is returned exactly once at creation; only KeyHash and
// KeyPrefix are persisted.
type IssuedAPIKey struct {
	FullKey   string
	KeyPrefix string
	KeyHash   string
}

// NewAPIKey mints a new `mci_<urlsafe-32-byte-secret>` API key.
func NewAPIKey() (*IssuedAPIKey, error) {
	secret, err := randomURLSafeSecret(secretByteLen)
	if err != nil {
		return nil, err
	}
	full := apiKeyPrefix + secret
	return &IssuedAPIKey{
		FullKey:   full,
		KeyPrefix: full[:displayPrefixLen],
		KeyHash:   HashToken(full),
	}, nil
}

// NewRunnerToken mints a new `mci_runner_<urlsafe-32-byte-secret>` runner
// registration token, shown once at creation; only its hash is stored.
func NewRunnerToken() (full string, hash string, err error) {
	secret, err := randomURLSafeSecret(secretByteLen)
	if err != nil {
		return "", "", err
	}
	full = runnerKeyPrefix + secret
	return full, HashToken(full), nil
}

// Scope is a single API key permission string such as "pipeline:read",
// "*" (full wildcard), or "pipeline:*" (any action on a resource).
type Scope string

// Allows reports whether this scope authorizes the requested
// "<resource>:<action>" permission.
func (s Scope) Allows(resource, action string) bool {
	if s == "*" {
		return true
	}
	want := fmt.Sprintf("%s:%s", resource, action)
	if string(s) == want {
		return true
	}
	if strings.HasSuffix(string(s), ":*") {
		return strings.TrimSuffix(string(s), ":*") == resource
	}
	return false
}

// AnyAllows reports whether any scope in scopes authorizes resource:action.
func AnyAllows(scopes []string, resource, action string) bool {
	for _, s := range scopes {
		if Scope(s).Allows(resource, action) {
			return true
		}
	}
	return false
}
