package auth

import (
	"strings"
	"testing"
	"time"
)

func TestIssuerValidate_RoundTrip(t *testing.T) {
	issuer := NewIssuer("test-signing-key")
	token, err := issuer.IssueAccessToken("user-1", "tenant-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != "user-1" || claims.TenantID != "tenant-1" || claims.TokenUse != "access" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestIssuerValidate_WrongKeyRejected(t *testing.T) {
	issuer := NewIssuer("key-a")
	token, _ := issuer.IssueAccessToken("user-1", "tenant-1")
	other := NewIssuer("key-b")
	if _, err := other.Validate(token); err == nil {
		t.Fatal("expected validation under a different signing key to fail")
	}
}

func TestNewAPIKey_Shape(t *testing.T) {
	key, err := NewAPIKey()
	if err != nil {
		t.Fatalf("new api key: %v", err)
	}
	if !strings.HasPrefix(key.FullKey, "mci_") {
		t.Errorf("expected mci_ prefix, got %q", key.FullKey)
	}
	if key.KeyPrefix != key.FullKey[:8] {
		t.Errorf("key prefix mismatch")
	}
	if key.KeyHash != HashToken(key.FullKey) {
		t.Error("key hash does not match HashToken(fullKey)")
	}
}

func TestNewRunnerToken_Prefix(t *testing.T) {
	full, hash, err := NewRunnerToken()
	if err != nil {
		t.Fatalf("new runner token: %v", err)
	}
	if !strings.HasPrefix(full, "mci_runner_") {
		t.Errorf("expected mci_runner_ prefix, got %q", full)
	}
	if hash != HashToken(full) {
		t.Error("hash does not match HashToken(full)")
	}
}

func TestScopeAllows(t *testing.T) {
	cases := []struct {
		scope            Scope
		resource, action string
		want             bool
	}{
		{"*", "pipeline", "read", true},
		{"pipeline:read", "pipeline", "read", true},
		{"pipeline:read", "pipeline", "write", false},
		{"pipeline:*", "pipeline", "write", true},
		{"pipeline:*", "runner", "write", false},
	}
	for _, tc := range cases {
		if got := tc.scope.Allows(tc.resource, tc.action); got != tc.want {
			t.Errorf("%q.Allows(%q, %q) = %v, want %v", tc.scope, tc.resource, tc.action, got, tc.want)
		}
	}
}

func TestIssueAccessToken_Expiry(t *testing.T) {
	issuer := NewIssuer("k")
	token, _ := issuer.IssueAccessToken("u", "t")
	claims, err := issuer.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	remaining := claims.ExpiresAt.Time.Sub(time.Now())
	if remaining <= 0 || remaining > accessTokenTTL {
		t.Errorf("unexpected expiry window: %v", remaining)
	}
}
