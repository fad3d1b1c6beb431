package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// S6 — signature verification.
func TestVerify_S6(t *testing.T) {
	body := []byte("b")
	secret := "s"
	header := sign(secret, body)

	if !Verify(body, header, secret) {
		t.Fatal("expected valid signature to verify")
	}

	flipped := []byte(header)
	flipped[len(flipped)-1] ^= 0x01
	if Verify(body, string(flipped), secret) {
		t.Fatal("flipping one hex nibble should invalidate the signature")
	}

	noPrefix := header[len("sha256="):]
	if Verify(body, noPrefix, secret) {
		t.Fatal("missing sha256= prefix should fail verification")
	}
}

func TestVerify_MissingSecretAccepts(t *testing.T) {
	if !Verify([]byte("anything"), "", "") {
		t.Fatal("missing secret should accept unconditionally (dev mode)")
	}
}

func TestVerify_MissingHeaderWithSecretRejects(t *testing.T) {
	if Verify([]byte("anything"), "", "configured-secret") {
		t.Fatal("missing header with a secret configured should reject")
	}
}

func TestVerifyAny_FirstMatchingPipelineWins(t *testing.T) {
	body := []byte("payload")
	secretB := "secret-b"
	header := sign(secretB, body)

	candidates := []Pipeline{
		{ID: "pipeline-a", Secret: "secret-a"},
		{ID: "pipeline-b", Secret: secretB},
		{ID: "pipeline-c", Secret: secretB},
	}
	id, ok := VerifyAny(body, header, candidates)
	if !ok || id != "pipeline-b" {
		t.Fatalf("got (%q, %v), want (pipeline-b, true)", id, ok)
	}
}
