package secretbox

import "testing"

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	box := New([]byte("a-32-byte-ish-master-key-value!!"))
	ct, err := box.Encrypt("tenant-a", []byte("super secret value"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	pt, err := box.Decrypt("tenant-a", ct)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if string(pt) != "super secret value" {
		t.Errorf("got %q", pt)
	}
}

func TestDecrypt_WrongTenantFails(t *testing.T) {
	box := New([]byte("a-32-byte-ish-master-key-value!!"))
	ct, err := box.Encrypt("tenant-a", []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := box.Decrypt("tenant-b", ct); err == nil {
		t.Fatal("expected decryption under a different tenant's derived key to fail")
	}
}
