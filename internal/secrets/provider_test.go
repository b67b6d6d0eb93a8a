package secrets_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/gridsight/utility-bill-worker/internal/secrets"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestAESProvider_RoundTrip(t *testing.T) {
	p, err := secrets.NewAESProvider(testKey)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	creds := &secrets.Credentials{
		Username: "meter-admin",
		Password: "hunter2",
		Extra:    map[string]string{"account": "123-456"},
	}

	blob, err := p.Encrypt(creds)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	got, err := p.Decrypt(blob)
	if err != nil {
		t.Fatalf("Failed to decrypt: %v", err)
	}

	if got.Username != creds.Username {
		t.Errorf("Expected username %s, got %s", creds.Username, got.Username)
	}
	if got.Password != creds.Password {
		t.Errorf("Expected password to round-trip, got %s", got.Password)
	}
	if got.Extra["account"] != "123-456" {
		t.Errorf("Expected extra account 123-456, got %s", got.Extra["account"])
	}
}

func TestAESProvider_BadKeyLength(t *testing.T) {
	_, err := secrets.NewAESProvider("abcdef")
	if err == nil {
		t.Error("Expected error for short key")
	}
}

func TestAESProvider_NotHex(t *testing.T) {
	_, err := secrets.NewAESProvider(strings.Repeat("zz", 32))
	if err == nil {
		t.Error("Expected error for non-hex key")
	}
}

func TestAESProvider_CorruptBlob(t *testing.T) {
	p, err := secrets.NewAESProvider(testKey)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	creds := &secrets.Credentials{Username: "u", Password: "p"}
	blob, err := p.Encrypt(creds)
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	// Flip a ciphertext byte; GCM must reject it
	raw, err := base64.StdEncoding.DecodeString(string(blob))
	if err != nil {
		t.Fatalf("Failed to decode blob: %v", err)
	}
	raw[len(raw)-1] ^= 0xff
	corrupt := []byte(base64.StdEncoding.EncodeToString(raw))

	if _, err := p.Decrypt(corrupt); err == nil {
		t.Error("Expected error for corrupt blob")
	}
}

func TestAESProvider_TruncatedBlob(t *testing.T) {
	p, err := secrets.NewAESProvider(testKey)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if _, err := p.Decrypt([]byte("AAAA")); err == nil {
		t.Error("Expected error for truncated blob")
	}
}

func TestAESProvider_MissingUsername(t *testing.T) {
	p, err := secrets.NewAESProvider(testKey)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	blob, err := p.Encrypt(&secrets.Credentials{Password: "p"})
	if err != nil {
		t.Fatalf("Failed to encrypt: %v", err)
	}

	if _, err := p.Decrypt(blob); err == nil {
		t.Error("Expected error for credentials without username")
	}
}
