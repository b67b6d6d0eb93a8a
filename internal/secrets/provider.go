package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Credentials is the decrypted login material for one data source. Plaintext
// exists only for the duration of a run and is never persisted or logged.
type Credentials struct {
	Username string            `json:"username"`
	Password string            `json:"password"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Provider decrypts the credentials blob stored on a data source. Injected so
// tests can stub decryption without real key material.
type Provider interface {
	Decrypt(blob []byte) (*Credentials, error)
}

// AESProvider decrypts AES-256-GCM blobs. The blob is base64 of
// nonce||ciphertext; the payload is the JSON encoding of Credentials.
type AESProvider struct {
	key []byte
}

// NewAESProvider creates a provider from a hex-encoded 256-bit key.
func NewAESProvider(hexKey string) (*AESProvider, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode AES key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("AES key must be 32 bytes, got %d", len(key))
	}
	return &AESProvider{key: key}, nil
}

// Decrypt implements Provider.
func (p *AESProvider) Decrypt(blob []byte) (*Credentials, error) {
	raw, err := base64.StdEncoding.DecodeString(string(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to decode credentials blob: %w", err)
	}

	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return nil, fmt.Errorf("credentials blob too short: %d bytes", len(raw))
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal credentials: %w", err)
	}
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("credentials missing username or password")
	}

	return &creds, nil
}

// Encrypt is the inverse of Decrypt. Used by provisioning tooling and tests;
// the worker itself never writes credential blobs.
func (p *AESProvider) Encrypt(creds *Credentials) ([]byte, error) {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal credentials: %w", err)
	}

	block, err := aes.NewCipher(p.key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	raw := gcm.Seal(nonce, nonce, plaintext, nil)
	return []byte(base64.StdEncoding.EncodeToString(raw)), nil
}

// Static is a Provider returning fixed credentials, for tests.
type Static struct {
	Credentials *Credentials
	Err         error
}

// Decrypt implements Provider.
func (s *Static) Decrypt(blob []byte) (*Credentials, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Credentials, nil
}
