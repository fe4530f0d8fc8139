// Package crypto encrypts credential material at rest using AES-256-GCM.
// Ciphertexts are self-contained (nonce-prefixed, authenticated) and
// base64-encoded so they fit in text columns.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Encryptor seals and opens sensitive strings. Implementations must provide
// authenticated encryption so tampering with stored tokens is detected.
type Encryptor interface {
	Seal(plaintext string) (string, error)
	Open(ciphertext string) (string, error)
}

// AESEncryptor implements Encryptor with AES-256-GCM.
type AESEncryptor struct {
	aead cipher.AEAD
}

// NewAESEncryptor builds an encryptor from a base64-encoded 32-byte key
// (generate with `openssl rand -base64 32`).
func NewAESEncryptor(base64Key string) (*AESEncryptor, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &AESEncryptor{aead: aead}, nil
}

// Seal encrypts plaintext and returns base64(nonce || ciphertext || tag).
// Empty plaintext round-trips as empty; absent tokens stay absent.
func (e *AESEncryptor) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts and authenticates a value produced by Seal.
func (e *AESEncryptor) Open(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	ns := e.aead.NonceSize()
	if len(raw) < ns {
		return "", fmt.Errorf("ciphertext too short: expected at least %d bytes, got %d", ns, len(raw))
	}
	plain, err := e.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		// Keep the cause out of the message; it may leak oracle details.
		return "", fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return string(plain), nil
}
