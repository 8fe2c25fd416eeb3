package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// sealedPrefix marks a payload written by Seal. Raw webhook bodies are JSON and
// never start with these bytes, so rows stored before encryption was enabled
// stay readable.
var sealedPrefix = []byte{0x00, 'p', 'c', 'n', 0x01}

// ErrSealedPayload is returned when a sealed payload cannot be opened
var ErrSealedPayload = errors.New("sealed payload cannot be decrypted")

// Encryptor seals stored webhook payloads with AES-256-GCM.
// A nil *Encryptor is valid and passes data through unchanged.
type Encryptor struct {
	gcm cipher.AEAD
}

// NewEncryptor creates an Encryptor from a hex-encoded 32-byte key.
// Returns nil, nil when hexKey is empty (encryption disabled).
func NewEncryptor(hexKey string) (*Encryptor, error) {
	if hexKey == "" {
		return nil, nil
	}

	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (64 hex chars), got %d bytes", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Encryptor{gcm: gcm}, nil
}

// Seal returns prefix || nonce || ciphertext
func (e *Encryptor) Seal(plaintext []byte) ([]byte, error) {
	if e == nil {
		return plaintext, nil
	}

	nonce := make([]byte, e.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(sealedPrefix)+len(nonce)+len(plaintext)+e.gcm.Overhead())
	out = append(out, sealedPrefix...)
	out = append(out, nonce...)
	return e.gcm.Seal(out, nonce, plaintext, nil), nil
}

// Open reverses Seal. Data without the sealed prefix is returned as-is.
// A sealed payload that fails authentication is an error, never silently passed through.
func (e *Encryptor) Open(data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return data, nil
	}
	if e == nil {
		return nil, fmt.Errorf("%w: no encryption key configured", ErrSealedPayload)
	}

	body := data[len(sealedPrefix):]
	nonceSize := e.gcm.NonceSize()
	if len(body) < nonceSize+e.gcm.Overhead() {
		return nil, fmt.Errorf("%w: truncated", ErrSealedPayload)
	}

	plaintext, err := e.gcm.Open(nil, body[:nonceSize], body[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedPayload, err)
	}
	return plaintext, nil
}

// IsSealed reports whether data was produced by Seal
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, sealedPrefix)
}
