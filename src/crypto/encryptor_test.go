package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func validHexKey() string {
	return "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
}

func TestNewEncryptor_EmptyKey(t *testing.T) {
	enc, err := NewEncryptor("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if enc != nil {
		t.Fatal("expected nil encryptor for empty key")
	}
}

func TestNewEncryptor_InvalidKeys(t *testing.T) {
	for _, key := range []string{"not-hex", "0123456789abcdef0123456789abcdef"} {
		if _, err := NewEncryptor(key); err == nil {
			t.Errorf("expected error for key %q", key)
		}
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor(validHexKey())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	plaintext := []byte(`{"type":"AppointmentCreate","appointment":{"id":"apt_1"}}`)

	sealed, err := enc.Seal(plaintext)
	if err != nil {
		t.Fatalf("seal error: %v", err)
	}
	if !IsSealed(sealed) {
		t.Fatal("expected sealed prefix")
	}
	if bytes.Contains(sealed, []byte("AppointmentCreate")) {
		t.Fatal("sealed payload leaks plaintext")
	}

	opened, err := enc.Open(sealed)
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("got %q, want %q", opened, plaintext)
	}
}

func TestSeal_UniqueNonces(t *testing.T) {
	enc, _ := NewEncryptor(validHexKey())
	a, _ := enc.Seal([]byte("same"))
	b, _ := enc.Seal([]byte("same"))
	if bytes.Equal(a, b) {
		t.Fatal("two seals of the same plaintext must differ")
	}
}

func TestOpen_PlaintextPassesThrough(t *testing.T) {
	enc, _ := NewEncryptor(validHexKey())
	raw := []byte(`{"legacy":true}`)

	got, err := enc.Open(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, raw) {
		t.Fatalf("got %q, want %q", got, raw)
	}
}

func TestOpen_TamperedPayload(t *testing.T) {
	enc, _ := NewEncryptor(validHexKey())
	sealed, _ := enc.Seal([]byte(`{"a":1}`))
	sealed[len(sealed)-1] ^= 0xff

	if _, err := enc.Open(sealed); !errors.Is(err, ErrSealedPayload) {
		t.Fatalf("expected ErrSealedPayload, got %v", err)
	}
}

func TestNilEncryptor(t *testing.T) {
	var enc *Encryptor
	data := []byte("payload")

	sealed, err := enc.Seal(data)
	if err != nil || !bytes.Equal(sealed, data) {
		t.Fatalf("nil Seal should pass through, got %q, %v", sealed, err)
	}

	other, _ := NewEncryptor(validHexKey())
	encrypted, _ := other.Seal(data)
	if _, err := enc.Open(encrypted); !errors.Is(err, ErrSealedPayload) {
		t.Fatalf("nil Open of sealed data should fail, got %v", err)
	}
}
