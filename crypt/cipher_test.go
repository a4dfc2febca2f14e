package crypt

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()

	c, err := New(bytes.Repeat([]byte{0x42}, KeySize))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestCipherRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	for _, plaintext := range []string{"", "hunter2", "pässwörd ✓", strings.Repeat("x", 4096)} {
		record, err := c.Encrypt(plaintext)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if strings.Count(record, ":") != 2 {
			t.Fatalf("expected iv:ciphertext:tag record, got %q", record)
		}
		got, err := c.Decrypt(record)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if got != plaintext {
			t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestCipherFreshIVPerRecord(t *testing.T) {
	c := newTestCipher(t)

	a, err := c.Encrypt("same")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	b, err := c.Encrypt("same")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if a == b {
		t.Fatal("expected distinct records for identical plaintext")
	}

	iv, err := base64.StdEncoding.DecodeString(strings.Split(a, ":")[0])
	if err != nil {
		t.Fatalf("decode iv: %v", err)
	}
	if len(iv) != IVSize {
		t.Fatalf("expected %d-byte iv, got %d", IVSize, len(iv))
	}
}

func TestCipherDetectsTamperInEveryComponent(t *testing.T) {
	c := newTestCipher(t)

	record, err := c.Encrypt("correct horse battery staple")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	for idx := 0; idx < 3; idx++ {
		parts := strings.Split(record, ":")
		raw, err := base64.StdEncoding.DecodeString(parts[idx])
		if err != nil {
			t.Fatalf("decode part %d: %v", idx, err)
		}
		raw[0] ^= 0x01
		parts[idx] = base64.StdEncoding.EncodeToString(raw)

		_, err = c.Decrypt(strings.Join(parts, ":"))
		if !errors.Is(err, ErrDecryption) {
			t.Fatalf("part %d: expected ErrDecryption, got %v", idx, err)
		}
	}
}

func TestCipherRejectsWrongKeyAndMalformed(t *testing.T) {
	c := newTestCipher(t)
	other, err := New(bytes.Repeat([]byte{0x07}, KeySize))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	record, err := c.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := other.Decrypt(record); !errors.Is(err, ErrDecryption) {
		t.Fatalf("expected ErrDecryption for wrong key, got %v", err)
	}

	for _, bad := range []string{"", "a:b", "!!:!!:!!", "a:b:c:d"} {
		if _, err := c.Decrypt(bad); !errors.Is(err, ErrDecryption) {
			t.Fatalf("record %q: expected ErrDecryption, got %v", bad, err)
		}
	}
}

func TestNewRejectsShortKey(t *testing.T) {
	if _, err := New(make([]byte, 16)); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}
