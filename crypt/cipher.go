package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// IVSize is the GCM nonce length used for every record.
	IVSize = 16
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// Method names the construction stored alongside each record.
	Method = "aes-256-gcm"
)

var (
	// ErrDecryption is returned when a record fails authentication or cannot be parsed.
	ErrDecryption = errors.New("decryption failed")
	// ErrInvalidKey is returned when key material is not exactly KeySize bytes.
	ErrInvalidKey = errors.New("invalid encryption key")
)

// Cipher seals and opens secret records with a single AES-256-GCM key.
//
// A Cipher is safe for concurrent use.
type Cipher struct {
	aead   cipher.AEAD
	random io.Reader
}

// New builds a Cipher from a 32-byte key. The key slice is not retained.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return &Cipher{aead: aead, random: rand.Reader}, nil
}

// Encrypt seals plaintext into an "iv:ciphertext:authTag" record.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return "", fmt.Errorf("read iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(sealed) - TagSize
	ciphertext, tag := sealed[:split], sealed[split:]

	var b strings.Builder
	b.Grow(base64.StdEncoding.EncodedLen(len(iv)) + base64.StdEncoding.EncodedLen(len(sealed)) + 4)
	b.WriteString(base64.StdEncoding.EncodeToString(iv))
	b.WriteByte(':')
	b.WriteString(base64.StdEncoding.EncodeToString(ciphertext))
	b.WriteByte(':')
	b.WriteString(base64.StdEncoding.EncodeToString(tag))
	return b.String(), nil
}

// Decrypt opens a record produced by Encrypt. Any tampering, wrong key or
// malformed input yields ErrDecryption.
func (c *Cipher) Decrypt(record string) (string, error) {
	parts := strings.Split(record, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: malformed record", ErrDecryption)
	}

	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil || len(iv) != IVSize {
		return "", fmt.Errorf("%w: invalid iv", ErrDecryption)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: invalid ciphertext encoding", ErrDecryption)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil || len(tag) != TagSize {
		return "", fmt.Errorf("%w: invalid auth tag", ErrDecryption)
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return string(plaintext), nil
}
