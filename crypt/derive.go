package crypt

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	// SaltSize is the length of the per-document passphrase salt.
	SaltSize = 16

	kdfMemoryKB    uint32 = 64 * 1024
	kdfTime        uint32 = 3
	kdfParallelism uint8  = 2
	minPassphrase         = 12
)

// ErrWeakPassphrase is returned for passphrases shorter than 12 bytes.
var ErrWeakPassphrase = errors.New("passphrase must be at least 12 bytes")

// DeriveKey stretches passphrase into a KeySize key with argon2id.
// The passphrase bytes are used exactly as given, with no normalization.
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	if len(passphrase) < minPassphrase {
		return nil, ErrWeakPassphrase
	}
	if len(salt) < SaltSize {
		return nil, errors.New("salt must be at least 16 bytes")
	}

	return argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemoryKB, kdfParallelism, KeySize), nil
}

// NewSalt returns SaltSize random bytes.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
