package crypt

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultKeyEnv is the environment variable consulted for a hex-encoded key.
const DefaultKeyEnv = "ACCOUNT_ENCRYPTION_KEY"

// KeyOrigin reports which source produced the key returned by LoadKey.
type KeyOrigin uint8

const (
	// KeyFromConfig means the key bytes were supplied directly.
	KeyFromConfig KeyOrigin = iota
	// KeyFromPassphrase means the key was derived with argon2id.
	KeyFromPassphrase
	// KeyFromEnv means the key was read from the environment.
	KeyFromEnv
	// KeyFromFile means the key was read from the key file.
	KeyFromFile
	// KeyGenerated means a new key was generated and written to the key file.
	KeyGenerated
)

// String returns a log-friendly origin name.
func (o KeyOrigin) String() string {
	switch o {
	case KeyFromConfig:
		return "config"
	case KeyFromPassphrase:
		return "passphrase"
	case KeyFromEnv:
		return "env"
	case KeyFromFile:
		return "file"
	case KeyGenerated:
		return "generated"
	default:
		return "unknown"
	}
}

// KeySource lists the places LoadKey may take the key from.
type KeySource struct {
	Key        []byte
	Passphrase string
	Salt       []byte
	EnvVar     string
	KeyFile    string

	// Getenv defaults to os.Getenv.
	Getenv func(string) string
}

// LoadKey resolves the store key. Precedence: Key, Passphrase (with Salt),
// EnvVar, KeyFile contents, then a generated key persisted to KeyFile.
func LoadKey(src KeySource) ([]byte, KeyOrigin, error) {
	if len(src.Key) > 0 {
		if len(src.Key) != KeySize {
			return nil, KeyFromConfig, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(src.Key))
		}
		out := make([]byte, KeySize)
		copy(out, src.Key)
		return out, KeyFromConfig, nil
	}

	if src.Passphrase != "" {
		key, err := DeriveKey(src.Passphrase, src.Salt)
		return key, KeyFromPassphrase, err
	}

	getenv := src.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if src.EnvVar != "" {
		if v := strings.TrimSpace(getenv(src.EnvVar)); v != "" {
			key, err := ParseHexKey(v)
			if err != nil {
				return nil, KeyFromEnv, fmt.Errorf("%s: %w", src.EnvVar, err)
			}
			return key, KeyFromEnv, nil
		}
	}

	if src.KeyFile == "" {
		return nil, KeyGenerated, errors.New("no key source configured")
	}

	raw, err := os.ReadFile(src.KeyFile)
	if err == nil {
		key, err := ParseHexKey(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, KeyFromFile, fmt.Errorf("key file: %w", err)
		}
		return key, KeyFromFile, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, KeyFromFile, fmt.Errorf("read key file: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, KeyGenerated, err
	}
	if err := writeKeyFile(src.KeyFile, key); err != nil {
		return nil, KeyGenerated, err
	}
	return key, KeyGenerated, nil
}

// GenerateKey returns KeySize random bytes.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// ParseHexKey decodes a 64-character hex string into a key.
func ParseHexKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex encoded", ErrInvalidKey)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	return key, nil
}

func writeKeyFile(path string, key []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	// O_EXCL so a concurrently generated key is never overwritten.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create key file: %w", err)
	}
	if _, err := f.WriteString(hex.EncodeToString(key) + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync key file: %w", err)
	}
	return f.Close()
}
