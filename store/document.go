package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DocumentVersion is written into every new document.
const DocumentVersion = "1.0"

// keyCheckPlaintext is sealed into the document so a wrong key fails at open
// time instead of at the first credential read.
const keyCheckPlaintext = "credpool-key-check"

// Document is the on-disk shape.
type Document struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	KeySalt   []byte    `json:"keySalt,omitempty"`
	KeyCheck  string    `json:"keyCheck,omitempty"`
	Accounts  []Account `json:"accounts"`
	Settings  Settings  `json:"settings"`
}

func newDocument(now time.Time, settings Settings) *Document {
	return &Document{
		Version:   DocumentVersion,
		CreatedAt: now,
		UpdatedAt: now,
		Accounts:  []Account{},
		Settings:  settings,
	}
}

func (d *Document) clone() *Document {
	out := *d
	if d.KeySalt != nil {
		out.KeySalt = append([]byte(nil), d.KeySalt...)
	}
	out.Accounts = make([]Account, len(d.Accounts))
	for i := range d.Accounts {
		out.Accounts[i] = d.Accounts[i].clone()
	}
	return &out
}

func (d *Document) find(id string) (int, *Account) {
	for i := range d.Accounts {
		if d.Accounts[i].ID == id {
			return i, &d.Accounts[i]
		}
	}
	return -1, nil
}

// readDocument returns (nil, nil) when the file does not exist yet. Settings
// keys missing from the file keep their DefaultSettings value.
func readDocument(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read document: %w", err)
	}

	doc := Document{Settings: DefaultSettings()}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc.Accounts == nil {
		doc.Accounts = []Account{}
	}
	return &doc, nil
}

// writeDocument replaces path atomically: temp file in the same directory,
// fsync, then rename over the old file.
func writeDocument(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create document dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".accounts-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp document: %w", err)
	}
	tmpPath := tmp.Name()

	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp document: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp document: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		return fmt.Errorf("chmod temp document: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace document: %w", err)
	}

	committed = true
	return nil
}
