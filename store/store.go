package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/credpool/crypt"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultValidationTimeout bounds a single call to the Validator.
const DefaultValidationTimeout = 10 * time.Second

// errNoChange lets a mutation skip the rewrite when nothing changed.
var errNoChange = errors.New("no change")

// Validator checks an email/password pair against the upstream sign-in
// endpoint. A non-empty token means the credentials are valid.
type Validator interface {
	Validate(ctx context.Context, email, password string) (string, error)
}

// Options configures Open.
type Options struct {
	// Path of the JSON document. Required.
	Path string
	// Key resolves the encryption key. Salt is managed by the store.
	Key crypt.KeySource
	// Defaults seed the settings of a new document. Zero value means DefaultSettings.
	Defaults *Settings

	Validator         Validator
	ValidationTimeout time.Duration

	Logger logrus.FieldLogger
	Now    func() time.Time
}

// Store is the account store. All methods are safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  *Document

	cipher            *crypt.Cipher
	validator         Validator
	validationTimeout time.Duration

	log logrus.FieldLogger
	now func() time.Time
}

// Open loads the document at opts.Path, creating it with default settings when
// missing, and resolves the encryption key.
func Open(opts Options) (*Store, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("%w: document path is required", ErrInvalidInput)
	}

	s := &Store{
		path:              opts.Path,
		validator:         opts.Validator,
		validationTimeout: opts.ValidationTimeout,
		log:               opts.Logger,
		now:               opts.Now,
	}
	if s.validationTimeout <= 0 {
		s.validationTimeout = DefaultValidationTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	s.log = s.log.WithField("component", "store")

	doc, err := readDocument(opts.Path)
	if err != nil {
		return nil, err
	}
	dirty := false
	if doc == nil {
		settings := DefaultSettings()
		if opts.Defaults != nil {
			settings = *opts.Defaults
		}
		if err := settings.Validate(); err != nil {
			return nil, err
		}
		doc = newDocument(s.now().UTC(), settings)
		dirty = true
	} else if err := doc.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("stored settings: %w", err)
	}

	keySrc := opts.Key
	if keySrc.Passphrase != "" && len(keySrc.Key) == 0 {
		if len(doc.KeySalt) == 0 {
			salt, err := crypt.NewSalt()
			if err != nil {
				return nil, fmt.Errorf("generate key salt: %w", err)
			}
			doc.KeySalt = salt
			dirty = true
		}
		keySrc.Salt = doc.KeySalt
	}

	key, origin, err := crypt.LoadKey(keySrc)
	if err != nil {
		return nil, err
	}
	c, err := crypt.New(key)
	if err != nil {
		return nil, err
	}
	s.cipher = c
	if origin == crypt.KeyGenerated {
		s.log.WithField("key_file", keySrc.KeyFile).Warn("generated new encryption key; back it up or set the key through the environment")
	}

	if doc.KeyCheck == "" {
		check, err := c.Encrypt(keyCheckPlaintext)
		if err != nil {
			return nil, err
		}
		doc.KeyCheck = check
		dirty = true
	} else if plain, err := c.Decrypt(doc.KeyCheck); err != nil || plain != keyCheckPlaintext {
		return nil, fmt.Errorf("%w: %v", ErrWrongKey, crypt.ErrDecryption)
	}

	if dirty {
		doc.UpdatedAt = s.now().UTC()
		if err := writeDocument(s.path, doc); err != nil {
			return nil, err
		}
	}
	s.doc = doc

	s.log.WithFields(logrus.Fields{
		"accounts":   len(doc.Accounts),
		"key_source": origin.String(),
	}).Debug("account store opened")
	return s, nil
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// Cipher exposes the store's cipher so collaborators (the token cache) can
// seal their own secrets with the same key.
func (s *Store) Cipher() *crypt.Cipher {
	return s.cipher
}

// mutate runs fn against a clone of the document inside the single-writer
// critical section, persists the clone and swaps it in.
func (s *Store) mutate(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc.clone()
	if err := fn(next); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	next.UpdatedAt = s.now().UTC()
	if err := writeDocument(s.path, next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// AddAccount seals the password and appends a new active account. When
// in.Validate is set the validator is consulted first and nothing is written
// unless it accepts the credentials.
func (s *Store) AddAccount(ctx context.Context, in AddAccountInput) (AccountView, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || in.Password == "" {
		return AccountView{}, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	priority := 1
	if in.Priority != nil {
		priority = *in.Priority
	}

	if s.hasEmail(email) {
		return AccountView{}, fmt.Errorf("%w: %s", ErrDuplicateAccount, maskEmail(email))
	}

	if in.Validate {
		ok, err := s.check(ctx, email, in.Password)
		if err != nil {
			return AccountView{}, err
		}
		if !ok {
			return AccountView{}, fmt.Errorf("%w: %s", ErrInvalidCredentials, maskEmail(email))
		}
	}

	secret, err := s.cipher.Encrypt(in.Password)
	if err != nil {
		return AccountView{}, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = email
	}
	now := s.now().UTC()
	acc := Account{
		ID:               "acc_" + uuid.NewString(),
		Email:            email,
		Secret:           secret,
		EncryptionMethod: crypt.Method,
		Status:           StatusActive,
		CreatedAt:        now,
		RateLimit:        RateLimit{WindowStart: now},
		Priority:         priority,
		Metadata:         Metadata{Name: name, Tags: []string{}},
	}

	err = s.mutate(func(doc *Document) error {
		// Re-check under the write lock; validation ran unlocked.
		for i := range doc.Accounts {
			if strings.EqualFold(doc.Accounts[i].Email, email) {
				return fmt.Errorf("%w: %s", ErrDuplicateAccount, maskEmail(email))
			}
		}
		doc.Accounts = append(doc.Accounts, acc)
		return nil
	})
	if err != nil {
		return AccountView{}, err
	}

	s.log.WithFields(logrus.Fields{"account_id": acc.ID, "email": maskEmail(email)}).Info("account added")
	return toView(&acc, ListOptions{IncludeStats: true}), nil
}

// RemoveAccount deletes the account with one document rewrite.
func (s *Store) RemoveAccount(id string) error {
	var removed Account
	err := s.mutate(func(doc *Document) error {
		idx, acc := doc.find(id)
		if acc == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		removed = *acc
		doc.Accounts = append(doc.Accounts[:idx], doc.Accounts[idx+1:]...)
		return nil
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{"account_id": id, "email": maskEmail(removed.Email)}).Info("account removed")
	return nil
}

// ListAccounts returns views in document order.
func (s *Store) ListAccounts(opts ListOptions) []AccountView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AccountView, 0, len(s.doc.Accounts))
	for i := range s.doc.Accounts {
		acc := s.doc.Accounts[i].clone()
		out = append(out, toView(&acc, opts))
	}
	return out
}

// GetAccount returns one view including stats.
func (s *Store) GetAccount(id string, includeSensitive bool) (AccountView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, acc := s.doc.find(id)
	if acc == nil {
		return AccountView{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	c := acc.clone()
	return toView(&c, ListOptions{IncludeStats: true, IncludeSensitive: includeSensitive}), nil
}

// GetCredentials decrypts the password of an account that is not blocked or invalid.
func (s *Store) GetCredentials(id string) (Credentials, error) {
	s.mu.RLock()
	_, acc := s.doc.find(id)
	if acc == nil {
		s.mu.RUnlock()
		return Credentials{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	status, email, secret := acc.Status, acc.Email, acc.Secret
	s.mu.RUnlock()

	if status == StatusBlocked || status == StatusInvalid {
		return Credentials{}, fmt.Errorf("%w: %s is %s", ErrAccountUnavailable, id, status)
	}

	password, err := s.cipher.Decrypt(secret)
	if err != nil {
		return Credentials{}, fmt.Errorf("account %s: %w", id, err)
	}
	return Credentials{ID: id, Email: email, Password: password}, nil
}

// UpdateAccount applies the whitelisted fields of upd.
func (s *Store) UpdateAccount(id string, upd AccountUpdate) (AccountView, error) {
	if upd.Status != nil && !upd.Status.Valid() {
		return AccountView{}, fmt.Errorf("%w: unknown status", ErrInvalidInput)
	}

	var updated Account
	err := s.mutate(func(doc *Document) error {
		_, acc := doc.find(id)
		if acc == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if upd.Metadata != nil {
			if upd.Metadata.Name != "" {
				acc.Metadata.Name = upd.Metadata.Name
			}
			if upd.Metadata.Tags != nil {
				acc.Metadata.Tags = append([]string(nil), upd.Metadata.Tags...)
			}
		}
		if upd.Name != nil {
			acc.Metadata.Name = *upd.Name
		}
		if upd.Priority != nil {
			acc.Priority = *upd.Priority
		}
		if upd.Status != nil {
			acc.Status = *upd.Status
		}
		updated = acc.clone()
		return nil
	})
	if err != nil {
		return AccountView{}, err
	}

	fields := logrus.Fields{"account_id": id, "status": updated.Status.String()}
	s.log.WithFields(fields).Info("account updated")
	return toView(&updated, ListOptions{IncludeStats: true}), nil
}

// ValidateAccount re-checks the stored credentials. A rejection moves the
// account to StatusInvalid; a timeout leaves it untouched.
func (s *Store) ValidateAccount(ctx context.Context, id string) (bool, error) {
	creds, err := s.GetCredentials(id)
	if err != nil {
		return false, err
	}

	ok, err := s.check(ctx, creds.Email, creds.Password)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	if _, err := s.SetStatus(id, StatusInvalid); err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	s.log.WithFields(logrus.Fields{"account_id": id, "email": maskEmail(creds.Email)}).Warn("account credentials rejected")
	return false, nil
}

// check runs the validator with the store's timeout. Any error other than a
// deadline counts as a rejection.
func (s *Store) check(ctx context.Context, email, password string) (bool, error) {
	if s.validator == nil {
		return false, ErrValidatorUnavailable
	}
	if ctx == nil {
		ctx = context.Background()
	}

	vctx, cancel := context.WithTimeout(ctx, s.validationTimeout)
	defer cancel()

	token, err := s.validator.Validate(vctx, email, password)
	if err != nil {
		if errors.Is(err, ErrValidationTimeout) || errors.Is(vctx.Err(), context.DeadlineExceeded) {
			return false, fmt.Errorf("%w: %s", ErrValidationTimeout, maskEmail(email))
		}
		s.log.WithFields(logrus.Fields{"email": maskEmail(email), "error": err.Error()}).Debug("validation rejected")
		return false, nil
	}
	return token != "", nil
}

// Settings returns a copy of the current settings.
func (s *Store) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Settings
}

// UpdateSettings merges upd over the current settings and persists them.
func (s *Store) UpdateSettings(upd SettingsUpdate) (Settings, error) {
	var out Settings
	err := s.mutate(func(doc *Document) error {
		next := upd.apply(doc.Settings)
		if err := next.Validate(); err != nil {
			return err
		}
		doc.Settings = next
		out = next
		return nil
	})
	if err != nil {
		return Settings{}, err
	}

	s.log.WithField("strategy", out.RotationStrategy.String()).Info("settings updated")
	return out, nil
}

// Statistics aggregates counters across all accounts.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Statistics{TotalAccounts: len(s.doc.Accounts)}
	for i := range s.doc.Accounts {
		acc := &s.doc.Accounts[i]
		if acc.Status == StatusActive {
			st.ActiveAccounts++
		}
		st.TotalRequests += acc.Stats.TotalRequests
		st.SuccessfulRequests += acc.Stats.SuccessfulRequests
		st.FailedRequests += acc.Stats.FailedRequests
		st.RateLimitHits += acc.Stats.RateLimitHits
	}
	st.InactiveAccounts = st.TotalAccounts - st.ActiveAccounts
	st.SuccessRate = successRate(st.SuccessfulRequests, st.TotalRequests)
	return st
}

func successRate(ok, total int64) string {
	if total <= 0 {
		return "0%"
	}
	return fmt.Sprintf("%.2f%%", float64(ok)/float64(total)*100)
}

func (s *Store) hasEmail(email string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.doc.Accounts {
		if strings.EqualFold(s.doc.Accounts[i].Email, email) {
			return true
		}
	}
	return false
}
