package credpool

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/credpool/crypt"
	"github.com/MrEthical07/credpool/internal/audit"
	"github.com/MrEthical07/credpool/rotation"
	"github.com/MrEthical07/credpool/tokencache"
	"github.com/MrEthical07/credpool/validator"
)

// Config holds every tunable of a Pool. Obtain one from DefaultConfig and
// adjust it before handing it to [Builder.WithConfig].
type Config struct {
	Storage    StorageConfig
	Validation ValidationConfig
	Scheduler  SchedulerConfig
	TokenCache TokenCacheConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	// Defaults seed the settings of a newly created document. Existing
	// documents keep their persisted settings.
	Defaults Settings
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig locates the account document and its encryption key.
// Key precedence: Key, Passphrase, the KeyEnv variable, KeyFile, then a key
// generated into KeyFile.
type StorageConfig struct {
	Path       string
	KeyFile    string
	KeyEnv     string
	Key        []byte
	Passphrase string
}

/*
====================================
VALIDATION CONFIG
====================================
*/

// ValidationConfig points at the upstream sign-in endpoint. An empty BaseURL
// disables validation unless a client is supplied through the Builder.
type ValidationConfig struct {
	BaseURL    string
	SignInPath string
	Timeout    time.Duration
}

/*
====================================
SCHEDULER CONFIG
====================================
*/

// SchedulerConfig tunes waiting for capacity.
type SchedulerConfig struct {
	PollInterval time.Duration
	// WaitTimeout is used by WaitForAvailableAccount when the caller passes zero.
	WaitTimeout time.Duration
}

/*
====================================
TOKEN CACHE CONFIG
====================================
*/

// TokenCacheConfig controls caching of upstream bearer tokens. With a Redis
// client on the Builder tokens are shared through Redis; otherwise they are
// kept in memory.
type TokenCacheConfig struct {
	Enabled     bool
	RedisPrefix string
	Skew        time.Duration
}

// AuditConfig controls the async audit dispatcher. Without a sink on the
// Builder, events go to the pool's logger.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// Types restricts emitted events to these types. Empty means all.
	Types []string
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		Storage: StorageConfig{
			Path:    "data/accounts.json",
			KeyFile: "data/.encryption_key",
			KeyEnv:  crypt.DefaultKeyEnv,
		},
		Validation: ValidationConfig{
			SignInPath: validator.DefaultSignInPath,
			Timeout:    validator.DefaultTimeout,
		},
		Scheduler: SchedulerConfig{
			PollInterval: rotation.DefaultPollInterval,
			WaitTimeout:  30 * time.Second,
		},
		TokenCache: TokenCacheConfig{
			Enabled:     true,
			RedisPrefix: tokencache.DefaultPrefix,
			Skew:        tokencache.DefaultSkew,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		Defaults: DefaultSettings(),
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Storage.Key = cloneBytes(cfg.Storage.Key)
	if cfg.Audit.Types != nil {
		out.Audit.Types = append([]string(nil), cfg.Audit.Types...)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("Storage Path must be set")
	}
	if len(c.Storage.Key) > 0 && len(c.Storage.Key) != crypt.KeySize {
		return fmt.Errorf("Storage Key must be %d bytes", crypt.KeySize)
	}
	if len(c.Storage.Key) == 0 && c.Storage.Passphrase == "" && c.Storage.KeyEnv == "" && c.Storage.KeyFile == "" {
		return errors.New("Storage needs a Key, Passphrase, KeyEnv or KeyFile")
	}

	if c.Validation.BaseURL != "" {
		u, err := url.Parse(c.Validation.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Validation BaseURL must be an absolute URL")
		}
	}
	if c.Validation.Timeout <= 0 {
		return errors.New("Validation Timeout must be > 0")
	}

	if c.Scheduler.PollInterval <= 0 {
		return errors.New("Scheduler PollInterval must be > 0")
	}
	if c.Scheduler.WaitTimeout < 0 {
		return errors.New("Scheduler WaitTimeout must be >= 0")
	}

	if c.TokenCache.Skew < 0 {
		return errors.New("TokenCache Skew must be >= 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	for _, t := range c.Audit.Types {
		if !slices.Contains(audit.EventTypes, t) {
			return fmt.Errorf("Audit Types: unknown event type %q", t)
		}
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	if err := c.Defaults.Validate(); err != nil {
		return fmt.Errorf("Defaults: %w", err)
	}
	return nil
}
