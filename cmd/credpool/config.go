package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/MrEthical07/credpool"
	"github.com/MrEthical07/credpool/store"
)

// Environment overrides applied after the TOML file.
const (
	envData       = "CREDPOOL_DATA"
	envKeyFile    = "CREDPOOL_KEY_FILE"
	envBaseURL    = "CREDPOOL_BASE_URL"
	envPassphrase = "CREDPOOL_PASSPHRASE"
	envLogLevel   = "CREDPOOL_LOG_LEVEL"
)

// fileConfig is the TOML layout read by --config.
type fileConfig struct {
	Log        logConfig        `toml:"log"`
	Storage    storageConfig    `toml:"storage"`
	Validation validationConfig `toml:"validation"`
	Defaults   defaultsConfig   `toml:"defaults"`
}

type logConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type storageConfig struct {
	Path    string `toml:"path"`
	KeyFile string `toml:"key_file"`
	KeyEnv  string `toml:"key_env"`
	// PassphraseEnv names the variable holding the passphrase. The passphrase
	// itself never goes in the file.
	PassphraseEnv string `toml:"passphrase_env"`
}

type validationConfig struct {
	BaseURL    string `toml:"base_url"`
	SignInPath string `toml:"signin_path"`
	Timeout    string `toml:"timeout"`
}

// defaultsConfig seeds a new document; existing documents keep their settings.
type defaultsConfig struct {
	RotationStrategy    string `toml:"rotation_strategy"`
	RateLimitPerAccount int    `toml:"rate_limit_per_account"`
	RateLimitWindow     string `toml:"rate_limit_window"`
	Cooldown            string `toml:"cooldown"`
	MaxRetries          int    `toml:"max_retries"`
	AutoValidateOnAdd   *bool  `toml:"auto_validate_on_add"`
}

func defaultFileConfig() fileConfig {
	def := credpool.DefaultConfig()
	return fileConfig{
		Log: logConfig{Level: "warn", Format: "text"},
		Storage: storageConfig{
			Path:          def.Storage.Path,
			KeyFile:       def.Storage.KeyFile,
			KeyEnv:        def.Storage.KeyEnv,
			PassphraseEnv: envPassphrase,
		},
		Validation: validationConfig{
			SignInPath: def.Validation.SignInPath,
			Timeout:    def.Validation.Timeout.String(),
		},
	}
}

// loadFileConfig reads path over the defaults. An empty path yields the defaults.
func loadFileConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); err != nil {
		return fileConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *fileConfig) applyEnv(getenv func(string) string) {
	if v := getenv(envData); v != "" {
		c.Storage.Path = v
	}
	if v := getenv(envKeyFile); v != "" {
		c.Storage.KeyFile = v
	}
	if v := getenv(envBaseURL); v != "" {
		c.Validation.BaseURL = v
	}
	if v := getenv(envLogLevel); v != "" {
		c.Log.Level = v
	}
}

// poolConfig converts the file layout into a credpool.Config.
func (c fileConfig) poolConfig(getenv func(string) string) (credpool.Config, error) {
	cfg := credpool.DefaultConfig()
	cfg.Metrics.Enabled = false
	cfg.Metrics.EnableLatencyHistograms = false

	cfg.Storage.Path = c.Storage.Path
	cfg.Storage.KeyFile = c.Storage.KeyFile
	cfg.Storage.KeyEnv = c.Storage.KeyEnv
	if c.Storage.PassphraseEnv != "" {
		cfg.Storage.Passphrase = getenv(c.Storage.PassphraseEnv)
	}

	cfg.Validation.BaseURL = strings.TrimSpace(c.Validation.BaseURL)
	if c.Validation.SignInPath != "" {
		cfg.Validation.SignInPath = c.Validation.SignInPath
	}
	if c.Validation.Timeout != "" {
		d, err := time.ParseDuration(c.Validation.Timeout)
		if err != nil {
			return credpool.Config{}, fmt.Errorf("validation.timeout: %w", err)
		}
		cfg.Validation.Timeout = d
	}

	defaults, err := c.Defaults.settings(cfg.Defaults)
	if err != nil {
		return credpool.Config{}, err
	}
	cfg.Defaults = defaults

	if err := cfg.Validate(); err != nil {
		return credpool.Config{}, err
	}
	return cfg, nil
}

func (d defaultsConfig) settings(base credpool.Settings) (credpool.Settings, error) {
	s := base
	if d.RotationStrategy != "" {
		strategy, err := store.ParseStrategy(d.RotationStrategy)
		if err != nil {
			return s, err
		}
		s.RotationStrategy = strategy
	}
	if d.RateLimitPerAccount != 0 {
		s.RateLimitPerAccount = d.RateLimitPerAccount
	}
	if d.RateLimitWindow != "" {
		w, err := time.ParseDuration(d.RateLimitWindow)
		if err != nil {
			return s, fmt.Errorf("defaults.rate_limit_window: %w", err)
		}
		s.RateLimitWindowMs = w.Milliseconds()
	}
	if d.Cooldown != "" {
		c, err := time.ParseDuration(d.Cooldown)
		if err != nil {
			return s, fmt.Errorf("defaults.cooldown: %w", err)
		}
		s.CooldownMs = c.Milliseconds()
	}
	if d.MaxRetries != 0 {
		s.MaxRetries = d.MaxRetries
	}
	if d.AutoValidateOnAdd != nil {
		s.AutoValidateOnAdd = *d.AutoValidateOnAdd
	}
	if err := s.Validate(); err != nil {
		return s, errors.Join(errors.New("defaults"), err)
	}
	return s, nil
}
