package store

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an account. Only StatusActive accounts are
// eligible for selection.
type Status uint8

const (
	// StatusActive accounts can be selected.
	StatusActive Status = iota
	// StatusRateLimited accounts exhausted their window quota or were throttled upstream.
	StatusRateLimited
	// StatusInvalid accounts had their credentials rejected; admin action required.
	StatusInvalid
	// StatusBlocked accounts were disabled by an administrator.
	StatusBlocked
)

var statusNames = [...]string{
	StatusActive:      "active",
	StatusRateLimited: "rate-limited",
	StatusInvalid:     "invalid",
	StatusBlocked:     "blocked",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// Valid reports whether s is one of the declared statuses.
func (s Status) Valid() bool {
	return int(s) < len(statusNames)
}

// ParseStatus maps the document spelling back to a Status.
func ParseStatus(v string) (Status, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for i, name := range statusNames {
		if name == v {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, v)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: unknown status %d", ErrInvalidInput, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Strategy is the rotation policy used to pick among eligible accounts.
type Strategy uint8

const (
	// StrategyRoundRobin cycles through the eligible list with a process-local cursor.
	StrategyRoundRobin Strategy = iota
	// StrategyLeastUsed picks the fewest requests in the current window.
	StrategyLeastUsed
	// StrategyRandom picks uniformly.
	StrategyRandom
	// StrategyPriority picks the lowest priority value.
	StrategyPriority
)

var strategyNames = [...]string{
	StrategyRoundRobin: "round-robin",
	StrategyLeastUsed:  "least-used",
	StrategyRandom:     "random",
	StrategyPriority:   "priority",
}

func (s Strategy) String() string {
	if int(s) < len(strategyNames) {
		return strategyNames[s]
	}
	return fmt.Sprintf("strategy(%d)", uint8(s))
}

// Valid reports whether s is one of the declared strategies.
func (s Strategy) Valid() bool {
	return int(s) < len(strategyNames)
}

// ParseStrategy maps the document spelling back to a Strategy.
func ParseStrategy(v string) (Strategy, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	for i, name := range strategyNames {
		if name == v {
			return Strategy(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown rotation strategy %q", ErrInvalidInput, v)
}

func (s Strategy) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: unknown strategy %d", ErrInvalidInput, uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	parsed, err := ParseStrategy(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Stats are lifetime request counters for one account.
type Stats struct {
	TotalRequests      int64      `json:"totalRequests"`
	SuccessfulRequests int64      `json:"successfulRequests"`
	FailedRequests     int64      `json:"failedRequests"`
	RateLimitHits      int64      `json:"rateLimitHits"`
	LastRequestAt      *time.Time `json:"lastRequestAt"`
}

// RateLimit is the fixed-window counter for one account.
type RateLimit struct {
	RequestsThisMinute int        `json:"requestsThisMinute"`
	WindowStart        time.Time  `json:"windowStart"`
	BlockedUntil       *time.Time `json:"blockedUntil"`
}

// Metadata is descriptive only and has no effect on selection.
type Metadata struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// Account is the persisted record. Secret holds the sealed password record.
type Account struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Secret           string     `json:"password"`
	EncryptionMethod string     `json:"encryptionMethod"`
	Status           Status     `json:"status"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastUsed         *time.Time `json:"lastUsed"`
	Stats            Stats      `json:"stats"`
	RateLimit        RateLimit  `json:"rateLimit"`
	Priority         int        `json:"priority"`
	Metadata         Metadata   `json:"metadata"`
}

// RateLimitedAt applies the fixed-window test: inside an unexpired window the
// account is limited while blockedUntil is in the future or the count has
// reached the per-account limit.
func (a *Account) RateLimitedAt(s Settings, now time.Time) bool {
	if now.Sub(a.RateLimit.WindowStart) >= s.Window() {
		return false
	}
	if a.RateLimit.BlockedUntil != nil && now.Before(*a.RateLimit.BlockedUntil) {
		return true
	}
	return a.RateLimit.RequestsThisMinute >= s.RateLimitPerAccount
}

// TimeUntilAvailable returns how long blockedUntil still has to run, or zero.
func (a *Account) TimeUntilAvailable(now time.Time) time.Duration {
	if a.RateLimit.BlockedUntil == nil {
		return 0
	}
	if d := a.RateLimit.BlockedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

func (a *Account) clone() Account {
	out := *a
	out.LastUsed = cloneTime(a.LastUsed)
	out.Stats.LastRequestAt = cloneTime(a.Stats.LastRequestAt)
	out.RateLimit.BlockedUntil = cloneTime(a.RateLimit.BlockedUntil)
	if a.Metadata.Tags != nil {
		out.Metadata.Tags = append([]string(nil), a.Metadata.Tags...)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Settings are the process-wide rotation tunables stored in the document.
type Settings struct {
	RotationStrategy    Strategy `json:"rotationStrategy"`
	RateLimitPerAccount int      `json:"rateLimitPerAccount"`
	RateLimitWindowMs   int64    `json:"rateLimitWindowMs"`
	CooldownMs          int64    `json:"cooldownMs"`
	MaxRetries          int      `json:"maxRetries"`
	AutoValidateOnAdd   bool     `json:"autoValidateOnAdd"`
}

// DefaultSettings returns the settings written into a fresh document.
func DefaultSettings() Settings {
	return Settings{
		RotationStrategy:    StrategyRoundRobin,
		RateLimitPerAccount: 10,
		RateLimitWindowMs:   60000,
		CooldownMs:          30000,
		MaxRetries:          3,
		AutoValidateOnAdd:   true,
	}
}

// Window returns the rate-limit window length.
func (s Settings) Window() time.Duration {
	return time.Duration(s.RateLimitWindowMs) * time.Millisecond
}

// Cooldown returns the pause imposed once an account hits its limit.
func (s Settings) Cooldown() time.Duration {
	return time.Duration(s.CooldownMs) * time.Millisecond
}

// Validate checks the settings are usable by the scheduler.
func (s Settings) Validate() error {
	if !s.RotationStrategy.Valid() {
		return fmt.Errorf("%w: unknown rotation strategy", ErrInvalidInput)
	}
	if s.RateLimitPerAccount < 1 {
		return fmt.Errorf("%w: rateLimitPerAccount must be >= 1", ErrInvalidInput)
	}
	if s.RateLimitWindowMs <= 0 {
		return fmt.Errorf("%w: rateLimitWindowMs must be > 0", ErrInvalidInput)
	}
	if s.CooldownMs < 0 {
		return fmt.Errorf("%w: cooldownMs must be >= 0", ErrInvalidInput)
	}
	if s.MaxRetries < 1 {
		return fmt.Errorf("%w: maxRetries must be >= 1", ErrInvalidInput)
	}
	return nil
}

// SettingsUpdate is a shallow patch; nil fields are left unchanged.
type SettingsUpdate struct {
	RotationStrategy    *Strategy
	RateLimitPerAccount *int
	RateLimitWindowMs   *int64
	CooldownMs          *int64
	MaxRetries          *int
	AutoValidateOnAdd   *bool
}

func (u SettingsUpdate) apply(s Settings) Settings {
	if u.RotationStrategy != nil {
		s.RotationStrategy = *u.RotationStrategy
	}
	if u.RateLimitPerAccount != nil {
		s.RateLimitPerAccount = *u.RateLimitPerAccount
	}
	if u.RateLimitWindowMs != nil {
		s.RateLimitWindowMs = *u.RateLimitWindowMs
	}
	if u.CooldownMs != nil {
		s.CooldownMs = *u.CooldownMs
	}
	if u.MaxRetries != nil {
		s.MaxRetries = *u.MaxRetries
	}
	if u.AutoValidateOnAdd != nil {
		s.AutoValidateOnAdd = *u.AutoValidateOnAdd
	}
	return s
}

// AddAccountInput describes a new account. Priority defaults to 1 and Name to the email.
type AddAccountInput struct {
	Email    string
	Password string
	Name     string
	Priority *int
	Validate bool
}

// AccountUpdate whitelists the fields an administrator may change.
// Metadata is merged: a non-empty Name and a non-nil Tags replace the current values.
type AccountUpdate struct {
	Name     *string
	Priority *int
	Status   *Status
	Metadata *Metadata
}

// Credentials are the decrypted login details for one account.
type Credentials struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Password string `json:"-"`
}

// ListOptions controls what a view exposes.
type ListOptions struct {
	IncludeStats     bool
	IncludeSensitive bool
}

// AccountView is the outward-facing projection of an Account. It never holds the secret.
type AccountView struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Status    Status     `json:"status"`
	Priority  int        `json:"priority"`
	Metadata  Metadata   `json:"metadata"`
	CreatedAt time.Time  `json:"createdAt"`
	LastUsed  *time.Time `json:"lastUsed"`
	Stats     *Stats     `json:"stats,omitempty"`
	RateLimit *RateLimit `json:"rateLimit,omitempty"`
}

// Statistics aggregates counters across every account.
type Statistics struct {
	TotalAccounts      int    `json:"totalAccounts"`
	ActiveAccounts     int    `json:"activeAccounts"`
	InactiveAccounts   int    `json:"inactiveAccounts"`
	TotalRequests      int64  `json:"totalRequests"`
	SuccessfulRequests int64  `json:"successfulRequests"`
	FailedRequests     int64  `json:"failedRequests"`
	RateLimitHits      int64  `json:"rateLimitHits"`
	SuccessRate        string `json:"successRate"`
}
