package credpool

import (
	"github.com/MrEthical07/credpool/rotation"
	"github.com/MrEthical07/credpool/store"
)

// Account model and views, re-exported so callers only import credpool.
type (
	Account         = store.Account
	AccountView     = store.AccountView
	AccountUpdate   = store.AccountUpdate
	AddAccountInput = store.AddAccountInput
	Credentials     = store.Credentials
	ListOptions     = store.ListOptions
	Metadata        = store.Metadata
	Settings        = store.Settings
	SettingsUpdate  = store.SettingsUpdate
	Statistics      = store.Statistics
	Status          = store.Status
	Strategy        = store.Strategy
	Usage           = rotation.Usage
	AccountUsage    = rotation.AccountUsage
)

const (
	StatusActive      = store.StatusActive
	StatusRateLimited = store.StatusRateLimited
	StatusInvalid     = store.StatusInvalid
	StatusBlocked     = store.StatusBlocked
)

const (
	StrategyRoundRobin = store.StrategyRoundRobin
	StrategyLeastUsed  = store.StrategyLeastUsed
	StrategyRandom     = store.StrategyRandom
	StrategyPriority   = store.StrategyPriority
)

// DefaultSettings returns the settings written into a fresh document.
func DefaultSettings() Settings {
	return store.DefaultSettings()
}

// Call is what Do hands to the caller's function for one attempt.
type Call struct {
	AccountID string
	// Email is the account login, unmasked. Do not log it.
	Email string
	// Token is the upstream bearer token for the account.
	Token   string
	Attempt int
}
