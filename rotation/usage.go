package rotation

import (
	"github.com/MrEthical07/credpool/store"
)

// Usage is a point-in-time view of the pool as the scheduler sees it.
type Usage struct {
	TotalAccounts       int            `json:"totalAccounts"`
	AvailableAccounts   int            `json:"availableAccounts"`
	BusyAccounts        int            `json:"busyAccounts"`
	RateLimitedAccounts int            `json:"rateLimitedAccounts"`
	Strategy            store.Strategy `json:"rotationStrategy"`
	RateLimitPerAccount int            `json:"rateLimitPerAccount"`
	RateLimitWindowMs   int64          `json:"rateLimitWindowMs"`
	CooldownMs          int64          `json:"cooldownMs"`
	Accounts            []AccountUsage `json:"accounts"`
}

// AccountUsage is one account's line in Usage.
type AccountUsage struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Status               store.Status `json:"status"`
	Busy                 bool         `json:"busy"`
	RateLimited          bool         `json:"rateLimited"`
	RequestsThisWindow   int          `json:"requestsThisWindow"`
	TotalRequests        int64        `json:"totalRequests"`
	TimeUntilAvailableMs int64        `json:"timeUntilAvailableMs"`
}

// Stats returns the scheduler's usage view. Rate-limited accounts whose window
// has passed are recovered first.
func (s *Scheduler) Stats() (Usage, error) {
	now := s.now()
	if _, err := s.store.RecoverExpired(now); err != nil {
		return Usage{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, settings := s.store.Snapshot()
	u := Usage{
		TotalAccounts:       len(accounts),
		Strategy:            settings.RotationStrategy,
		RateLimitPerAccount: settings.RateLimitPerAccount,
		RateLimitWindowMs:   settings.RateLimitWindowMs,
		CooldownMs:          settings.CooldownMs,
		Accounts:            make([]AccountUsage, 0, len(accounts)),
	}
	for i := range accounts {
		acc := &accounts[i]
		_, busy := s.busy[acc.ID]
		limited := acc.RateLimitedAt(settings, now)

		if busy {
			u.BusyAccounts++
		}
		if limited || acc.Status == store.StatusRateLimited {
			u.RateLimitedAccounts++
		}
		if s.eligibleLocked(acc, settings, now) {
			u.AvailableAccounts++
		}

		u.Accounts = append(u.Accounts, AccountUsage{
			ID:                   acc.ID,
			Name:                 acc.Metadata.Name,
			Status:               acc.Status,
			Busy:                 busy,
			RateLimited:          limited,
			RequestsThisWindow:   acc.RateLimit.RequestsThisMinute,
			TotalRequests:        acc.Stats.TotalRequests,
			TimeUntilAvailableMs: acc.TimeUntilAvailable(now).Milliseconds(),
		})
	}
	return u, nil
}
