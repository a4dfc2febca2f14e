package store

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Accounts returns a snapshot of every account, secrets included. The caller
// must not persist or log the snapshot.
func (s *Store) Accounts() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Account, len(s.doc.Accounts))
	for i := range s.doc.Accounts {
		out[i] = s.doc.Accounts[i].clone()
	}
	return out
}

// Snapshot returns the accounts together with the settings they were read
// under, taken in one critical section.
func (s *Store) Snapshot() ([]Account, Settings) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Account, len(s.doc.Accounts))
	for i := range s.doc.Accounts {
		out[i] = s.doc.Accounts[i].clone()
	}
	return out, s.doc.Settings
}

// RecordRequest counts one dispatched request against the account's fixed
// window. The returned bool reports whether this request moved the account to
// StatusRateLimited.
func (s *Store) RecordRequest(id string, now time.Time) (Account, bool, error) {
	var (
		out     Account
		limited bool
	)
	now = now.UTC()
	err := s.mutate(func(doc *Document) error {
		_, acc := doc.find(id)
		if acc == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		settings := doc.Settings
		rl := &acc.RateLimit

		if now.Sub(rl.WindowStart) >= settings.Window() {
			rl.RequestsThisMinute = 1
			rl.WindowStart = now
			rl.BlockedUntil = nil
			if acc.Status == StatusRateLimited {
				acc.Status = StatusActive
			}
		} else {
			rl.RequestsThisMinute++
			if rl.RequestsThisMinute >= settings.RateLimitPerAccount {
				until := now.Add(settings.Cooldown())
				rl.BlockedUntil = &until
				if acc.Status == StatusActive {
					acc.Status = StatusRateLimited
					limited = true
				}
			}
		}

		acc.Stats.TotalRequests++
		ts := now
		acc.Stats.LastRequestAt = &ts
		used := now
		acc.LastUsed = &used

		out = acc.clone()
		return nil
	})
	if err != nil {
		return Account{}, false, err
	}

	if limited {
		s.log.WithFields(logrus.Fields{
			"account_id": id,
			"email":      maskEmail(out.Email),
			"requests":   out.RateLimit.RequestsThisMinute,
		}).Info("account reached rate limit")
	}
	return out, limited, nil
}

// RecordSuccess counts a successful upstream call.
func (s *Store) RecordSuccess(id string) error {
	return s.mutate(func(doc *Document) error {
		_, acc := doc.find(id)
		if acc == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		acc.Stats.SuccessfulRequests++
		return nil
	})
}

// RecordFailure counts a failed upstream call; rateLimited also counts a rate-limit hit.
func (s *Store) RecordFailure(id string, rateLimited bool) error {
	return s.mutate(func(doc *Document) error {
		_, acc := doc.find(id)
		if acc == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		acc.Stats.FailedRequests++
		if rateLimited {
			acc.Stats.RateLimitHits++
		}
		return nil
	})
}

// MarkRateLimited records an upstream rate-limit rejection: the account is
// parked for one cooldown. An expired window is restarted so the block is
// honoured by the eligibility test.
func (s *Store) MarkRateLimited(id string, now time.Time) (bool, error) {
	changed := false
	now = now.UTC()
	err := s.mutate(func(doc *Document) error {
		_, acc := doc.find(id)
		if acc == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if acc.Status == StatusInvalid || acc.Status == StatusBlocked {
			return errNoChange
		}
		rl := &acc.RateLimit
		if now.Sub(rl.WindowStart) >= doc.Settings.Window() {
			rl.WindowStart = now
			rl.RequestsThisMinute = 0
		}
		until := now.Add(doc.Settings.Cooldown())
		rl.BlockedUntil = &until
		changed = acc.Status != StatusRateLimited
		acc.Status = StatusRateLimited
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// SetStatus overwrites the account status. The returned bool is false when
// the status was already st.
func (s *Store) SetStatus(id string, st Status) (bool, error) {
	if !st.Valid() {
		return false, fmt.Errorf("%w: unknown status", ErrInvalidInput)
	}
	changed := false
	err := s.mutate(func(doc *Document) error {
		_, acc := doc.find(id)
		if acc == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if acc.Status == st {
			return errNoChange
		}
		acc.Status = st
		changed = true
		return nil
	})
	return changed, err
}

// RecoverExpired returns rate-limited accounts to active once the fixed-window
// test no longer limits them. It reports how many accounts recovered.
func (s *Store) RecoverExpired(now time.Time) (int, error) {
	if !s.hasRecoverable(now) {
		return 0, nil
	}

	recovered := 0
	err := s.mutate(func(doc *Document) error {
		for i := range doc.Accounts {
			acc := &doc.Accounts[i]
			if acc.Status != StatusRateLimited || acc.RateLimitedAt(doc.Settings, now) {
				continue
			}
			acc.Status = StatusActive
			recovered++
		}
		if recovered == 0 {
			return errNoChange
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if recovered > 0 {
		s.log.WithField("recovered", recovered).Debug("rate-limited accounts recovered")
	}
	return recovered, nil
}

func (s *Store) hasRecoverable(now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.doc.Accounts {
		acc := &s.doc.Accounts[i]
		if acc.Status == StatusRateLimited && !acc.RateLimitedAt(s.doc.Settings, now) {
			return true
		}
	}
	return false
}

// ResetRateLimits zeroes every window and returns rate-limited accounts to active.
func (s *Store) ResetRateLimits() error {
	now := s.now().UTC()
	err := s.mutate(func(doc *Document) error {
		for i := range doc.Accounts {
			acc := &doc.Accounts[i]
			acc.RateLimit = RateLimit{WindowStart: now}
			if acc.Status == StatusRateLimited {
				acc.Status = StatusActive
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("rate limits reset")
	return nil
}
