package rotation

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/MrEthical07/credpool/store"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is how often WaitForAvailableAccount retries selection.
const DefaultPollInterval = time.Second

// AccountStore is the subset of *store.Store the scheduler needs.
type AccountStore interface {
	Snapshot() ([]store.Account, store.Settings)
	GetCredentials(id string) (store.Credentials, error)
	RecordRequest(id string, now time.Time) (store.Account, bool, error)
	RecordSuccess(id string) error
	RecordFailure(id string, rateLimited bool) error
	RecoverExpired(now time.Time) (int, error)
	ResetRateLimits() error
}

// RateLimiter is implemented by errors that report an upstream rate or quota rejection.
type RateLimiter interface {
	RateLimited() bool
}

// IsRateLimited reports whether err, or any error it wraps, is a rate or quota rejection.
func IsRateLimited(err error) bool {
	var rl RateLimiter
	return errors.As(err, &rl) && rl.RateLimited()
}

// Options tunes a Scheduler. Zero values select the defaults.
type Options struct {
	PollInterval time.Duration
	Logger       logrus.FieldLogger
	Now          func() time.Time
	// Intn returns a uniform value in [0, n). Defaults to math/rand/v2.
	Intn func(n int) int
	// Classify reports rate-limit class failures for MarkFailed. Defaults to IsRateLimited.
	Classify func(error) bool
}

// Scheduler selects accounts. It is safe for concurrent use.
type Scheduler struct {
	store AccountStore

	mu     sync.Mutex
	busy   map[string]struct{}
	cursor int

	poll     time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
	intn     func(int) int
	classify func(error) bool
}

// New returns a scheduler over st.
func New(st AccountStore, opts Options) *Scheduler {
	s := &Scheduler{
		store:    st,
		busy:     make(map[string]struct{}),
		poll:     opts.PollInterval,
		log:      opts.Logger,
		now:      opts.Now,
		intn:     opts.Intn,
		classify: opts.Classify,
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	s.log = s.log.WithField("component", "rotation")
	if s.now == nil {
		s.now = time.Now
	}
	if s.intn == nil {
		s.intn = rand.Intn
	}
	if s.classify == nil {
		s.classify = IsRateLimited
	}
	return s
}

// Next selects and reserves one eligible account and returns its decrypted
// credentials. It returns nil, nil when no account is eligible.
func (s *Scheduler) Next(ctx context.Context) (*store.Credentials, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	now := s.now()
	if _, err := s.store.RecoverExpired(now); err != nil {
		return nil, err
	}

	var (
		id       string
		strategy store.Strategy
		creds    store.Credentials
	)
	// An admin removal or invalidation can land between reserve and the
	// decrypt; such an account is released and selection runs once more.
	for try := 0; ; try++ {
		var ok bool
		id, strategy, ok = s.reserve(now)
		if !ok {
			return nil, nil
		}

		var err error
		creds, err = s.store.GetCredentials(id)
		if err == nil {
			break
		}
		s.MarkFree(id)
		if try > 0 || !(errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrAccountUnavailable)) {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{
			"account_id": id,
			"error":      err.Error(),
		}).Debug("selected account vanished, reselecting")
	}

	s.log.WithFields(logrus.Fields{
		"account_id": id,
		"email":      store.MaskEmail(creds.Email),
		"strategy":   strategy.String(),
	}).Debug("account selected")
	return &creds, nil
}

func (s *Scheduler) reserve(now time.Time) (string, store.Strategy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, settings := s.store.Snapshot()
	eligible := make([]*store.Account, 0, len(accounts))
	for i := range accounts {
		if s.eligibleLocked(&accounts[i], settings, now) {
			eligible = append(eligible, &accounts[i])
		}
	}
	if len(eligible) == 0 {
		return "", settings.RotationStrategy, false
	}

	chosen := s.pickLocked(eligible, settings.RotationStrategy)
	s.busy[chosen.ID] = struct{}{}
	return chosen.ID, settings.RotationStrategy, true
}

func (s *Scheduler) eligibleLocked(acc *store.Account, settings store.Settings, now time.Time) bool {
	if acc.Status != store.StatusActive {
		return false
	}
	if _, busy := s.busy[acc.ID]; busy {
		return false
	}
	return !acc.RateLimitedAt(settings, now)
}

func (s *Scheduler) pickLocked(eligible []*store.Account, strategy store.Strategy) *store.Account {
	switch strategy {
	case store.StrategyLeastUsed:
		best := eligible[0]
		for _, acc := range eligible[1:] {
			if acc.RateLimit.RequestsThisMinute < best.RateLimit.RequestsThisMinute {
				best = acc
			}
		}
		return best
	case store.StrategyRandom:
		return eligible[s.intn(len(eligible))]
	case store.StrategyPriority:
		best := eligible[0]
		for _, acc := range eligible[1:] {
			if acc.Priority < best.Priority {
				best = acc
			}
		}
		return best
	default:
		// The cursor indexes the current eligible list, not the full list, so
		// it falls back to the head whenever the list shrank below it.
		if s.cursor >= len(eligible) {
			s.cursor = 0
		}
		acc := eligible[s.cursor]
		s.cursor = (s.cursor + 1) % len(eligible)
		return acc
	}
}

// MarkBusy reserves id. Reserving an already busy account is a no-op.
func (s *Scheduler) MarkBusy(id string) {
	s.mu.Lock()
	s.busy[id] = struct{}{}
	s.mu.Unlock()
}

// MarkFree releases id.
func (s *Scheduler) MarkFree(id string) {
	s.mu.Lock()
	delete(s.busy, id)
	s.mu.Unlock()
}

// IsBusy reports whether id is reserved by an in-flight call.
func (s *Scheduler) IsBusy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.busy[id]
	return ok
}

// TrackRequest counts a dispatched call against id's window. The bool reports
// whether this call exhausted the window and parked the account.
func (s *Scheduler) TrackRequest(id string) (bool, error) {
	_, limited, err := s.store.RecordRequest(id, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return limited, err
}

// MarkSuccess counts a successful call.
func (s *Scheduler) MarkSuccess(id string) error {
	if err := s.store.RecordSuccess(id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	return nil
}

// MarkFailed counts a failed call, and a rate-limit hit when cause is rate or
// quota class. Store errors are logged, never returned.
func (s *Scheduler) MarkFailed(id string, cause error) {
	rateLimited := cause != nil && s.classify(cause)
	if err := s.store.RecordFailure(id, rateLimited); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.WithFields(logrus.Fields{
			"account_id": id,
			"error":      err.Error(),
		}).Warn("failed to record call failure")
	}
}

// WaitForAvailableAccount polls Next until an account is selected or timeout
// elapses, in which case it returns nil, nil. Cancelling ctx stops the wait
// with ctx's error.
func (s *Scheduler) WaitForAvailableAccount(ctx context.Context, timeout time.Duration) (*store.Credentials, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		creds, err := s.Next(ctx)
		if err != nil || creds != nil {
			return creds, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-ticker.C:
		}
	}
}

// IsRateLimited reports whether id is currently limited by the fixed-window test.
func (s *Scheduler) IsRateLimited(id string) bool {
	accounts, settings := s.store.Snapshot()
	now := s.now()
	for i := range accounts {
		if accounts[i].ID == id {
			return accounts[i].RateLimitedAt(settings, now)
		}
	}
	return false
}

// TimeUntilAvailable returns how long id's cooldown still runs, or zero.
func (s *Scheduler) TimeUntilAvailable(id string) time.Duration {
	accounts, _ := s.store.Snapshot()
	now := s.now()
	for i := range accounts {
		if accounts[i].ID == id {
			return accounts[i].TimeUntilAvailable(now)
		}
	}
	return 0
}

// ResetRateLimits clears every window in the store, releases every
// reservation and rewinds the round-robin cursor.
func (s *Scheduler) ResetRateLimits() error {
	if err := s.store.ResetRateLimits(); err != nil {
		return err
	}
	s.mu.Lock()
	s.busy = make(map[string]struct{})
	s.cursor = 0
	s.mu.Unlock()
	return nil
}
