package credpool

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/credpool/internal/audit"
	"github.com/MrEthical07/credpool/rotation"
	"github.com/MrEthical07/credpool/store"
	"github.com/MrEthical07/credpool/tokencache"
	"github.com/sirupsen/logrus"
)

// Pool is the credential pool: an encrypted account store, a rotation
// scheduler over it, and the sign-in and retry plumbing around outbound calls.
// All methods are safe for concurrent use.
type Pool struct {
	config  Config
	store   *store.Store
	sched   *rotation.Scheduler
	signIn  SignInClient
	tokens  tokencache.Cache
	audit   *audit.Dispatcher
	metrics *Metrics
	log     logrus.FieldLogger
	now     func() time.Time
}

// Close flushes pending audit events.
func (p *Pool) Close() {
	p.audit.Close()
}

// Scheduler exposes the rotation scheduler for callers that drive the call
// protocol themselves instead of using Do.
func (p *Pool) Scheduler() *rotation.Scheduler {
	return p.sched
}

// MetricsSnapshot copies the pool's counters.
func (p *Pool) MetricsSnapshot() MetricsSnapshot {
	return p.metrics.Snapshot()
}

// AddAccount stores a new account. in.Validate asks the upstream first.
func (p *Pool) AddAccount(ctx context.Context, in AddAccountInput) (AccountView, error) {
	view, err := p.store.AddAccount(ctx, in)
	if in.Validate {
		p.countValidation(err, err == nil)
	}
	if err != nil {
		return AccountView{}, err
	}

	p.metrics.Inc(MetricAccountAdded)
	p.emitAudit(ctx, audit.EventAccountAdded, view.ID, in.Email, true, nil, nil)
	return view, nil
}

// RemoveAccount deletes an account and forgets its cached token.
func (p *Pool) RemoveAccount(ctx context.Context, id string) error {
	if err := p.store.RemoveAccount(id); err != nil {
		return err
	}
	p.dropToken(ctx, id)
	p.sched.MarkFree(id)

	p.metrics.Inc(MetricAccountRemoved)
	p.emitAudit(ctx, audit.EventAccountRemoved, id, "", true, nil, nil)
	return nil
}

// ListAccounts returns account views in document order.
func (p *Pool) ListAccounts(opts ListOptions) []AccountView {
	return p.store.ListAccounts(opts)
}

// GetAccount returns one account view with stats.
func (p *Pool) GetAccount(id string, includeSensitive bool) (AccountView, error) {
	return p.store.GetAccount(id, includeSensitive)
}

// GetCredentials decrypts one account's credentials.
func (p *Pool) GetCredentials(id string) (Credentials, error) {
	return p.store.GetCredentials(id)
}

// UpdateAccount applies an administrative change. Moving an account to
// invalid or blocked also drops its cached token.
func (p *Pool) UpdateAccount(ctx context.Context, id string, upd AccountUpdate) (AccountView, error) {
	view, err := p.store.UpdateAccount(id, upd)
	if err != nil {
		return AccountView{}, err
	}
	if view.Status == StatusInvalid || view.Status == StatusBlocked {
		p.dropToken(ctx, id)
	}

	p.emitAudit(ctx, audit.EventAccountUpdated, id, "", true, nil, map[string]string{"status": view.Status.String()})
	return view, nil
}

// ValidateAccount re-checks stored credentials upstream. A rejection marks
// the account invalid.
func (p *Pool) ValidateAccount(ctx context.Context, id string) (bool, error) {
	ok, err := p.store.ValidateAccount(ctx, id)
	p.countValidation(err, ok)
	if err != nil {
		return false, err
	}
	if !ok {
		p.dropToken(ctx, id)
		p.emitAudit(ctx, audit.EventAccountInvalidated, id, "", false, ErrInvalidCredentials, nil)
	}
	return ok, nil
}

func (p *Pool) countValidation(err error, ok bool) {
	switch {
	case errors.Is(err, ErrValidationTimeout):
		p.metrics.Inc(MetricValidationTimeout)
	case errors.Is(err, ErrInvalidCredentials) || (err == nil && !ok):
		p.metrics.Inc(MetricValidationFailure)
	case err == nil:
		p.metrics.Inc(MetricValidationSuccess)
	}
}

// Settings returns the persisted rotation settings.
func (p *Pool) Settings() Settings {
	return p.store.Settings()
}

// UpdateSettings merges upd into the persisted settings. The next selection
// uses the new values.
func (p *Pool) UpdateSettings(ctx context.Context, upd SettingsUpdate) (Settings, error) {
	s, err := p.store.UpdateSettings(upd)
	if err != nil {
		return Settings{}, err
	}
	p.emitAudit(ctx, audit.EventSettingsUpdated, "", "", true, nil, map[string]string{
		"rotationStrategy": s.RotationStrategy.String(),
	})
	return s, nil
}

// Statistics aggregates stored counters.
func (p *Pool) Statistics() Statistics {
	return p.store.Statistics()
}

// Usage returns the scheduler's live view.
func (p *Pool) Usage() (Usage, error) {
	return p.sched.Stats()
}

// ResetRateLimits clears every window and the scheduler's runtime state.
func (p *Pool) ResetRateLimits(ctx context.Context) error {
	if err := p.sched.ResetRateLimits(); err != nil {
		return err
	}
	p.metrics.Inc(MetricRateLimitReset)
	p.emitAudit(ctx, audit.EventRateLimitsReset, "", "", true, nil, nil)
	return nil
}

// IsRateLimited reports whether the account is inside an exhausted window.
func (p *Pool) IsRateLimited(id string) bool {
	return p.sched.IsRateLimited(id)
}

// TimeUntilAvailable returns how long the account's cooldown still runs.
func (p *Pool) TimeUntilAvailable(id string) time.Duration {
	return p.sched.TimeUntilAvailable(id)
}

// Next selects and reserves an account; see [rotation.Scheduler.Next].
// Release it with Scheduler().MarkFree.
func (p *Pool) Next(ctx context.Context) (*Credentials, error) {
	creds, err := p.sched.Next(ctx)
	p.countSelection(creds, err)
	return creds, err
}

// WaitForAvailableAccount blocks until an account can be reserved. A zero
// timeout uses Config.Scheduler.WaitTimeout. It returns nil, nil on timeout.
func (p *Pool) WaitForAvailableAccount(ctx context.Context, timeout time.Duration) (*Credentials, error) {
	if timeout <= 0 {
		timeout = p.config.Scheduler.WaitTimeout
	}
	start := time.Now()
	creds, err := p.sched.WaitForAvailableAccount(ctx, timeout)
	p.metrics.Observe(MetricWaitLatency, time.Since(start))
	p.countSelection(creds, err)
	return creds, err
}

func (p *Pool) countSelection(creds *Credentials, err error) {
	switch {
	case err != nil:
	case creds == nil:
		p.metrics.Inc(MetricNoAvailableAccount)
	default:
		p.metrics.Inc(MetricAccountSelected)
	}
}

func (p *Pool) dropToken(ctx context.Context, id string) {
	if p.tokens == nil {
		return
	}
	if err := p.tokens.Delete(ctx, id); err != nil {
		p.log.WithFields(logrus.Fields{"account_id": id, "error": err.Error()}).Warn("failed to drop cached token")
	}
}
