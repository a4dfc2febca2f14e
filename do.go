package credpool

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/credpool/internal/audit"
	"github.com/MrEthical07/credpool/store"
	"github.com/MrEthical07/credpool/tokencache"
	"github.com/sirupsen/logrus"
)

// Do runs fn against one account at a time until it succeeds, fails with an
// error that is neither rate-limit nor auth class, or the settings' maxRetries
// attempts are used up.
//
// fn should report upstream rejections as *RequestError so they can be
// classified. Rate-limit failures park the account for one cooldown; auth
// failures mark it invalid. Either way the next attempt uses a different
// account. Exhaustion returns *AllAccountsRateLimitedError wrapping the last
// failure; finding no eligible account for the first attempt returns
// ErrNoAvailableAccounts.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context, call Call) error) error {
	maxAttempts := p.store.Settings().MaxRetries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			p.metrics.Inc(MetricRetry)
		}

		creds, err := p.Next(ctx)
		if err != nil {
			return err
		}
		if creds == nil {
			if attempt == 1 {
				return ErrNoAvailableAccounts
			}
			return p.exhausted(ctx, attempt-1, last)
		}

		err = p.attempt(ctx, creds, attempt, fn)
		if err == nil {
			return nil
		}
		last = err

		if !IsRateLimitError(err) && !IsAuthError(err) {
			return err
		}
		p.log.WithFields(logrus.Fields{
			"account_id": creds.ID,
			"email":      store.MaskEmail(creds.Email),
			"attempt":    attempt,
			"error":      err.Error(),
		}).Info("attempt failed, rotating account")
	}
	return p.exhausted(ctx, maxAttempts, last)
}

func (p *Pool) exhausted(ctx context.Context, attempts int, last error) error {
	p.metrics.Inc(MetricRetryExhausted)
	p.emitAudit(ctx, audit.EventRetryExhausted, "", "", false, last, map[string]string{
		"attempts": strconv.Itoa(attempts),
	})
	p.log.WithField("attempts", attempts).Warn("retry budget exhausted")
	return &AllAccountsRateLimitedError{Attempts: attempts, Last: last}
}

func (p *Pool) attempt(ctx context.Context, creds *Credentials, attempt int, fn func(context.Context, Call) error) error {
	defer p.sched.MarkFree(creds.ID)

	token, err := p.Authenticate(ctx, creds)
	if err != nil {
		p.recordFailure(ctx, creds, err, false)
		return err
	}

	limited, err := p.sched.TrackRequest(creds.ID)
	if err != nil {
		return err
	}
	if limited {
		p.metrics.Inc(MetricAccountRateLimited)
		p.emitAudit(ctx, audit.EventAccountRateLimited, creds.ID, creds.Email, true, nil, map[string]string{"reason": "window"})
	}

	callErr := fn(ctx, Call{AccountID: creds.ID, Email: creds.Email, Token: token, Attempt: attempt})
	if callErr == nil {
		p.metrics.Inc(MetricRequestSuccess)
		return p.sched.MarkSuccess(creds.ID)
	}

	p.recordFailure(ctx, creds, callErr, true)
	return callErr
}

// recordFailure updates bookkeeping for a failed sign-in or call. Per-account
// call counters only move when the call was dispatched, so a sign-in failure
// changes status and metrics but never FailedRequests. It never fails; store
// problems are logged.
func (p *Pool) recordFailure(ctx context.Context, creds *Credentials, cause error, dispatched bool) {
	p.metrics.Inc(MetricRequestFailure)
	if dispatched {
		p.sched.MarkFailed(creds.ID, cause)
	}

	switch {
	case IsAuthError(cause):
		p.invalidate(ctx, creds, cause)
	case IsRateLimitError(cause):
		p.metrics.Inc(MetricUpstreamRateLimitHit)
		changed, err := p.store.MarkRateLimited(creds.ID, p.now())
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			p.log.WithFields(logrus.Fields{"account_id": creds.ID, "error": err.Error()}).Warn("failed to park rate-limited account")
			return
		}
		if changed {
			p.metrics.Inc(MetricAccountRateLimited)
			p.emitAudit(ctx, audit.EventAccountRateLimited, creds.ID, creds.Email, true, cause, map[string]string{"reason": "upstream"})
		}
	}
}

func (p *Pool) invalidate(ctx context.Context, creds *Credentials, cause error) {
	p.metrics.Inc(MetricAuthFailure)
	p.dropToken(ctx, creds.ID)

	changed, err := p.store.SetStatus(creds.ID, StatusInvalid)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.log.WithFields(logrus.Fields{"account_id": creds.ID, "error": err.Error()}).Warn("failed to mark account invalid")
		return
	}
	if changed {
		p.log.WithFields(logrus.Fields{
			"account_id": creds.ID,
			"email":      store.MaskEmail(creds.Email),
		}).Warn("account credentials rejected, marked invalid")
		p.emitAudit(ctx, audit.EventAccountInvalidated, creds.ID, creds.Email, false, cause, nil)
	}
}

// Authenticate returns a bearer token for creds, from the token cache when
// possible and otherwise by signing in.
func (p *Pool) Authenticate(ctx context.Context, creds *Credentials) (string, error) {
	if creds == nil {
		return "", ErrInvalidInput
	}

	if p.tokens != nil {
		token, ok, err := p.tokens.Get(ctx, creds.ID)
		if err != nil {
			p.log.WithFields(logrus.Fields{"account_id": creds.ID, "error": err.Error()}).Warn("token cache read failed")
		} else if ok {
			p.metrics.Inc(MetricTokenCacheHit)
			return token, nil
		}
	}

	if p.signIn == nil {
		return "", ErrValidatorUnavailable
	}
	p.metrics.Inc(MetricTokenCacheMiss)

	start := time.Now()
	tok, err := p.signIn.SignIn(ctx, creds.Email, creds.Password)
	p.metrics.Observe(MetricSignInLatency, time.Since(start))
	if err != nil {
		return "", err
	}

	if p.tokens != nil {
		ttl := tokencache.TTL(tok.Value, tok.ExpiresIn, p.now(), p.config.TokenCache.Skew)
		if err := p.tokens.Put(ctx, creds.ID, tok.Value, ttl); err != nil {
			p.log.WithFields(logrus.Fields{"account_id": creds.ID, "error": err.Error()}).Warn("token cache write failed")
		}
	}
	return tok.Value, nil
}
