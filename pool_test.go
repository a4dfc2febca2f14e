package credpool

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/credpool/validator"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

type fakeUpstream struct {
	mu      sync.Mutex
	signIns map[string]int
	reject  map[string]bool
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{signIns: map[string]int{}, reject: map[string]bool{}}
}

func (f *fakeUpstream) SignIn(_ context.Context, email, _ string) (validator.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signIns[email]++
	if f.reject[email] {
		return validator.Token{}, &validator.StatusError{StatusCode: http.StatusUnauthorized}
	}
	return validator.Token{Value: "tok-" + email, ExpiresIn: time.Hour}, nil
}

func (f *fakeUpstream) Validate(ctx context.Context, email, password string) (string, error) {
	tok, err := f.SignIn(ctx, email, password)
	return tok.Value, err
}

func (f *fakeUpstream) count(email string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signIns[email]
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	dir := t.TempDir()
	cfg.Storage.Path = filepath.Join(dir, "accounts.json")
	cfg.Storage.KeyFile = filepath.Join(dir, ".encryption_key")
	cfg.Storage.Key = []byte("0123456789abcdef0123456789abcdef")
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	cfg.Scheduler.PollInterval = 5 * time.Millisecond
	return cfg
}

type poolFixture struct {
	pool     *Pool
	upstream *fakeUpstream
	sink     *ChannelSink
	ids      map[string]string
}

func newPoolFixture(t *testing.T, cfg Config, emails ...string) *poolFixture {
	t.Helper()

	f := &poolFixture{
		upstream: newFakeUpstream(),
		sink:     NewChannelSink(128),
		ids:      map[string]string{},
	}
	pool, err := New().
		WithConfig(cfg).
		WithSignInClient(f.upstream).
		WithAuditSink(f.sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(pool.Close)
	f.pool = pool

	for _, email := range emails {
		view, err := pool.AddAccount(context.Background(), AddAccountInput{Email: email, Password: "pw"})
		if err != nil {
			t.Fatalf("AddAccount(%s) failed: %v", email, err)
		}
		f.ids[email] = view.ID
	}
	return f
}

func (f *poolFixture) auditTypes() []string {
	f.pool.Close()
	var out []string
	for {
		select {
		case ev := <-f.sink.Events():
			out = append(out, ev.EventType)
		default:
			return out
		}
	}
}

func TestDoSuccessCachesToken(t *testing.T) {
	f := newPoolFixture(t, testConfig(t), "a@example.com")

	for i := 0; i < 2; i++ {
		err := f.pool.Do(context.Background(), func(_ context.Context, call Call) error {
			if call.Token != "tok-a@example.com" {
				t.Fatalf("unexpected token %q", call.Token)
			}
			if call.Attempt != 1 {
				t.Fatalf("unexpected attempt %d", call.Attempt)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Do failed: %v", err)
		}
	}

	if got := f.upstream.count("a@example.com"); got != 1 {
		t.Fatalf("expected one sign-in, got %d", got)
	}
	acc, _ := f.pool.GetAccount(f.ids["a@example.com"], false)
	if acc.Stats.TotalRequests != 2 || acc.Stats.SuccessfulRequests != 2 {
		t.Fatalf("unexpected stats: %+v", acc.Stats)
	}
	if f.pool.Scheduler().IsBusy(acc.ID) {
		t.Fatal("account still reserved after Do")
	}

	snap := f.pool.MetricsSnapshot()
	if snap.Counters[MetricTokenCacheHit] != 1 || snap.Counters[MetricTokenCacheMiss] != 1 {
		t.Fatalf("unexpected cache counters: %v", snap.Counters)
	}
}

func TestDoRotatesOnRateLimit(t *testing.T) {
	f := newPoolFixture(t, testConfig(t), "a@example.com", "b@example.com")
	idA := f.ids["a@example.com"]

	var used []string
	err := f.pool.Do(context.Background(), func(_ context.Context, call Call) error {
		used = append(used, call.AccountID)
		if call.AccountID == idA {
			return &RequestError{StatusCode: http.StatusTooManyRequests}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if len(used) != 2 || used[0] != idA || used[1] != f.ids["b@example.com"] {
		t.Fatalf("unexpected rotation: %v", used)
	}

	acc, _ := f.pool.GetAccount(idA, false)
	if acc.Status != StatusRateLimited || acc.RateLimit.BlockedUntil == nil {
		t.Fatalf("expected A parked, got %s", acc.Status)
	}
	if acc.Stats.RateLimitHits != 1 || acc.Stats.FailedRequests != 1 {
		t.Fatalf("unexpected stats: %+v", acc.Stats)
	}
	if !f.pool.IsRateLimited(idA) || f.pool.TimeUntilAvailable(idA) <= 0 {
		t.Fatal("expected A to report a cooldown")
	}

	types := f.auditTypes()
	if !containsString(types, AuditAccountRateLimited) {
		t.Fatalf("expected rate-limited audit event, got %v", types)
	}
}

func TestDoExhaustsRetryBudget(t *testing.T) {
	f := newPoolFixture(t, testConfig(t), "a@example.com", "b@example.com", "c@example.com", "d@example.com")

	attempts := 0
	err := f.pool.Do(context.Background(), func(context.Context, Call) error {
		attempts++
		return &RequestError{StatusCode: http.StatusForbidden, Code: "QUOTA"}
	})

	var exhausted *AllAccountsRateLimitedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *AllAccountsRateLimitedError, got %v", err)
	}
	if !errors.Is(err, ErrAllAccountsRateLimited) {
		t.Fatal("expected errors.Is ErrAllAccountsRateLimited")
	}
	var last *RequestError
	if !errors.As(err, &last) || last.StatusCode != http.StatusForbidden {
		t.Fatalf("expected last upstream error, got %v", exhausted.Last)
	}
	if attempts != 3 || exhausted.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d / %d", attempts, exhausted.Attempts)
	}
	if got := f.pool.MetricsSnapshot().Counters[MetricRetryExhausted]; got != 1 {
		t.Fatalf("expected one exhausted retry, got %d", got)
	}
}

func TestDoRunsOutOfAccountsMidLoop(t *testing.T) {
	f := newPoolFixture(t, testConfig(t), "a@example.com", "b@example.com")

	err := f.pool.Do(context.Background(), func(context.Context, Call) error {
		return &RequestError{StatusCode: http.StatusOK, Code: "RATE_LIMIT"}
	})
	var exhausted *AllAccountsRateLimitedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 2 {
		t.Fatalf("expected exhaustion after 2 attempts, got %v", err)
	}
}

func TestDoNoAccounts(t *testing.T) {
	f := newPoolFixture(t, testConfig(t))
	err := f.pool.Do(context.Background(), func(context.Context, Call) error { return nil })
	if !errors.Is(err, ErrNoAvailableAccounts) {
		t.Fatalf("expected ErrNoAvailableAccounts, got %v", err)
	}
}

func TestDoInvalidatesRejectedAccount(t *testing.T) {
	f := newPoolFixture(t, testConfig(t), "a@example.com", "b@example.com")
	f.upstream.reject["a@example.com"] = true

	var used string
	err := f.pool.Do(context.Background(), func(_ context.Context, call Call) error {
		used = call.AccountID
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if used != f.ids["b@example.com"] {
		t.Fatalf("expected fallback to B, got %s", used)
	}

	acc, _ := f.pool.GetAccount(f.ids["a@example.com"], false)
	if acc.Status != StatusInvalid {
		t.Fatalf("expected A invalid, got %s", acc.Status)
	}
	if _, err := f.pool.GetCredentials(acc.ID); !errors.Is(err, ErrAccountUnavailable) {
		t.Fatalf("expected ErrAccountUnavailable, got %v", err)
	}
	if !containsString(f.auditTypes(), AuditAccountInvalidated) {
		t.Fatal("expected invalidation audit event")
	}
}

func TestDoSignInFailureKeepsCountersConsistent(t *testing.T) {
	f := newPoolFixture(t, testConfig(t), "a@example.com", "b@example.com")
	f.upstream.reject["a@example.com"] = true

	if err := f.pool.Do(context.Background(), func(context.Context, Call) error { return nil }); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	a, _ := f.pool.GetAccount(f.ids["a@example.com"], false)
	if a.Stats.TotalRequests != 0 || a.Stats.FailedRequests != 0 {
		t.Fatalf("sign-in failure counted as a call: %+v", a.Stats)
	}

	st := f.pool.Statistics()
	if st.SuccessfulRequests+st.FailedRequests > st.TotalRequests {
		t.Fatalf("outcomes exceed dispatched calls: %+v", st)
	}
	if st.TotalRequests != 1 || st.SuccessfulRequests != 1 || st.SuccessRate != "100.00%" {
		t.Fatalf("unexpected statistics: %+v", st)
	}
	if got := f.pool.MetricsSnapshot().Counters[MetricRequestFailure]; got != 1 {
		t.Fatalf("expected sign-in failure in metrics, got %d", got)
	}
}

func TestDoUnauthorizedCallInvalidates(t *testing.T) {
	f := newPoolFixture(t, testConfig(t), "a@example.com")
	id := f.ids["a@example.com"]

	err := f.pool.Do(context.Background(), func(context.Context, Call) error {
		return &RequestError{StatusCode: http.StatusUnauthorized}
	})
	var exhausted *AllAccountsRateLimitedError
	if !errors.As(err, &exhausted) || exhausted.Attempts != 1 {
		t.Fatalf("expected exhaustion after one attempt, got %v", err)
	}
	if !IsAuthError(exhausted.Last) {
		t.Fatalf("expected auth error as last, got %v", exhausted.Last)
	}

	acc, _ := f.pool.GetAccount(id, false)
	if acc.Status != StatusInvalid {
		t.Fatalf("expected invalid, got %s", acc.Status)
	}
	if _, ok, _ := f.pool.tokens.Get(context.Background(), id); ok {
		t.Fatal("cached token not dropped")
	}
}

func TestDoReturnsOtherErrorsImmediately(t *testing.T) {
	f := newPoolFixture(t, testConfig(t), "a@example.com", "b@example.com")
	boom := errors.New("boom")

	calls := 0
	err := f.pool.Do(context.Background(), func(context.Context, Call) error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) || calls != 1 {
		t.Fatalf("expected boom after one call, got %v after %d", err, calls)
	}
	acc, _ := f.pool.GetAccount(f.ids["a@example.com"], false)
	if acc.Status != StatusActive || acc.Stats.FailedRequests != 1 {
		t.Fatalf("unexpected account state: %s %+v", acc.Status, acc.Stats)
	}
}

func TestDoRespectsWindowLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Defaults.RateLimitPerAccount = 1
	f := newPoolFixture(t, cfg, "a@example.com", "b@example.com")

	var used []string
	for i := 0; i < 2; i++ {
		if err := f.pool.Do(context.Background(), func(_ context.Context, call Call) error {
			used = append(used, call.AccountID)
			return nil
		}); err != nil {
			t.Fatalf("Do %d failed: %v", i, err)
		}
	}
	if used[0] == used[1] {
		t.Fatalf("expected two different accounts, got %v", used)
	}

	err := f.pool.Do(context.Background(), func(context.Context, Call) error { return nil })
	if !errors.Is(err, ErrNoAvailableAccounts) {
		t.Fatalf("expected ErrNoAvailableAccounts, got %v", err)
	}

	if err := f.pool.ResetRateLimits(context.Background()); err != nil {
		t.Fatalf("ResetRateLimits failed: %v", err)
	}
	if err := f.pool.Do(context.Background(), func(context.Context, Call) error { return nil }); err != nil {
		t.Fatalf("Do after reset failed: %v", err)
	}
}

func TestPoolRedisTokenCache(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cfg := testConfig(t)
	cfg.TokenCache.RedisPrefix = "cp"

	upstream := newFakeUpstream()
	pool, err := New().WithConfig(cfg).WithRedis(rdb).WithSignInClient(upstream).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer pool.Close()

	view, err := pool.AddAccount(context.Background(), AddAccountInput{Email: "a@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("AddAccount failed: %v", err)
	}
	if err := pool.Do(context.Background(), func(context.Context, Call) error { return nil }); err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	raw, err := mr.Get("cp:tok:" + view.ID)
	if err != nil {
		t.Fatalf("expected token in redis: %v", err)
	}
	if strings.Contains(raw, "tok-a@example.com") {
		t.Fatal("token stored unencrypted")
	}

	if err := pool.RemoveAccount(context.Background(), view.ID); err != nil {
		t.Fatalf("RemoveAccount failed: %v", err)
	}
	if mr.Exists("cp:tok:" + view.ID) {
		t.Fatal("token not dropped on remove")
	}
}

func TestPoolAdminAuditTrail(t *testing.T) {
	f := newPoolFixture(t, testConfig(t), "a@example.com")
	id := f.ids["a@example.com"]
	ctx := context.Background()

	blocked := StatusBlocked
	if _, err := f.pool.UpdateAccount(ctx, id, AccountUpdate{Status: &blocked}); err != nil {
		t.Fatalf("UpdateAccount failed: %v", err)
	}
	strategy := StrategyLeastUsed
	if _, err := f.pool.UpdateSettings(ctx, SettingsUpdate{RotationStrategy: &strategy}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if err := f.pool.RemoveAccount(ctx, id); err != nil {
		t.Fatalf("RemoveAccount failed: %v", err)
	}

	want := []string{AuditAccountAdded, AuditAccountUpdated, AuditSettingsUpdated, AuditAccountRemoved}
	got := f.auditTypes()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("audit trail = %v, want %v", got, want)
	}
	if f.pool.AuditDropped() != 0 {
		t.Fatal("unexpected dropped audit events")
	}
}

func TestPoolValidateAccount(t *testing.T) {
	f := newPoolFixture(t, testConfig(t), "a@example.com", "b@example.com")
	f.upstream.reject["b@example.com"] = true

	ok, err := f.pool.ValidateAccount(context.Background(), f.ids["a@example.com"])
	if err != nil || !ok {
		t.Fatalf("expected A valid, got %v %v", ok, err)
	}
	ok, err = f.pool.ValidateAccount(context.Background(), f.ids["b@example.com"])
	if err != nil || ok {
		t.Fatalf("expected B rejected, got %v %v", ok, err)
	}

	snap := f.pool.MetricsSnapshot()
	if snap.Counters[MetricValidationSuccess] != 1 || snap.Counters[MetricValidationFailure] != 1 {
		t.Fatalf("unexpected validation counters: %v", snap.Counters)
	}
}

func TestWaitForAvailableAccountUsesConfigTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.WaitTimeout = 20 * time.Millisecond
	f := newPoolFixture(t, cfg)

	creds, err := f.pool.WaitForAvailableAccount(context.Background(), 0)
	if err != nil || creds != nil {
		t.Fatalf("expected nil, nil; got %v %v", creds, err)
	}
	if got := f.pool.MetricsSnapshot().Counters[MetricNoAvailableAccount]; got == 0 {
		t.Fatal("expected no-capacity counter")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig(t))
	p, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer p.Close()
	if _, err := b.Build(); !errors.Is(err, ErrBuilderUsed) {
		t.Fatalf("expected ErrBuilderUsed, got %v", err)
	}
}

func TestBuilderKeyFromEnv(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Key = nil
	env := map[string]string{cfg.Storage.KeyEnv: strings.Repeat("ab", 32)}

	p, err := New().WithConfig(cfg).WithGetenv(func(k string) string { return env[k] }).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	view, err := p.AddAccount(context.Background(), AddAccountInput{Email: "a@example.com", Password: "pw"})
	p.Close()
	if err != nil {
		t.Fatalf("AddAccount failed: %v", err)
	}

	env[cfg.Storage.KeyEnv] = strings.Repeat("cd", 32)
	if _, err := New().WithConfig(cfg).WithGetenv(func(k string) string { return env[k] }).Build(); !errors.Is(err, ErrWrongKey) {
		t.Fatalf("expected ErrWrongKey with another key, got %v", err)
	}

	env[cfg.Storage.KeyEnv] = strings.Repeat("ab", 32)
	p2, err := New().WithConfig(cfg).WithGetenv(func(k string) string { return env[k] }).Build()
	if err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	defer p2.Close()
	if _, err := p2.GetCredentials(view.ID); err != nil {
		t.Fatalf("GetCredentials failed: %v", err)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		rateLimit bool
		auth      bool
	}{
		{"429", &RequestError{StatusCode: 429}, true, false},
		{"403", &RequestError{StatusCode: 403}, true, false},
		{"code", &RequestError{StatusCode: 200, Code: "RATE_LIMIT"}, true, false},
		{"401", &RequestError{StatusCode: 401}, false, true},
		{"sign-in 401", &validator.StatusError{StatusCode: 401}, false, true},
		{"sign-in 429", &validator.StatusError{StatusCode: 429}, true, false},
		{"wrapped", errors.Join(errors.New("ctx"), &RequestError{StatusCode: 429}), true, false},
		{"plain", errors.New("boom"), false, false},
		{"nil", nil, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRateLimitError(tc.err); got != tc.rateLimit {
				t.Fatalf("IsRateLimitError = %v, want %v", got, tc.rateLimit)
			}
			if got := IsAuthError(tc.err); got != tc.auth {
				t.Fatalf("IsAuthError = %v, want %v", got, tc.auth)
			}
		})
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestAuditTypeFilterAndDefaultLogrusSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Audit.Types = []string{AuditAccountRemoved}

	logger, hook := logtest.NewNullLogger()
	pool, err := New().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	view, err := pool.AddAccount(context.Background(), AddAccountInput{Email: "a@example.com", Password: "pw"})
	if err != nil {
		t.Fatalf("AddAccount failed: %v", err)
	}
	if err := pool.RemoveAccount(context.Background(), view.ID); err != nil {
		t.Fatalf("RemoveAccount failed: %v", err)
	}
	pool.Close()

	var audited []string
	for _, e := range hook.AllEntries() {
		if e.Data["audit"] == true {
			audited = append(audited, e.Data["event_type"].(string))
		}
	}
	if len(audited) != 1 || audited[0] != AuditAccountRemoved {
		t.Fatalf("expected only account_removed audited, got %v", audited)
	}
}
