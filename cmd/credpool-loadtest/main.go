package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/credpool"
	"github.com/MrEthical07/credpool/validator"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// fakeUpstream signs in instantly and throttles a fraction of calls.
type fakeUpstream struct {
	signIns atomic.Int64
}

func (u *fakeUpstream) SignIn(_ context.Context, email, _ string) (validator.Token, error) {
	u.signIns.Add(1)
	return validator.Token{Value: "tok-" + email, ExpiresIn: time.Hour}, nil
}

func (u *fakeUpstream) Validate(ctx context.Context, email, password string) (string, error) {
	tok, err := u.SignIn(ctx, email, password)
	return tok.Value, err
}

func main() {
	var (
		accounts    = flag.Int("accounts", 50, "number of accounts to seed")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 20000, "Do calls to issue")
		limitRate   = flag.Float64("rate-limit-ratio", 0.02, "fraction of calls the fake upstream rejects with 429")
		perWindow   = flag.Int("per-window", 1000, "requests per account per window")
		strategy    = flag.String("strategy", "round-robin", "rotation strategy")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *accounts <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "accounts, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	dir, err := os.MkdirTemp("", "credpool-loadtest-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	cfg := credpool.DefaultConfig()
	cfg.Storage.Path = filepath.Join(dir, "accounts.json")
	cfg.Storage.KeyFile = filepath.Join(dir, ".encryption_key")
	cfg.Storage.KeyEnv = ""
	cfg.Defaults.RateLimitPerAccount = *perWindow
	cfg.Defaults.CooldownMs = 200
	cfg.Defaults.MaxRetries = 5
	s, err := parseStrategy(*strategy)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg.Defaults.RotationStrategy = s

	upstream := &fakeUpstream{}
	pool, err := credpool.New().
		WithConfig(cfg).
		WithRedis(client).
		WithSignInClient(upstream).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	fmt.Printf("seeding %d accounts...\n", *accounts)
	startSeed := time.Now()
	for i := 0; i < *accounts; i++ {
		in := credpool.AddAccountInput{Email: fmt.Sprintf("user%d@loadtest.invalid", i), Password: "pw"}
		if _, err := pool.AddAccount(ctx, in); err != nil {
			fmt.Fprintf(os.Stderr, "add failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	stats := runDoPhase(ctx, pool, *ops, *concurrency, *limitRate)

	fmt.Println("---- results ----")
	printStats("do", stats)
	fmt.Printf("sign-ins=%d distinct-accounts=%d\n", upstream.signIns.Load(), stats.distinct)
	snap := pool.MetricsSnapshot()
	fmt.Printf("selected=%d retries=%d exhausted=%d cache-hits=%d\n",
		snap.Counters[credpool.MetricAccountSelected],
		snap.Counters[credpool.MetricRetry],
		snap.Counters[credpool.MetricRetryExhausted],
		snap.Counters[credpool.MetricTokenCacheHit],
	)
}

func parseStrategy(v string) (credpool.Strategy, error) {
	var s credpool.Strategy
	err := s.UnmarshalText([]byte(v))
	return s, err
}

func runDoPhase(ctx context.Context, pool *credpool.Pool, ops, concurrency int, limitRate float64) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		starved   int64
		latencies = make([]time.Duration, 0, ops)
		used      = make(map[string]struct{})
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := pool.Do(ctx, func(_ context.Context, call credpool.Call) error {
					mu.Lock()
					used[call.AccountID] = struct{}{}
					mu.Unlock()
					if r.Float64() < limitRate {
						return &credpool.RequestError{StatusCode: http.StatusTooManyRequests}
					}
					return nil
				})
				d := time.Since(t0)
				switch {
				case err == nil:
				case errors.Is(err, credpool.ErrNoAvailableAccounts):
					// every account reserved by other workers
					atomic.AddInt64(&starved, 1)
				default:
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)

	stats := computeStats(total, latencies, failures)
	stats.distinct = len(used)
	stats.starved = starved
	return stats
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	starved  int64
	distinct int
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d starved=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.starved,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
