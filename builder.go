package credpool

import (
	"context"
	"os"
	"time"

	"github.com/MrEthical07/credpool/crypt"
	"github.com/MrEthical07/credpool/internal/audit"
	"github.com/MrEthical07/credpool/rotation"
	"github.com/MrEthical07/credpool/store"
	"github.com/MrEthical07/credpool/tokencache"
	"github.com/MrEthical07/credpool/validator"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SignInClient signs in against the upstream. *validator.Client implements it.
type SignInClient interface {
	SignIn(ctx context.Context, email, password string) (validator.Token, error)
	Validate(ctx context.Context, email, password string) (string, error)
}

// Builder assembles a Pool. A Builder is single use.
type Builder struct {
	config Config

	logger     logrus.FieldLogger
	redis      redis.UniversalClient
	signIn     SignInClient
	tokenCache tokencache.Cache
	auditSink  AuditSink
	now        func() time.Time
	getenv     func(string) string

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithLogger sets the logger. Without one, only warnings and errors are
// written to stderr.
func (b *Builder) WithLogger(l logrus.FieldLogger) *Builder {
	b.logger = l
	return b
}

// WithRedis shares the token cache through Redis. Tokens are sealed with the
// store key before they are written.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithSignInClient overrides the client built from Config.Validation.
func (b *Builder) WithSignInClient(c SignInClient) *Builder {
	b.signIn = c
	return b
}

// WithTokenCache overrides the cache chosen from Config.TokenCache.
func (b *Builder) WithTokenCache(c tokencache.Cache) *Builder {
	b.tokenCache = c
	return b
}

// WithAuditSink sets where audit events go when Config.Audit is enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithClock replaces time.Now for every time-dependent decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithGetenv replaces os.Getenv for key lookup.
func (b *Builder) WithGetenv(getenv func(string) string) *Builder {
	b.getenv = getenv
	return b
}

// Build validates the configuration, opens the store and wires the pool.
func (b *Builder) Build() (*Pool, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := b.logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	signIn := b.signIn
	if signIn == nil && cfg.Validation.BaseURL != "" {
		c, err := validator.New(cfg.Validation.BaseURL,
			validator.WithSignInPath(cfg.Validation.SignInPath),
			validator.WithTimeout(cfg.Validation.Timeout),
		)
		if err != nil {
			return nil, err
		}
		signIn = c
	}

	opts := store.Options{
		Path: cfg.Storage.Path,
		Key: crypt.KeySource{
			Key:        cloneBytes(cfg.Storage.Key),
			Passphrase: cfg.Storage.Passphrase,
			EnvVar:     cfg.Storage.KeyEnv,
			KeyFile:    cfg.Storage.KeyFile,
			Getenv:     b.getenv,
		},
		ValidationTimeout: cfg.Validation.Timeout,
		Logger:            log,
		Now:               now,
	}
	defaults := cfg.Defaults
	opts.Defaults = &defaults
	if signIn != nil {
		opts.Validator = signIn
	}

	st, err := store.Open(opts)
	if err != nil {
		return nil, err
	}

	sched := rotation.New(st, rotation.Options{
		PollInterval: cfg.Scheduler.PollInterval,
		Logger:       log,
		Now:          now,
		Classify:     IsRateLimitError,
	})

	cache := b.tokenCache
	if cache == nil && cfg.TokenCache.Enabled {
		if b.redis != nil {
			rc, err := tokencache.NewRedisCache(b.redis, st.Cipher(), cfg.TokenCache.RedisPrefix)
			if err != nil {
				return nil, err
			}
			cache = rc
		} else {
			cache = tokencache.NewMemoryCache(now)
		}
	}

	p := &Pool{
		config:  cfg,
		store:   st,
		sched:   sched,
		signIn:  signIn,
		tokens:  cache,
		metrics: NewMetrics(cfg.Metrics),
		log:     log.WithField("component", "pool"),
		now:     now,
	}
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewLogrusSink(log.WithField("component", "audit"))
	}
	p.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Types:      cfg.Audit.Types,
		OnDrop: func(ev audit.Event) {
			log.WithField("event_type", ev.EventType).Debug("audit event dropped")
		},
	}, sink)

	b.built = true
	return p, nil
}
