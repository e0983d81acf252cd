package handshake

import (
	"context"
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/handshake/internal/audit"
	"github.com/MrEthical07/handshake/internal/limiters"
	"github.com/MrEthical07/handshake/internal/rate"
	"github.com/MrEthical07/handshake/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. Every dependency that is not supplied
// falls back to an in-memory implementation, except the identity directory
// and the session issuer which belong to the host application.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	challenges store.ChallengeStore
	states     store.StateStore
	providers  []IdentityProvider
	directory  IdentityDirectory
	sessions   SessionIssuer
	notifier   Notifier
	renderer   CodeRenderer
	auditSink  AuditSink
	logger     *zap.Logger
	now        func() time.Time

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs challenges, handshake state and rate limits with Redis.
// Stores supplied through WithChallengeStore or WithStateStore still win.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithChallengeStore overrides the challenge backing.
func (b *Builder) WithChallengeStore(s store.ChallengeStore) *Builder {
	b.challenges = s
	return b
}

// WithStateStore overrides the pre-authentication state backing.
func (b *Builder) WithStateStore(s store.StateStore) *Builder {
	b.states = s
	return b
}

// WithProviders registers identity providers by their Name.
func (b *Builder) WithProviders(providers ...IdentityProvider) *Builder {
	b.providers = append(b.providers, providers...)
	return b
}

// WithDirectory sets the resolve-or-create capability of the host.
func (b *Builder) WithDirectory(d IdentityDirectory) *Builder {
	b.directory = d
	return b
}

// WithSessionIssuer sets the capability that mints durable sessions.
func (b *Builder) WithSessionIssuer(s SessionIssuer) *Builder {
	b.sessions = s
	return b
}

// WithNotifier sets the channel one-time codes are delivered through.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithCodeRenderer replaces the built-in code email templates.
func (b *Builder) WithCodeRenderer(r CodeRenderer) *Builder {
	b.renderer = r
	return b
}

// WithAuditSink sets the destination of audit events. Audit must also be
// enabled in the config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the operational logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock injects the time source. It is meant for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithSweepInterval sets how often the in-memory challenge store is swept.
// It has no effect when challenges live in Redis or a supplied store.
func (b *Builder) WithSweepInterval(interval time.Duration) *Builder {
	b.config.Challenge.SweepInterval = interval
	return b
}

// WithLatencyHistograms toggles the verification latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine. A builder can
// only be built once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.directory == nil {
		return nil, errors.New("identity directory required")
	}
	if b.sessions == nil {
		return nil, errors.New("session issuer required")
	}
	if b.notifier == nil && !cfg.Challenge.DebugLogCodes {
		return nil, errors.New("notifier required unless Challenge DebugLogCodes is set")
	}

	registry, err := NewProviderRegistry(b.providers...)
	if err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	renderer := b.renderer
	if renderer == nil {
		renderer = defaultCodeRenderer{}
	}

	// -------- STORES --------
	challenges := b.challenges
	states := b.states
	var swept *store.MemoryChallengeStore
	var counter rate.Counter
	if b.redis != nil {
		if challenges == nil {
			challenges = store.NewRedisChallengeStore(b.redis, cfg.Challenge.RedisPrefix, cfg.Challenge.RecordRetention)
		}
		if states == nil {
			states = store.NewRedisStateStore(b.redis, cfg.Handshake.RedisPrefix)
		}
		counter = rate.NewRedisCounter(b.redis)
	} else {
		if cfg.Security.ProductionMode && (challenges == nil || states == nil) {
			return nil, errors.New("ProductionMode requires redis or explicit challenge and state stores")
		}
		if challenges == nil {
			swept = store.NewMemoryChallengeStore(cfg.Challenge.RecordRetention)
			challenges = swept
		}
		if states == nil {
			states = store.NewMemoryStateStore()
		}
		counter = rate.NewMemoryCounter(now)
	}

	engine := &Engine{
		config:     cfg,
		challenges: challenges,
		states:     states,
		providers:  registry,
		directory:  b.directory,
		sessions:   b.sessions,
		notifier:   b.notifier,
		renderer:   renderer,
		logger:     logger.Named("handshake"),
		redis:      b.redis,
		now:        now,
	}

	engine.limiter = limiters.NewChallengeLimiter(counter, limiters.ChallengeConfig{
		EnableIPThrottle: cfg.RateLimit.EnableIPThrottle,
		IssueWindow:      cfg.RateLimit.IssueWindow,
		MaxIssuesPerUser: cfg.RateLimit.MaxIssuesPerUser,
		MaxIssuesPerIP:   cfg.RateLimit.MaxIssuesPerIP,
		VerifyWindow:     cfg.RateLimit.VerifyWindow,
		MaxVerifiesPerIP: cfg.RateLimit.MaxVerifiesPerIP,
	})
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop: func(internalaudit.Event) {
			engine.metricInc(MetricAuditDropped)
		},
	}, b.auditSink)

	if swept != nil && cfg.Challenge.SweepInterval > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		swept.StartSweeper(ctx, cfg.Challenge.SweepInterval, now)
		engine.stopSweeper = cancel
	}

	for _, w := range cfg.Lint() {
		engine.logger.Warn("config lint", zap.String("code", w.Code), zap.String("detail", w.Message))
	}

	b.built = true
	return engine, nil
}
