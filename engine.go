package handshake

import (
	"time"

	internalaudit "github.com/MrEthical07/handshake/internal/audit"
	"github.com/MrEthical07/handshake/internal/limiters"
	"github.com/MrEthical07/handshake/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Engine runs the two-step login: an identity handshake with an external
// provider followed by an emailed one-time code. It never issues a durable
// session before the code is verified.
//
// Engine is built once by [Builder.Build] and is safe for concurrent use.
type Engine struct {
	config     Config
	challenges store.ChallengeStore
	states     store.StateStore
	providers  *ProviderRegistry
	directory  IdentityDirectory
	sessions   SessionIssuer
	notifier   Notifier
	renderer   CodeRenderer
	limiter    *limiters.ChallengeLimiter
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *zap.Logger
	redis      redis.UniversalClient
	now        func() time.Time

	stopSweeper func()
}

// Close stops the memory sweeper and flushes pending audit events. The
// engine must not be used after.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.stopSweeper != nil {
		e.stopSweeper()
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Config returns a copy of the validated configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Providers returns the names of the registered identity providers.
func (e *Engine) Providers() []string {
	if e == nil {
		return nil
	}
	return e.providers.Names()
}

// AuditDropped returns how many audit events were discarded on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.challenges != nil && e.states != nil && e.directory != nil && e.sessions != nil
}
