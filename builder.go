package stepup

import (
	"errors"
	"time"

	"github.com/BlakeMcBride1625/stepup/internal/stores"
	"github.com/redis/go-redis/v9"
)

// Builder defines a public type used by stepup APIs.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	notifiers map[Channel]Notifier
	directory DirectoryProvider
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New describes the new operation and its observable behavior.
//
// New may return an error when input validation, dependency calls, or security checks fail.
// New does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func New() *Builder {
	return &Builder{
		config:    defaultConfig(),
		notifiers: make(map[Channel]Notifier),
	}
}

// WithConfig describes the withconfig operation and its observable behavior.
//
// WithConfig may return an error when input validation, dependency calls, or security checks fail.
// WithConfig does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis selects the Redis store backend instead of the default volatile
// in-memory backend.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithNotifier registers the delivery capability for one channel. Channels
// without a notifier are treated as unconfigured and dropped from every
// action's effective policy.
func (b *Builder) WithNotifier(channel Channel, n Notifier) *Builder {
	if n != nil {
		b.notifiers[channel] = n
	}
	return b
}

// WithDirectory describes the withdirectory operation and its observable behavior.
//
// WithDirectory may return an error when input validation, dependency calls, or security checks fail.
// WithDirectory does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithDirectory(dir DirectoryProvider) *Builder {
	b.directory = dir
	return b
}

// WithAuditSink describes the withauditsink operation and its observable behavior.
//
// WithAuditSink may return an error when input validation, dependency calls, or security checks fail.
// WithAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled describes the withmetricsenabled operation and its observable behavior.
//
// WithMetricsEnabled may return an error when input validation, dependency calls, or security checks fail.
// WithMetricsEnabled does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms describes the withlatencyhistograms operation and its observable behavior.
//
// WithLatencyHistograms may return an error when input validation, dependency calls, or security checks fail.
// WithLatencyHistograms does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock overrides the engine's time source. Intended for tests; the
// default is [time.Now].
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build may return an error when input validation, dependency calls, or security checks fail.
// Build does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if err := validateConfig(&b.config); err != nil {
		return nil, err
	}
	if len(b.notifiers) == 0 {
		return nil, errors.New("at least one notifier must be registered")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	nowMillis := func() int64 { return clock().UnixMilli() }

	engine := &Engine{
		config:    b.config,
		notifiers: b.notifiers,
		directory: b.directory,
		metrics:   NewMetrics(b.config.Metrics),
		audit:     newAuditDispatcher(b.config.Audit, b.auditSink),
		now:       clock,
	}

	if b.redis != nil {
		engine.challenges = stores.NewRedisChallengeStore(b.redis, b.config.Store.RedisPrefix)
		engine.grants = stores.NewRedisGrantStore(b.redis, b.config.Store.RedisPrefix)
	} else {
		engine.challenges = stores.NewMemoryChallengeStore(b.config.Store.SweepInterval, nowMillis)
		engine.grants = stores.NewMemoryGrantStore(b.config.Store.SweepInterval, nowMillis)
	}

	engine.scheduler = newMessageScheduler(engine.notifier, b.config.Notify.DeleteTimeout, func(deleted bool, channel Channel, principal string, err error) {
		if deleted {
			engine.metricInc(MetricCodeMessageDeleted)
			return
		}
		engine.metricInc(MetricCodeMessageDeleteFailed)
		engine.emitAudit(nil, auditEventMessageDeleteFailed, false, principal, "", channel, err, nil)
	})

	b.built = true
	return engine, nil
}
