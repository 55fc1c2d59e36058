package authcore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/auxmon/authcore/audit"
	"github.com/auxmon/authcore/events"
	"github.com/auxmon/authcore/kv"
	"github.com/auxmon/authcore/metrics"
	"github.com/auxmon/authcore/password"
	"github.com/auxmon/authcore/ratelimit"
	"github.com/auxmon/authcore/refresh"
	"github.com/auxmon/authcore/session"
	"github.com/auxmon/authcore/token"
)

// Engine is the facade over the auth subsystem. Construct it once with
// New, share it across handlers; every method is safe for concurrent
// use.
type Engine struct {
	cfg      Config
	users    UserStore
	codec    *token.Codec
	hasher   *password.Hasher
	store    kv.Store
	limiter  *ratelimit.Limiter
	sessions *session.Store
	families *refresh.Manager
	emitter  events.Emitter
	auditor  *audit.Dispatcher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
	closed   atomic.Bool

	refreshStore refresh.TokenStore
	ownedRedis   *redis.Client
}

// Option customizes engine construction.
type Option func(*Engine)

// WithLogger attaches a logger. Nil keeps the default discard logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRedis supplies an existing client instead of dialing
// Config.Redis.Addr. The caller keeps ownership and closes it.
func WithRedis(client redis.UniversalClient) Option {
	return func(e *Engine) {
		if client != nil {
			e.store = kv.NewRedis(client)
			if e.refreshStore == nil {
				e.refreshStore = refresh.NewRedisStore(client, "")
			}
		}
	}
}

// WithEmitter wires a lifecycle event emitter, typically
// events.NewNATSEmitter. Default drops events.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithAuditSink wires an audit sink behind the async dispatcher.
func WithAuditSink(sink audit.Sink) Option {
	return func(e *Engine) {
		e.auditor = audit.NewDispatcher(audit.Config{
			Enabled:    true,
			BufferSize: e.cfg.Audit.BufferSize,
			DropIfFull: e.cfg.Audit.DropIfFull,
		}, sink)
	}
}

// WithRefreshStore overrides the refresh-token store. Default is the
// Redis store when Redis is configured, the in-memory store otherwise.
func WithRefreshStore(store refresh.TokenStore) Option {
	return func(e *Engine) {
		e.refreshStore = store
	}
}

// WithClock overrides every component clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// New validates the config and wires the engine. users is the
// application's persistence layer; see UserStore for its contract.
func New(cfg Config, users UserStore, opts ...Option) (*Engine, error) {
	if users == nil {
		return nil, fmt.Errorf("authcore: nil user store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("authcore: config: %w", err)
	}

	codec, err := token.New([]byte(cfg.Token.Secret), cfg.Token.Issuer)
	if err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}
	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, fmt.Errorf("authcore: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		users:   users,
		codec:   codec,
		hasher:  hasher,
		emitter: events.NoopEmitter{},
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:     time.Now,
	}
	if cfg.Metrics.Enabled {
		e.metrics = metrics.New()
	}

	// Options that depend on cfg/codec/logger run after the base wiring.
	for _, opt := range opts {
		opt(e)
	}
	e.codec.WithClock(e.now)

	if e.store == nil && cfg.Redis.Addr != "" {
		e.ownedRedis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		e.store = kv.NewRedis(e.ownedRedis)
	}

	// Redis primary degrades per operation to a process-local fallback;
	// without Redis the memory store is the only backend.
	if e.store != nil {
		e.store = kv.NewFailover(e.store, kv.NewMemory(), e.logger, func() {
			e.metrics.Inc(metrics.StoreFallback)
			e.audit(context.Background(), audit.Event{
				EventType: audit.TypeStoreFallback,
			})
		})
	} else {
		e.store = kv.NewMemory()
	}

	e.limiter = ratelimit.New(e.store).WithClock(e.now)

	policy := session.IPMismatchLogOnly
	if cfg.Session.RevokeOnIPMismatch {
		policy = session.IPMismatchRevoke
	}
	e.sessions = session.NewStore(e.store,
		session.WithTTL(cfg.Session.TTL),
		session.WithIPMismatchPolicy(policy),
		session.WithLogger(e.logger),
		session.WithClock(e.now),
	)

	if e.refreshStore == nil {
		if e.ownedRedis != nil {
			e.refreshStore = refresh.NewRedisStore(e.ownedRedis, "")
		} else {
			e.refreshStore = refresh.NewMemoryStore().WithClock(e.now)
		}
	}
	e.families = refresh.NewManager(e.codec, e.refreshStore,
		refresh.WithLogger(e.logger), refresh.WithClock(e.now))

	return e, nil
}

// Close flushes the audit dispatcher and releases the Redis client the
// engine dialed itself. Clients passed in via WithRedis stay open.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.auditor.Close()
	if e.ownedRedis != nil {
		return e.ownedRedis.Close()
	}
	return nil
}

// Metrics exposes the counter registry for exporters. Nil when metrics
// are disabled; the exporters tolerate that.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

// Snapshot implements the exporter source interface.
func (e *Engine) Snapshot() map[metrics.ID]uint64 {
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	return e.auditor.Dropped()
}

func (e *Engine) audit(ctx context.Context, event audit.Event) {
	if e.auditor == nil {
		return
	}
	event.Timestamp = e.now()
	e.auditor.Emit(ctx, event)
}

func (e *Engine) checkClosed() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}
