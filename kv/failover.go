package kv

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// Failover routes every operation to the primary store and degrades to
// the fallback when the primary reports ErrUnavailable. ErrNotFound is
// an authoritative answer and never triggers the fallback. Degradation
// is per operation: the primary is retried on the next call, so a
// recovered Redis takes over again without intervention.
//
// The two backends are not reconciled. Rate-limit and session
// bookkeeping are defense in depth, not the source of truth for
// authorization, so availability wins over consistency here.
type Failover struct {
	primary   Store
	fallback  Store
	logger    *slog.Logger
	onDegrade func()
	degraded  atomic.Bool
}

// NewFailover wraps primary with fallback. onDegrade, when non-nil, is
// invoked once per degraded call (metrics hook).
func NewFailover(primary, fallback Store, logger *slog.Logger, onDegrade func()) *Failover {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Failover{
		primary:   primary,
		fallback:  fallback,
		logger:    logger,
		onDegrade: onDegrade,
	}
}

// Degraded reports whether the most recent operation used the fallback.
func (f *Failover) Degraded() bool {
	return f.degraded.Load()
}

func (f *Failover) degrade(op string, err error) {
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("kv primary unavailable, using in-memory fallback",
			slog.String("op", op), slog.Any("error", err))
	}
	if f.onDegrade != nil {
		f.onDegrade()
	}
}

func (f *Failover) recover() {
	if f.degraded.CompareAndSwap(true, false) {
		f.logger.Info("kv primary recovered")
	}
}

func (f *Failover) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := f.primary.Get(ctx, key)
	if errors.Is(err, ErrUnavailable) {
		f.degrade("get", err)
		return f.fallback.Get(ctx, key)
	}
	if err == nil || errors.Is(err, ErrNotFound) {
		f.recover()
	}
	return data, err
}

func (f *Failover) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := f.primary.Set(ctx, key, value, ttl)
	if errors.Is(err, ErrUnavailable) {
		f.degrade("set", err)
		return f.fallback.Set(ctx, key, value, ttl)
	}
	if err == nil {
		f.recover()
	}
	return err
}

func (f *Failover) Delete(ctx context.Context, key string) error {
	err := f.primary.Delete(ctx, key)
	if errors.Is(err, ErrUnavailable) {
		f.degrade("delete", err)
		return f.fallback.Delete(ctx, key)
	}
	if err == nil {
		f.recover()
	}
	return err
}

func (f *Failover) AddToSet(ctx context.Context, set, member string, ttl time.Duration) error {
	err := f.primary.AddToSet(ctx, set, member, ttl)
	if errors.Is(err, ErrUnavailable) {
		f.degrade("sadd", err)
		return f.fallback.AddToSet(ctx, set, member, ttl)
	}
	if err == nil {
		f.recover()
	}
	return err
}

func (f *Failover) RemoveFromSet(ctx context.Context, set, member string) error {
	err := f.primary.RemoveFromSet(ctx, set, member)
	if errors.Is(err, ErrUnavailable) {
		f.degrade("srem", err)
		return f.fallback.RemoveFromSet(ctx, set, member)
	}
	if err == nil {
		f.recover()
	}
	return err
}

func (f *Failover) SetMembers(ctx context.Context, set string) ([]string, error) {
	members, err := f.primary.SetMembers(ctx, set)
	if errors.Is(err, ErrUnavailable) {
		f.degrade("smembers", err)
		return f.fallback.SetMembers(ctx, set)
	}
	if err == nil {
		f.recover()
	}
	return members, err
}

func (f *Failover) DeleteSet(ctx context.Context, set string) error {
	err := f.primary.DeleteSet(ctx, set)
	if errors.Is(err, ErrUnavailable) {
		f.degrade("delset", err)
		return f.fallback.DeleteSet(ctx, set)
	}
	if err == nil {
		f.recover()
	}
	return err
}
