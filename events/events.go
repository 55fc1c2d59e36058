// Package events publishes auth lifecycle notifications for downstream
// consumers such as mailers and analytics. Delivery is fire-and-forget:
// a publish failure is logged and never fails the auth operation that
// triggered it.
package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Event names published by the engine.
const (
	UserRegistered = "user.registered"
	UserVerified   = "user.verified"
	PasswordReset  = "auth.password_reset"
)

// Envelope is the wire shape of a published event.
type Envelope struct {
	Event      string            `json:"event"`
	Source     string            `json:"source"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// Emitter publishes an event. Implementations must not block beyond the
// context and must never panic on a closed transport.
type Emitter interface {
	Emit(ctx context.Context, name string, data map[string]string)
}

// NoopEmitter drops every event. Default when no transport is wired.
type NoopEmitter struct{}

func (NoopEmitter) Emit(context.Context, string, map[string]string) {}

// ChannelEmitter hands envelopes to an in-process consumer. Used in
// tests and by embedders that fan out themselves.
type ChannelEmitter struct {
	events chan Envelope
	now    func() time.Time
}

func NewChannelEmitter(buffer int) *ChannelEmitter {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelEmitter{
		events: make(chan Envelope, buffer),
		now:    time.Now,
	}
}

func (e *ChannelEmitter) Emit(ctx context.Context, name string, data map[string]string) {
	env := Envelope{
		Event:      name,
		Source:     "authcore",
		OccurredAt: e.now(),
		Data:       data,
	}
	select {
	case e.events <- env:
	case <-ctx.Done():
	}
}

func (e *ChannelEmitter) Events() <-chan Envelope {
	return e.events
}

// NATSEmitter publishes envelopes to NATS. The subject is the event
// name under a configurable prefix, so "user.registered" with prefix
// "auth" goes out on "auth.user.registered" and consumers subscribe
// with ordinary wildcards.
type NATSEmitter struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewNATSEmitter creates an emitter on an established connection.
// Empty prefix publishes on the bare event name.
func NewNATSEmitter(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSEmitter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &NATSEmitter{
		conn:   conn,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

func (e *NATSEmitter) subject(name string) string {
	if e.prefix == "" {
		return name
	}
	return e.prefix + "." + name
}

func (e *NATSEmitter) Emit(_ context.Context, name string, data map[string]string) {
	env := Envelope{
		Event:      name,
		Source:     "authcore",
		OccurredAt: e.now(),
		Data:       data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		e.logger.Warn("event encode failed", slog.String("event", name), slog.Any("error", err))
		return
	}
	if err := e.conn.Publish(e.subject(name), payload); err != nil {
		e.logger.Warn("event publish failed", slog.String("event", name), slog.Any("error", err))
	}
}
