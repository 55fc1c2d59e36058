// Package audit records security-relevant auth events. Sinks are
// pluggable; the engine emits through an async dispatcher so a slow
// sink never blocks an auth request.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event types emitted by the engine.
const (
	TypeRegister      = "auth.register"
	TypeVerify        = "auth.verify"
	TypeLogin         = "auth.login"
	TypeLogout        = "auth.logout"
	TypeRefresh       = "auth.refresh"
	TypeRefreshReuse  = "auth.refresh_reuse"
	TypeResetRequest  = "auth.reset_request"
	TypeResetConfirm  = "auth.reset_confirm"
	TypeSessionRevoke = "auth.session_revoke"
	TypeRateLimited   = "auth.rate_limited"
	TypeStoreFallback = "auth.store_fallback"
)

// Event is one security-relevant occurrence. UserID and SessionID are
// set when known; Error carries the failure class, never raw secrets.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink receives events. Implementations must tolerate concurrent Emit
// calls.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops every event.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink forwards events into a buffered channel, for embedding
// applications that consume the stream themselves.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan Event, buffer)}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line, suitable for piping
// into log shippers.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
