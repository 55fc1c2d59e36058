package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	for i := 0; i < 5; i++ {
		d.Emit(context.Background(), Event{EventType: TypeLogin, Success: true})
	}
	d.Close()

	if got := sink.count.Load(); got != 5 {
		t.Fatalf("delivered = %d, want 5", got)
	}
	// Emit after Close is a silent no-op.
	d.Emit(context.Background(), Event{EventType: TypeLogin})
	if got := sink.count.Load(); got != 5 {
		t.Fatalf("delivered after close = %d, want 5", got)
	}
}

func TestDispatcherDisabled(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	// Nil receiver paths must all be safe.
	d.Emit(context.Background(), Event{EventType: TypeLogin})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher reported drops")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)
	defer func() {
		close(sink.gate)
		d.Close()
	}()

	// One event blocks the sink, one fills the buffer; the rest shed.
	deadline := time.After(time.Second)
	for d.Dropped() == 0 {
		d.Emit(context.Background(), Event{EventType: TypeLogin})
		select {
		case <-deadline:
			t.Fatal("no drops under a saturated sink")
		default:
		}
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{
		Timestamp: time.Now(),
		EventType: TypeRefreshReuse,
		UserID:    "u1",
		Success:   false,
		Error:     "refresh token reuse detected",
	})
	sink.Emit(context.Background(), Event{EventType: TypeLogin, Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var ev Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.EventType != TypeRefreshReuse || ev.UserID != "u1" {
		t.Fatalf("event = %+v", ev)
	}
}
