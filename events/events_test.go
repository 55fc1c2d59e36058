package events

import (
	"context"
	"testing"
	"time"
)

func TestChannelEmitter(t *testing.T) {
	e := NewChannelEmitter(4)
	e.Emit(context.Background(), UserRegistered, map[string]string{
		"user_id": "u1",
		"email":   "a@x.com",
	})

	select {
	case env := <-e.Events():
		if env.Event != UserRegistered || env.Source != "authcore" {
			t.Fatalf("envelope = %+v", env)
		}
		if env.Data["user_id"] != "u1" {
			t.Fatalf("data = %v", env.Data)
		}
		if env.OccurredAt.IsZero() {
			t.Fatal("missing timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("no envelope delivered")
	}
}

func TestChannelEmitterFullBufferRespectsContext(t *testing.T) {
	e := NewChannelEmitter(1)
	e.Emit(context.Background(), UserRegistered, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		e.Emit(ctx, PasswordReset, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked past context deadline")
	}
}

func TestNATSSubjectPrefix(t *testing.T) {
	e := &NATSEmitter{prefix: "auth"}
	if got := e.subject(UserRegistered); got != "auth.user.registered" {
		t.Fatalf("subject = %s", got)
	}
	e.prefix = ""
	if got := e.subject(UserRegistered); got != UserRegistered {
		t.Fatalf("subject = %s", got)
	}
}
