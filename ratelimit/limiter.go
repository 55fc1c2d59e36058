// Package ratelimit tracks failed-attempt lockouts and sliding-window
// request budgets per identifier. State lives in a kv.Store so the
// Redis and in-memory backends make identical decisions; the clock is
// injectable for tests.
//
// Two independent policies:
//
//   - Progressive lockout: once an identifier accumulates maxAttempts
//     failures, a mandatory delay applies before the next try. The
//     delay escalates with every further failure and the record resets
//     once a full delay passes without new attempts (fail open after
//     cooldown).
//   - Sliding window: at most limit events within the trailing window;
//     a reject is a plain false, not an error.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/auxmon/authcore/kv"
)

// ErrTooManyAttempts is the sentinel matched by errors.Is for
// progressive-lockout rejections. The concrete error is always a
// *TooManyAttemptsError carrying the retry-after hint.
var ErrTooManyAttempts = errors.New("too many failed attempts")

// escalation is the mandatory delay ladder, indexed by how far past the
// attempt budget the identifier is (capped at the last rung).
var escalation = [...]time.Duration{
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	24 * time.Hour,
}

// attemptTTL bounds how long a failed-attempt record is kept.
const attemptTTL = 24 * time.Hour

// TooManyAttemptsError reports a lockout along with the remaining
// mandatory delay.
type TooManyAttemptsError struct {
	RetryAfter time.Duration
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

// Is lets errors.Is(err, ErrTooManyAttempts) match.
func (e *TooManyAttemptsError) Is(target error) bool {
	return target == ErrTooManyAttempts
}

type attemptRecord struct {
	Count       int       `json:"count"`
	LastAttempt time.Time `json:"last_attempt"`
}

type windowRecord struct {
	Timestamps []time.Time `json:"timestamps"`
}

// Limiter enforces both policies over a kv.Store.
type Limiter struct {
	store kv.Store
	now   func() time.Time
}

// New creates a Limiter on the given store.
func New(store kv.Store) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// WithClock overrides the limiter clock. Intended for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

func attemptKey(id string) string { return "la:" + id }
func windowKey(id string) string  { return "rw:" + id }

// CheckLoginAttempts returns nil while the identifier is under its
// attempt budget. Past the budget it returns *TooManyAttemptsError
// until the current escalation delay has elapsed since the last
// failure; once the delay has fully passed, the record is dropped and
// the check succeeds again.
func (l *Limiter) CheckLoginAttempts(ctx context.Context, id string, maxAttempts int) error {
	data, err := l.store.Get(ctx, attemptKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil
		}
		return err
	}

	var rec attemptRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// Unreadable record: drop it rather than lock the user out
		// on corrupt state.
		_ = l.store.Delete(ctx, attemptKey(id))
		return nil
	}

	if rec.Count < maxAttempts {
		return nil
	}

	idx := rec.Count - maxAttempts
	if idx >= len(escalation) {
		idx = len(escalation) - 1
	}
	required := escalation[idx]

	elapsed := l.now().Sub(rec.LastAttempt)
	if elapsed < required {
		return &TooManyAttemptsError{RetryAfter: required - elapsed}
	}

	// Cooldown served: reset and fail open.
	if err := l.store.Delete(ctx, attemptKey(id)); err != nil {
		return err
	}
	return nil
}

// RecordFailedAttempt increments the failure counter and stamps the
// attempt time. The record stands even if the request that triggered it
// is later aborted; there is deliberately no rollback path.
func (l *Limiter) RecordFailedAttempt(ctx context.Context, id string) error {
	var rec attemptRecord
	if data, err := l.store.Get(ctx, attemptKey(id)); err == nil {
		_ = json.Unmarshal(data, &rec)
	} else if !errors.Is(err, kv.ErrNotFound) {
		return err
	}

	rec.Count++
	rec.LastAttempt = l.now()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.store.Set(ctx, attemptKey(id), data, attemptTTL)
}

// ClearAttempts removes the failure record after a successful attempt.
func (l *Limiter) ClearAttempts(ctx context.Context, id string) error {
	return l.store.Delete(ctx, attemptKey(id))
}

// Attempts returns the current failure count for an identifier.
// Missing records report zero.
func (l *Limiter) Attempts(ctx context.Context, id string) (int, error) {
	data, err := l.store.Get(ctx, attemptKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	var rec attemptRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, nil
	}
	return rec.Count, nil
}

// Allow implements the sliding-window policy: it prunes timestamps
// older than window, rejects when limit is already reached, and records
// the event otherwise.
func (l *Limiter) Allow(ctx context.Context, id string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return false, errors.New("ratelimit: limit and window must be positive")
	}

	key := windowKey(id)
	var rec windowRecord
	if data, err := l.store.Get(ctx, key); err == nil {
		_ = json.Unmarshal(data, &rec)
	} else if !errors.Is(err, kv.ErrNotFound) {
		return false, err
	}

	now := l.now()
	cutoff := now.Add(-window)
	recent := rec.Timestamps[:0]
	for _, ts := range rec.Timestamps {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}

	if len(recent) >= limit {
		return false, nil
	}

	rec.Timestamps = append(recent, now)
	data, err := json.Marshal(rec)
	if err != nil {
		return false, err
	}
	if err := l.store.Set(ctx, key, data, window); err != nil {
		return false, err
	}
	return true, nil
}
