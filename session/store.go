package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/auxmon/authcore/kv"
)

// Store persists sessions in a kv.Store: one record per session plus a
// per-user index set for bulk operations.
type Store struct {
	store  kv.Store
	ttl    time.Duration
	policy IPMismatchPolicy
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the default 30-day session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithIPMismatchPolicy sets the policy applied when Validate sees an
// address different from the recorded one.
func WithIPMismatchPolicy(p IPMismatchPolicy) Option {
	return func(s *Store) { s.policy = p }
}

// WithLogger attaches a logger for IP-mismatch and cleanup events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the store clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates a session store over the given backend.
func NewStore(store kv.Store, opts ...Option) *Store {
	s := &Store{
		store:  store,
		ttl:    DefaultTTL,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sessionKey(id string) string    { return "sess:" + id }
func userIndexKey(uid string) string { return "usess:" + uid }

// Create stores a new session and indexes it under the user. Device
// info beyond the per-session bounds is rejected rather than truncated.
func (s *Store) Create(ctx context.Context, userID string, deviceInfo map[string]string, ip string) (*Session, error) {
	info, err := boundDeviceInfo(deviceInfo)
	if err != nil {
		return nil, err
	}
	id, err := newSessionID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:           id,
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		DeviceInfo:   info,
		IPAddress:    ip,
		IsActive:     true,
	}

	if err := s.put(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.store.AddToSet(ctx, userIndexKey(userID), id, s.ttl); err != nil {
		return nil, err
	}
	return sess, nil
}

// Validate loads the session, applies the IP-mismatch policy, and on
// success stamps last_activity and extends the TTL. Missing, expired,
// and inactive sessions all come back as ErrNotFound.
func (s *Store) Validate(ctx context.Context, id, ip string) (*Session, error) {
	sess, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.IsActive {
		return nil, ErrNotFound
	}

	if ip != "" && sess.IPAddress != "" && ip != sess.IPAddress {
		s.logger.Warn("session ip mismatch",
			slog.String("session_id", id),
			slog.String("user_id", sess.UserID),
			slog.String("recorded_ip", sess.IPAddress),
			slog.String("presented_ip", ip))
		if s.policy == IPMismatchRevoke {
			if err := s.Revoke(ctx, id); err != nil {
				return nil, err
			}
			return nil, ErrNotFound
		}
	}

	// Snapshot replace: store an updated copy, never mutate in place.
	updated := *sess
	updated.LastActivity = s.now()
	if err := s.put(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Revoke removes the session and de-indexes it. Revoking a session that
// is already gone is not an error.
func (s *Store) Revoke(ctx context.Context, id string) error {
	sess, err := s.get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.Delete(ctx, sessionKey(id)); err != nil {
		return err
	}
	return s.store.RemoveFromSet(ctx, userIndexKey(sess.UserID), id)
}

// RevokeAllForUser removes every indexed session for the user, then the
// index itself. Returns the number of sessions removed.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	ids, err := s.store.SetMembers(ctx, userIndexKey(userID))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := s.store.Delete(ctx, sessionKey(id)); err != nil {
			return removed, err
		}
		removed++
	}
	if err := s.store.DeleteSet(ctx, userIndexKey(userID)); err != nil {
		return removed, err
	}
	return removed, nil
}

// ListForUser returns the user's live sessions. Index entries whose
// records have expired are pruned from the index as they are found.
func (s *Store) ListForUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.store.SetMembers(ctx, userIndexKey(userID))
	if err != nil {
		return nil, err
	}
	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				if rmErr := s.store.RemoveFromSet(ctx, userIndexKey(userID), id); rmErr != nil {
					s.logger.Warn("session index prune failed",
						slog.String("session_id", id), slog.Any("error", rmErr))
				}
				continue
			}
			return nil, err
		}
		if sess.IsActive {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

func (s *Store) get(ctx context.Context, id string) (*Session, error) {
	data, err := s.store.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (s *Store) put(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, sessionKey(sess.ID), data, s.ttl)
}
