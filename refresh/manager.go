package refresh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/auxmon/authcore/token"
)

// recordRetention is how long a consumed record outlives its token, so
// reuse of a recently rotated token is still detected and the chain
// stays walkable for audit.
const recordRetention = 30 * 24 * time.Hour

// Manager mints refresh tokens through the codec and tracks their
// rotation state in a TokenStore.
type Manager struct {
	codec  *token.Codec
	store  TokenStore
	logger *slog.Logger
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger attaches a logger for reuse-detection events.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the manager clock. Intended for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over the given codec and store.
func NewManager(codec *token.Codec, store TokenStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		codec:  codec,
		store:  store,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewFamily opens a fresh rotation family for the user and issues its
// first token.
func (m *Manager) NewFamily(ctx context.Context, userID string, ttl time.Duration) (string, *Record, error) {
	return m.issue(ctx, userID, uuid.NewString(), "", ttl)
}

// issue mints a token in the family and persists its record. prevID
// links the token to the one it replaces.
func (m *Manager) issue(ctx context.Context, userID, family, prevID string, ttl time.Duration) (string, *Record, error) {
	signed, expiresAt, err := m.codec.CreateRefresh(userID, family, ttl)
	if err != nil {
		return "", nil, err
	}
	rec := &Record{
		ID:        TokenID(signed),
		UserID:    userID,
		Family:    family,
		PrevID:    prevID,
		IssuedAt:  m.now(),
		ExpiresAt: expiresAt,
	}
	if err := m.store.Save(ctx, rec, ttl+recordRetention); err != nil {
		return "", nil, err
	}
	return signed, rec, nil
}

// Rotate exchanges a valid, unconsumed refresh token for its successor
// in the same family. Presenting a token that was already rotated is
// treated as theft: the entire family is revoked and ErrReuse is
// returned. Expired or unverifiable tokens fail with the codec's own
// errors before any store state changes.
func (m *Manager) Rotate(ctx context.Context, tokenStr string, ttl time.Duration) (string, *Record, error) {
	claims, err := m.codec.Verify(tokenStr, token.TypeRefresh)
	if err != nil {
		return "", nil, err
	}

	id := TokenID(tokenStr)
	now := m.now()
	consumed, err := m.store.Consume(ctx, id, "", now)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRevoked) {
			m.logger.Warn("refresh token reuse detected, revoking family",
				slog.String("user_id", claims.Subject),
				slog.String("family", claims.Family))
			if _, revErr := m.store.RevokeFamily(ctx, claims.Family, now); revErr != nil {
				return "", nil, fmt.Errorf("revoke family on reuse: %w", revErr)
			}
			return "", nil, ErrReuse
		}
		return "", nil, err
	}

	signed, rec, err := m.issue(ctx, consumed.UserID, consumed.Family, consumed.ID, ttl)
	if err != nil {
		return "", nil, err
	}

	// Backfill the successor link on the consumed record for the audit
	// chain. Best effort: the forward prev_id link already exists.
	consumed.ReplacedBy = rec.ID
	if err := m.store.Save(ctx, consumed, ttl+recordRetention); err != nil {
		m.logger.Warn("refresh successor backfill failed",
			slog.String("record", consumed.ID), slog.Any("error", err))
	}
	return signed, rec, nil
}

// RevokeFamily revokes every token in the family. Used for logout and
// compromise response.
func (m *Manager) RevokeFamily(ctx context.Context, family string) (int, error) {
	return m.store.RevokeFamily(ctx, family, m.now())
}

// RevokeUser revokes every family the user holds. Used before opening a
// new family at login and after a password reset.
func (m *Manager) RevokeUser(ctx context.Context, userID string) (int, error) {
	return m.store.RevokeUser(ctx, userID, m.now())
}

// History reconstructs the family's rotation chain by walking prev_id
// links, oldest first. Records that fell out of retention leave a gap
// at the head of the chain.
func (m *Manager) History(ctx context.Context, family string) ([]*Record, error) {
	records, err := m.store.FamilyRecords(ctx, family)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	byID := make(map[string]*Record, len(records))
	referenced := make(map[string]bool, len(records))
	for _, rec := range records {
		byID[rec.ID] = rec
		if rec.PrevID != "" {
			referenced[rec.PrevID] = true
		}
	}

	// The tip is the record no successor points back to. Ties (which
	// should not happen in a healthy chain) resolve by issue time.
	var tips []*Record
	for _, rec := range records {
		if !referenced[rec.ID] {
			tips = append(tips, rec)
		}
	}
	sort.Slice(tips, func(i, j int) bool { return tips[i].IssuedAt.After(tips[j].IssuedAt) })
	if len(tips) == 0 {
		return nil, fmt.Errorf("refresh family %s has a cyclic chain", family)
	}

	var chain []*Record
	for rec := tips[0]; rec != nil; rec = byID[rec.PrevID] {
		chain = append(chain, rec)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
