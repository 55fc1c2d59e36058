// Package refresh manages rotating refresh-token families. Every token
// belongs to a family; rotation consumes the presented token exactly
// once and links its successor through prev_id, so the full chain stays
// reconstructable for audit. A second rotation attempt on an already
// consumed token is the reuse signal: the whole family is revoked.
//
// Tokens themselves are JWTs minted by the token package; this package
// stores only their SHA-256 digests, never the token text.
package refresh

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for a token digest.
	ErrNotFound = errors.New("refresh token not found")
	// ErrRevoked is returned when the record exists but has already been
	// consumed or revoked.
	ErrRevoked = errors.New("refresh token revoked")
	// ErrReuse reports a rotation attempt on a consumed token. By the
	// time the caller sees it, the family is already revoked.
	ErrReuse = errors.New("refresh token reuse detected")
)

// Record is the stored state of one refresh token. Status is a two-step
// machine: active, then revoked, with no way back. Records are value
// snapshots; stores replace them rather than mutating shared state.
type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Family     string    `json:"family"`
	PrevID     string    `json:"prev_id,omitempty"`
	ReplacedBy string    `json:"replaced_by,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Revoked    bool      `json:"revoked"`
	RevokedAt  time.Time `json:"revoked_at,omitzero"`
}

// TokenStore persists rotation records. Consume must be atomic with
// respect to concurrent consumers of the same record: exactly one
// caller wins, everyone else gets ErrRevoked.
type TokenStore interface {
	Save(ctx context.Context, rec *Record, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Record, error)
	// Consume flips an active record to revoked, recording the successor
	// id. Returns ErrNotFound for unknown records and ErrRevoked when the
	// record was already consumed.
	Consume(ctx context.Context, id, replacedBy string, at time.Time) (*Record, error)
	// RevokeFamily marks every record in the family revoked, active or
	// not, and reports how many were still active.
	RevokeFamily(ctx context.Context, family string, at time.Time) (int, error)
	// RevokeUser revokes every family belonging to the user.
	RevokeUser(ctx context.Context, userID string, at time.Time) (int, error)
	// FamilyRecords returns every stored record in the family, in no
	// particular order.
	FamilyRecords(ctx context.Context, family string) ([]*Record, error)
}

// TokenID derives the storage key for a token: the hex SHA-256 of the
// signed token text.
func TokenID(tokenStr string) string {
	sum := sha256.Sum256([]byte(tokenStr))
	return hex.EncodeToString(sum[:])
}
