package authcore

import (
	"context"
	"time"
)

// User is the persisted identity record. The engine owns the auth
// fields; embedders may carry richer profiles in their own tables keyed
// by ID.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Roles        []string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// VerificationRecord ties an opaque emailed token to a pending user.
type VerificationRecord struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// ResetRecord ties an opaque reset token to a user.
type ResetRecord struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
}

// UserStore is the persistence collaborator the embedding application
// provides. FindAndDelete operations must be atomic: two concurrent
// consumers of the same token must not both succeed. Implementations
// return ErrStoreUnavailable (wrapped) for infrastructure failures and
// plain nil results for not-found.
type UserStore interface {
	// FindUserByEmail returns nil with no error when the email is
	// unknown. Lookups are case-insensitive on the email.
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	// FindUserByID returns nil with no error when the id is unknown.
	FindUserByID(ctx context.Context, id string) (*User, error)
	// CreateUser persists a new user. Must reject a duplicate email
	// atomically by returning ErrDuplicateEmail.
	CreateUser(ctx context.Context, user *User) error
	UpdateUser(ctx context.Context, user *User) error

	CreateVerification(ctx context.Context, rec *VerificationRecord) error
	// FindAndDeleteVerification consumes the record. Returns nil with no
	// error when the token is unknown; expiry is the caller's check.
	FindAndDeleteVerification(ctx context.Context, tokenStr string) (*VerificationRecord, error)

	CreateReset(ctx context.Context, rec *ResetRecord) error
	FindAndDeleteReset(ctx context.Context, tokenStr string) (*ResetRecord, error)
}

// TokenPair is what a successful verify, login, or refresh hands back.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionID        string
	UserID           string
}
