package authcore

import (
	"errors"

	"github.com/auxmon/authcore/ratelimit"
	"github.com/auxmon/authcore/refresh"
	"github.com/auxmon/authcore/token"
)

var (
	// ErrInvalidCredentials covers unknown email, wrong password, and
	// inactive accounts alike. One error for all three, so responses
	// cannot be used to enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateEmail is returned by Register when the email already
	// has a user record.
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidOrExpiredToken covers verification and reset tokens that
	// are unknown, consumed, or past expiry.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrWeakPassword is returned when a password fails policy before
	// hashing.
	ErrWeakPassword = errors.New("password does not meet requirements")
	// ErrStoreUnavailable is returned when the user store cannot be
	// reached. Rate-limit and session bookkeeping degrade to the memory
	// fallback instead of surfacing this.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrEngineClosed is returned by operations after Close.
	ErrEngineClosed = errors.New("engine closed")
)

// Re-exported sentinels so embedders match engine errors without
// importing the subpackages.
var (
	ErrTokenExpired    = token.ErrTokenExpired
	ErrTokenInvalid    = token.ErrTokenInvalid
	ErrTooManyAttempts = ratelimit.ErrTooManyAttempts
	ErrRefreshReuse    = refresh.ErrReuse
)
