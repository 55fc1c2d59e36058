package authcore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/auxmon/authcore/audit"
	"github.com/auxmon/authcore/metrics"
	"github.com/auxmon/authcore/token"
)

// Login authenticates by email and password. Unknown email, wrong
// password, and an unverified account all fail with the same
// ErrInvalidCredentials. A locked identifier fails with
// *ratelimit.TooManyAttemptsError before any credential check runs.
//
// Success invalidates every prior refresh token for the user and opens
// a fresh family: one credential login means one live refresh chain.
// rememberMe stretches the refresh TTL from the base to the extended
// lifetime.
func (e *Engine) Login(ctx context.Context, email, plaintext string, rememberMe bool, deviceInfo map[string]string, ip string) (*TokenPair, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	emailKey := "login:" + email
	ipKey := "login_ip:" + ip

	if err := e.limiter.CheckLoginAttempts(ctx, emailKey, e.cfg.RateLimit.LoginMaxAttempts); err != nil {
		return nil, e.loginLockout(ctx, email, ip, err)
	}
	if ip != "" {
		if err := e.limiter.CheckLoginAttempts(ctx, ipKey, e.cfg.RateLimit.LoginIPMaxAttempts); err != nil {
			return nil, e.loginLockout(ctx, email, ip, err)
		}
	}

	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	authenticated := false
	if user != nil {
		ok, verr := e.hasher.Verify(plaintext, user.PasswordHash)
		if verr != nil {
			e.logger.Warn("password verify failed", slog.String("user_id", user.ID), slog.Any("error", verr))
		}
		authenticated = ok && user.Active
	}
	if !authenticated {
		// The attempt stands even if the caller aborts; there is no
		// rollback path by design of the accounting.
		if err := e.limiter.RecordFailedAttempt(ctx, emailKey); err != nil {
			e.logger.Warn("record failed attempt", slog.Any("error", err))
		}
		if ip != "" {
			if err := e.limiter.RecordFailedAttempt(ctx, ipKey); err != nil {
				e.logger.Warn("record failed attempt", slog.Any("error", err))
			}
		}
		e.metrics.Inc(metrics.LoginFailure)
		e.audit(ctx, audit.Event{EventType: audit.TypeLogin, IP: ip, Error: "invalid credentials"})
		return nil, ErrInvalidCredentials
	}

	if err := e.limiter.ClearAttempts(ctx, emailKey); err != nil {
		e.logger.Warn("clear attempts", slog.Any("error", err))
	}
	if ip != "" {
		if err := e.limiter.ClearAttempts(ctx, ipKey); err != nil {
			e.logger.Warn("clear attempts", slog.Any("error", err))
		}
	}

	if _, err := e.families.RevokeUser(ctx, user.ID); err != nil {
		return nil, err
	}

	e.maybeRehash(ctx, user, plaintext)

	refreshTTL := e.cfg.Token.RefreshTTL
	if rememberMe {
		refreshTTL = e.cfg.Token.RememberMeTTL
	}
	pair, err := e.openSession(ctx, user, refreshTTL, deviceInfo, ip)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(metrics.LoginSuccess)
	e.audit(ctx, audit.Event{EventType: audit.TypeLogin, UserID: user.ID, IP: ip,
		SessionID: pair.SessionID, Success: true})
	e.logger.Info("login", slog.String("user_id", user.ID))
	return pair, nil
}

func (e *Engine) loginLockout(ctx context.Context, email, ip string, err error) error {
	if errors.Is(err, ErrTooManyAttempts) {
		e.metrics.Inc(metrics.LoginLockedOut)
		e.audit(ctx, audit.Event{EventType: audit.TypeRateLimited, IP: ip,
			Metadata: map[string]string{"flow": "login"}})
		e.logger.Warn("login lockout", slog.String("email", email))
	}
	return err
}

// maybeRehash upgrades the stored digest when the hashing parameters
// have been strengthened since it was written. Best effort: a failure
// leaves the old digest in place.
func (e *Engine) maybeRehash(ctx context.Context, user *User, plaintext string) {
	stale, err := e.hasher.NeedsRehash(user.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return
	}
	user.PasswordHash = hash
	user.UpdatedAt = e.now()
	if err := e.users.UpdateUser(ctx, user); err != nil {
		e.logger.Warn("password rehash not persisted", slog.String("user_id", user.ID), slog.Any("error", err))
	}
}

// ValidateAccess verifies an access token and returns its claims. Pure
// CPU work; session and refresh state are not consulted, which is why
// access TTLs stay short.
func (e *Engine) ValidateAccess(tokenStr string) (*token.Claims, error) {
	return e.codec.Verify(tokenStr, token.TypeAccess)
}

// Logout revokes one session and, when the refresh token is presented,
// its whole rotation family. Unknown sessions and tokens are ignored:
// logout is idempotent.
func (e *Engine) Logout(ctx context.Context, sessionID, refreshToken string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	if sessionID != "" {
		if err := e.sessions.Revoke(ctx, sessionID); err != nil {
			return err
		}
		e.metrics.Inc(metrics.SessionRevoked)
	}
	if refreshToken != "" {
		claims, err := e.codec.Verify(refreshToken, token.TypeRefresh)
		if err == nil {
			if _, err := e.families.RevokeFamily(ctx, claims.Family); err != nil {
				return err
			}
		}
	}

	e.metrics.Inc(metrics.Logout)
	e.audit(ctx, audit.Event{EventType: audit.TypeLogout, SessionID: sessionID, Success: true})
	return nil
}

// LogoutAll revokes every session and refresh family the user holds.
// Outstanding access tokens ride out their short TTL.
func (e *Engine) LogoutAll(ctx context.Context, userID string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return err
	}
	if _, err := e.families.RevokeUser(ctx, userID); err != nil {
		return err
	}

	e.metrics.Inc(metrics.LogoutAll)
	e.audit(ctx, audit.Event{EventType: audit.TypeLogout, UserID: userID, Success: true,
		Metadata: map[string]string{"scope": "all"}})
	e.logger.Info("logout all", slog.String("user_id", userID), slog.Int("sessions", revoked))
	return nil
}
