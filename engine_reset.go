package authcore

import (
	"context"
	"log/slog"

	"github.com/auxmon/authcore/audit"
	"github.com/auxmon/authcore/events"
	"github.com/auxmon/authcore/metrics"
)

// RequestPasswordReset issues a short-lived reset token for the
// account. The return shape is identical whether or not the email is
// known: an empty token with a nil error means "nothing to send", and
// the caller must answer the client the same way in both cases so
// responses cannot be used to probe for accounts. Only the
// sliding-window limit produces an error.
func (e *Engine) RequestPasswordReset(ctx context.Context, email, ip string) (string, error) {
	if err := e.checkClosed(); err != nil {
		return "", err
	}
	email = normalizeEmail(email)

	ok, err := e.limiter.Allow(ctx, "reset:"+email, e.cfg.RateLimit.ResetRequests, e.cfg.RateLimit.ResetRequestWindow)
	if err != nil {
		return "", err
	}
	if !ok {
		e.audit(ctx, audit.Event{EventType: audit.TypeRateLimited, IP: ip,
			Metadata: map[string]string{"flow": "reset"}})
		return "", ErrTooManyAttempts
	}

	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user == nil {
		// Unknown account: same success shape, nothing to deliver.
		e.audit(ctx, audit.Event{EventType: audit.TypeResetRequest, IP: ip,
			Metadata: map[string]string{"known": "false"}})
		return "", nil
	}

	resetToken, err := opaqueToken()
	if err != nil {
		return "", err
	}
	if err := e.users.CreateReset(ctx, &ResetRecord{
		Token:     resetToken,
		UserID:    user.ID,
		ExpiresAt: e.now().Add(e.cfg.Token.ResetTTL),
	}); err != nil {
		return "", err
	}

	e.metrics.Inc(metrics.ResetRequested)
	e.audit(ctx, audit.Event{EventType: audit.TypeResetRequest, UserID: user.ID, IP: ip, Success: true})
	e.emitter.Emit(ctx, events.PasswordReset, map[string]string{
		"user_id": user.ID,
		"email":   user.Email,
	})
	return resetToken, nil
}

// ConfirmPasswordReset consumes a reset token and replaces the
// password. Every refresh family and session the user holds is revoked:
// a reset is a compromise response, not a convenience.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, resetToken, newPassword string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}

	if len(newPassword) < e.cfg.Password.MinLength {
		return ErrWeakPassword
	}

	rec, err := e.users.FindAndDeleteReset(ctx, resetToken)
	if err != nil {
		return err
	}
	if rec == nil || e.now().After(rec.ExpiresAt) {
		e.metrics.Inc(metrics.ResetConfirmFailure)
		e.audit(ctx, audit.Event{EventType: audit.TypeResetConfirm, Error: "invalid or expired token"})
		return ErrInvalidOrExpiredToken
	}

	user, err := e.users.FindUserByID(ctx, rec.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrInvalidOrExpiredToken
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	user.UpdatedAt = e.now()
	if err := e.users.UpdateUser(ctx, user); err != nil {
		return err
	}

	if _, err := e.families.RevokeUser(ctx, user.ID); err != nil {
		return err
	}
	if _, err := e.sessions.RevokeAllForUser(ctx, user.ID); err != nil {
		return err
	}

	e.metrics.Inc(metrics.ResetConfirmSuccess)
	e.audit(ctx, audit.Event{EventType: audit.TypeResetConfirm, UserID: user.ID, Success: true})
	e.logger.Info("password reset", slog.String("user_id", user.ID))
	return nil
}
