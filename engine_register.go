package authcore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/auxmon/authcore/audit"
	"github.com/auxmon/authcore/events"
	"github.com/auxmon/authcore/metrics"
)

// opaqueToken mints a verification or reset token: 32 random bytes,
// base64url. These tokens travel by email and are stored server-side,
// unlike the signed JWTs.
func opaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// RegistrationResult is what Register hands back. The verification
// token goes to the user by email; delivery is the caller's concern.
type RegistrationResult struct {
	UserID            string
	VerificationToken string
}

// Register creates an inactive user and issues a verification token
// with a 24-hour expiry. Fails with ErrDuplicateEmail when the address
// already has a record and ErrTooManyAttempts when either the per-email
// or per-IP registration budget is spent.
func (e *Engine) Register(ctx context.Context, email, plaintext, ip string) (*RegistrationResult, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)

	ok, err := e.limiter.Allow(ctx, "register:"+email, e.cfg.RateLimit.RegisterPerEmail, e.cfg.RateLimit.RegisterWindow)
	if err != nil {
		return nil, err
	}
	if ok && ip != "" {
		ok, err = e.limiter.Allow(ctx, "register_ip:"+ip, e.cfg.RateLimit.RegisterPerIP, e.cfg.RateLimit.RegisterWindow)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		e.metrics.Inc(metrics.RegisterRateLimited)
		e.audit(ctx, audit.Event{EventType: audit.TypeRateLimited, IP: ip,
			Metadata: map[string]string{"flow": "register"}})
		return nil, ErrTooManyAttempts
	}

	if len(plaintext) < e.cfg.Password.MinLength {
		return nil, ErrWeakPassword
	}

	if existing, err := e.users.FindUserByEmail(ctx, email); err != nil {
		return nil, err
	} else if existing != nil {
		e.metrics.Inc(metrics.RegisterDuplicate)
		return nil, ErrDuplicateEmail
	}

	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	now := e.now()
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Active:       false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// CreateUser is the race arbiter: a concurrent register of the same
	// email loses here with ErrDuplicateEmail.
	if err := e.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	verifyToken, err := opaqueToken()
	if err != nil {
		return nil, err
	}
	if err := e.users.CreateVerification(ctx, &VerificationRecord{
		Token:     verifyToken,
		UserID:    user.ID,
		ExpiresAt: now.Add(e.cfg.Token.VerificationTTL),
	}); err != nil {
		return nil, err
	}

	e.metrics.Inc(metrics.RegisterSuccess)
	e.audit(ctx, audit.Event{EventType: audit.TypeRegister, UserID: user.ID, IP: ip, Success: true})
	e.emitter.Emit(ctx, events.UserRegistered, map[string]string{
		"user_id": user.ID,
		"email":   user.Email,
	})
	e.logger.Info("user registered", slog.String("user_id", user.ID))

	return &RegistrationResult{UserID: user.ID, VerificationToken: verifyToken}, nil
}

// Verify consumes a verification token, activates the user, and opens
// their first session. Unknown, consumed, and expired tokens all fail
// with ErrInvalidOrExpiredToken.
func (e *Engine) Verify(ctx context.Context, verifyToken string, deviceInfo map[string]string, ip string) (*TokenPair, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}

	rec, err := e.users.FindAndDeleteVerification(ctx, verifyToken)
	if err != nil {
		return nil, err
	}
	if rec == nil || e.now().After(rec.ExpiresAt) {
		e.metrics.Inc(metrics.VerifyFailure)
		e.audit(ctx, audit.Event{EventType: audit.TypeVerify, IP: ip, Error: "invalid or expired token"})
		return nil, ErrInvalidOrExpiredToken
	}

	user, err := e.users.FindUserByID(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidOrExpiredToken
	}

	user.Active = true
	user.UpdatedAt = e.now()
	if err := e.users.UpdateUser(ctx, user); err != nil {
		return nil, err
	}

	pair, err := e.openSession(ctx, user, e.cfg.Token.RefreshTTL, deviceInfo, ip)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(metrics.VerifySuccess)
	e.audit(ctx, audit.Event{EventType: audit.TypeVerify, UserID: user.ID, IP: ip,
		SessionID: pair.SessionID, Success: true})
	e.emitter.Emit(ctx, events.UserVerified, map[string]string{
		"user_id": user.ID,
		"email":   user.Email,
	})
	return pair, nil
}

// openSession mints the access/refresh pair and records a session.
// Shared by Verify, Login, and nothing else: Refresh reuses the
// existing session.
func (e *Engine) openSession(ctx context.Context, user *User, refreshTTL time.Duration, deviceInfo map[string]string, ip string) (*TokenPair, error) {
	refreshToken, rec, err := e.families.NewFamily(ctx, user.ID, refreshTTL)
	if err != nil {
		return nil, err
	}
	accessToken, err := e.codec.CreateAccess(user.ID, user.Roles, e.cfg.Token.AccessTTL)
	if err != nil {
		return nil, err
	}
	sess, err := e.sessions.Create(ctx, user.ID, deviceInfo, ip)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(metrics.SessionCreated)

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  e.now().Add(e.cfg.Token.AccessTTL),
		RefreshExpiresAt: rec.ExpiresAt,
		SessionID:        sess.ID,
		UserID:           user.ID,
	}, nil
}
