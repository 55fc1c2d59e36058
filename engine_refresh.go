package authcore

import (
	"context"
	"errors"

	"github.com/auxmon/authcore/audit"
	"github.com/auxmon/authcore/metrics"
)

// Refresh rotates a refresh token and mints a fresh access token. The
// presented token is consumed: presenting it again counts as reuse,
// revokes its whole family, and fails with ErrRefreshReuse. Expired or
// unverifiable tokens fail with the token sentinels without touching
// rotation state.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}

	next, rec, err := e.families.Rotate(ctx, refreshToken, e.cfg.Token.RefreshTTL)
	if err != nil {
		if errors.Is(err, ErrRefreshReuse) {
			e.metrics.Inc(metrics.RefreshReuseDetected)
			e.audit(ctx, audit.Event{EventType: audit.TypeRefreshReuse, Error: "reuse detected"})
		} else {
			e.metrics.Inc(metrics.RefreshFailure)
			e.audit(ctx, audit.Event{EventType: audit.TypeRefresh, Error: err.Error()})
		}
		return nil, err
	}

	user, err := e.users.FindUserByID(ctx, rec.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		// The account went away or was deactivated mid-chain; stop the
		// chain here.
		if _, revErr := e.families.RevokeFamily(ctx, rec.Family); revErr != nil {
			return nil, revErr
		}
		return nil, ErrInvalidCredentials
	}

	accessToken, err := e.codec.CreateAccess(user.ID, user.Roles, e.cfg.Token.AccessTTL)
	if err != nil {
		return nil, err
	}

	e.metrics.Inc(metrics.RefreshSuccess)
	e.audit(ctx, audit.Event{EventType: audit.TypeRefresh, UserID: user.ID, Success: true})

	return &TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     next,
		AccessExpiresAt:  e.now().Add(e.cfg.Token.AccessTTL),
		RefreshExpiresAt: rec.ExpiresAt,
		UserID:           user.ID,
	}, nil
}
