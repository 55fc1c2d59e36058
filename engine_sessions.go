package authcore

import (
	"context"

	"github.com/auxmon/authcore/audit"
	"github.com/auxmon/authcore/metrics"
	"github.com/auxmon/authcore/refresh"
	"github.com/auxmon/authcore/session"
)

// ValidateSession checks a session and stamps its activity. Sessions
// are the device-tracking layer: a missing one does not invalidate an
// access token that is still within its TTL.
func (e *Engine) ValidateSession(ctx context.Context, sessionID, ip string) (*session.Session, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	return e.sessions.Validate(ctx, sessionID, ip)
}

// Sessions lists the user's live sessions for a device-management
// surface. Records carry metadata only, no credentials.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]*session.Session, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	return e.sessions.ListForUser(ctx, userID)
}

// RevokeSession kills a single session, e.g. "sign out that device".
// Idempotent.
func (e *Engine) RevokeSession(ctx context.Context, sessionID string) error {
	if err := e.checkClosed(); err != nil {
		return err
	}
	if err := e.sessions.Revoke(ctx, sessionID); err != nil {
		return err
	}
	e.metrics.Inc(metrics.SessionRevoked)
	e.audit(ctx, audit.Event{EventType: audit.TypeSessionRevoke, SessionID: sessionID, Success: true})
	return nil
}

// RefreshHistory reconstructs a rotation family's chain, oldest first,
// for audit tooling.
func (e *Engine) RefreshHistory(ctx context.Context, family string) ([]*refresh.Record, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	return e.families.History(ctx, family)
}
