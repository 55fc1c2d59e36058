package authcore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auxmon/authcore"
	"github.com/auxmon/authcore/events"
	"github.com/auxmon/authcore/memstore"
	"github.com/auxmon/authcore/metrics"
	"github.com/auxmon/authcore/ratelimit"
)

type engineFixture struct {
	engine  *authcore.Engine
	emitter *events.ChannelEmitter
	advance func(d time.Duration)
}

func newEngineFixture(t *testing.T, mutate func(*authcore.Config)) *engineFixture {
	t.Helper()

	cfg := authcore.DevelopmentConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	now := time.Now()
	store := memstore.New()
	emitter := events.NewChannelEmitter(16)

	engine, err := authcore.New(cfg, store,
		authcore.WithClock(func() time.Time { return now }),
		authcore.WithEmitter(emitter),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return &engineFixture{
		engine:  engine,
		emitter: emitter,
		advance: func(d time.Duration) { now = now.Add(d) },
	}
}

func registerAndVerify(t *testing.T, fx *engineFixture, email, pass string) *authcore.TokenPair {
	t.Helper()
	res, err := fx.engine.Register(context.Background(), email, pass, "10.0.0.1")
	require.NoError(t, err)
	pair, err := fx.engine.Verify(context.Background(), res.VerificationToken, nil, "10.0.0.1")
	require.NoError(t, err)
	return pair
}

func TestRegisterVerifyLogin(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)

	res, err := fx.engine.Register(ctx, "Alice@Example.com", "correct-horse", "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, res.UserID)
	require.NotEmpty(t, res.VerificationToken)

	// Registered but unverified: login is refused with the same error a
	// wrong password gets.
	_, err = fx.engine.Login(ctx, "alice@example.com", "correct-horse", false, nil, "10.0.0.1")
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)

	pair, err := fx.engine.Verify(ctx, res.VerificationToken, map[string]string{"ua": "test"}, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.NotEmpty(t, pair.SessionID)
	assert.Equal(t, res.UserID, pair.UserID)

	claims, err := fx.engine.ValidateAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.UserID, claims.Subject)

	// A second Verify of the same token fails: the record is consumed.
	_, err = fx.engine.Verify(ctx, res.VerificationToken, nil, "10.0.0.1")
	require.ErrorIs(t, err, authcore.ErrInvalidOrExpiredToken)

	// Email lookup is case-insensitive on login.
	pair2, err := fx.engine.Login(ctx, "ALICE@example.COM", "correct-horse", false, nil, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, pair2.AccessToken)
}

func TestRegisterDuplicateAndWeakPassword(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)

	_, err := fx.engine.Register(ctx, "a@x.com", "correct-horse", "")
	require.NoError(t, err)
	_, err = fx.engine.Register(ctx, "a@x.com", "other-password", "")
	require.ErrorIs(t, err, authcore.ErrDuplicateEmail)

	_, err = fx.engine.Register(ctx, "b@x.com", "short", "")
	require.ErrorIs(t, err, authcore.ErrWeakPassword)
}

func TestRegisterRateLimitPerEmail(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)

	// Budget is 3 per email per window; the first succeeds, the next
	// two burn the budget as duplicates, the fourth is limited.
	_, err := fx.engine.Register(ctx, "a@x.com", "correct-horse", "")
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = fx.engine.Register(ctx, "a@x.com", "correct-horse", "")
		require.ErrorIs(t, err, authcore.ErrDuplicateEmail)
	}
	_, err = fx.engine.Register(ctx, "a@x.com", "correct-horse", "")
	require.ErrorIs(t, err, authcore.ErrTooManyAttempts)

	// The window frees the budget again.
	fx.advance(2 * time.Hour)
	_, err = fx.engine.Register(ctx, "a@x.com", "correct-horse", "")
	require.ErrorIs(t, err, authcore.ErrDuplicateEmail)
}

func TestVerificationTokenExpiry(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)

	res, err := fx.engine.Register(ctx, "a@x.com", "correct-horse", "")
	require.NoError(t, err)

	fx.advance(25 * time.Hour)
	_, err = fx.engine.Verify(ctx, res.VerificationToken, nil, "")
	require.ErrorIs(t, err, authcore.ErrInvalidOrExpiredToken)
}

func TestLoginLockoutAndCooldown(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)
	registerAndVerify(t, fx, "a@x.com", "correct-horse")

	for i := 0; i < 5; i++ {
		_, err := fx.engine.Login(ctx, "a@x.com", "wrong", false, nil, "10.0.0.1")
		require.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	}

	// Budget spent: even the right password is locked out.
	_, err := fx.engine.Login(ctx, "a@x.com", "correct-horse", false, nil, "10.0.0.1")
	require.ErrorIs(t, err, authcore.ErrTooManyAttempts)
	var tooMany *ratelimit.TooManyAttemptsError
	require.ErrorAs(t, err, &tooMany)
	assert.Greater(t, tooMany.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, tooMany.RetryAfter, time.Minute)

	// After the first escalation delay the lock falls away.
	fx.advance(61 * time.Second)
	_, err = fx.engine.Login(ctx, "a@x.com", "correct-horse", false, nil, "10.0.0.1")
	require.NoError(t, err)
}

func TestLoginInvalidatesPriorRefreshTokens(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)
	first := registerAndVerify(t, fx, "a@x.com", "correct-horse")

	_, err := fx.engine.Login(ctx, "a@x.com", "correct-horse", false, nil, "")
	require.NoError(t, err)

	// The pre-login refresh token belongs to a revoked family now.
	_, err = fx.engine.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrRefreshReuse)
}

func TestRefreshRotationAndReuse(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)
	pair := registerAndVerify(t, fx, "a@x.com", "correct-horse")

	rotated, err := fx.engine.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	require.NotEmpty(t, rotated.AccessToken)

	// Replay of the consumed token kills the family, successor included.
	_, err = fx.engine.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrRefreshReuse)
	_, err = fx.engine.Refresh(ctx, rotated.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrRefreshReuse)
}

func TestRefreshExpiredToken(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)
	pair := registerAndVerify(t, fx, "a@x.com", "correct-horse")

	fx.advance(31 * 24 * time.Hour)
	_, err := fx.engine.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrTokenExpired)
}

func TestAccessTokenExpiry(t *testing.T) {
	fx := newEngineFixture(t, func(cfg *authcore.Config) {
		cfg.Token.AccessTTL = time.Minute
	})
	pair := registerAndVerify(t, fx, "a@x.com", "correct-horse")

	fx.advance(2 * time.Minute)
	_, err := fx.engine.ValidateAccess(pair.AccessToken)
	require.ErrorIs(t, err, authcore.ErrTokenExpired)
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	fx := newEngineFixture(t, nil)
	pair := registerAndVerify(t, fx, "a@x.com", "correct-horse")

	_, err := fx.engine.ValidateAccess(pair.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrTokenInvalid)
}

func TestPasswordResetFlow(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)
	pair := registerAndVerify(t, fx, "a@x.com", "correct-horse")

	// Unknown email: success shape, nothing to deliver.
	tok, err := fx.engine.RequestPasswordReset(ctx, "nobody@x.com", "")
	require.NoError(t, err)
	assert.Empty(t, tok)

	tok, err = fx.engine.RequestPasswordReset(ctx, "a@x.com", "")
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	require.NoError(t, fx.engine.ConfirmPasswordReset(ctx, tok, "new-horse-battery"))

	// Reset is a compromise response: prior refresh chain is dead.
	_, err = fx.engine.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrRefreshReuse)

	// Old password out, new password in.
	_, err = fx.engine.Login(ctx, "a@x.com", "correct-horse", false, nil, "")
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	_, err = fx.engine.Login(ctx, "a@x.com", "new-horse-battery", false, nil, "")
	require.NoError(t, err)

	// The reset token was consumed.
	err = fx.engine.ConfirmPasswordReset(ctx, tok, "another-password")
	require.ErrorIs(t, err, authcore.ErrInvalidOrExpiredToken)
}

func TestPasswordResetTokenExpiry(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)
	registerAndVerify(t, fx, "a@x.com", "correct-horse")

	tok, err := fx.engine.RequestPasswordReset(ctx, "a@x.com", "")
	require.NoError(t, err)

	fx.advance(16 * time.Minute)
	err = fx.engine.ConfirmPasswordReset(ctx, tok, "new-horse-battery")
	require.ErrorIs(t, err, authcore.ErrInvalidOrExpiredToken)
}

func TestLogoutAndSessions(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)
	pair := registerAndVerify(t, fx, "a@x.com", "correct-horse")

	second, err := fx.engine.Login(ctx, "a@x.com", "correct-horse", false, nil, "10.0.0.2")
	require.NoError(t, err)

	sessions, err := fx.engine.Sessions(ctx, pair.UserID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	require.NoError(t, fx.engine.Logout(ctx, pair.SessionID, pair.RefreshToken))
	// Idempotent.
	require.NoError(t, fx.engine.Logout(ctx, pair.SessionID, ""))

	sessions, err = fx.engine.Sessions(ctx, pair.UserID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, second.SessionID, sessions[0].ID)

	require.NoError(t, fx.engine.LogoutAll(ctx, pair.UserID))
	sessions, err = fx.engine.Sessions(ctx, pair.UserID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, err = fx.engine.Refresh(ctx, second.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrRefreshReuse)
}

func TestLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)

	_, err := fx.engine.Register(ctx, "a@x.com", "correct-horse", "")
	require.NoError(t, err)
	env := <-fx.emitter.Events()
	assert.Equal(t, events.UserRegistered, env.Event)
	assert.Equal(t, "a@x.com", env.Data["email"])

	_, err = fx.engine.RequestPasswordReset(ctx, "a@x.com", "")
	require.NoError(t, err)
	env = <-fx.emitter.Events()
	assert.Equal(t, events.PasswordReset, env.Event)
}

func TestMetricsCounting(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)
	registerAndVerify(t, fx, "a@x.com", "correct-horse")

	_, err := fx.engine.Login(ctx, "a@x.com", "wrong", false, nil, "")
	require.ErrorIs(t, err, authcore.ErrInvalidCredentials)
	_, err = fx.engine.Login(ctx, "a@x.com", "correct-horse", false, nil, "")
	require.NoError(t, err)

	m := fx.engine.Metrics()
	assert.Equal(t, uint64(1), m.Value(metrics.RegisterSuccess))
	assert.Equal(t, uint64(1), m.Value(metrics.VerifySuccess))
	assert.Equal(t, uint64(1), m.Value(metrics.LoginFailure))
	assert.Equal(t, uint64(1), m.Value(metrics.LoginSuccess))
}

func TestClosedEngine(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)
	require.NoError(t, fx.engine.Close())

	_, err := fx.engine.Register(ctx, "a@x.com", "correct-horse", "")
	require.ErrorIs(t, err, authcore.ErrEngineClosed)
	_, err = fx.engine.Login(ctx, "a@x.com", "correct-horse", false, nil, "")
	require.ErrorIs(t, err, authcore.ErrEngineClosed)
}

func TestEngineOverRedis(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	engine, err := authcore.New(authcore.DevelopmentConfig(), memstore.New(),
		authcore.WithRedis(rdb))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	res, err := engine.Register(ctx, "a@x.com", "correct-horse", "10.0.0.1")
	require.NoError(t, err)
	pair, err := engine.Verify(ctx, res.VerificationToken, nil, "10.0.0.1")
	require.NoError(t, err)

	rotated, err := engine.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	_, err = engine.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrRefreshReuse)
	_, err = engine.Refresh(ctx, rotated.RefreshToken)
	require.ErrorIs(t, err, authcore.ErrRefreshReuse)

	sessions, err := engine.Sessions(ctx, pair.UserID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
}

func TestEngineSurvivesRedisOutage(t *testing.T) {
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	engine, err := authcore.New(authcore.DevelopmentConfig(), memstore.New(),
		authcore.WithRedis(rdb))
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	res, err := engine.Register(ctx, "a@x.com", "correct-horse", "10.0.0.1")
	require.NoError(t, err)
	pair, err := engine.Verify(ctx, res.VerificationToken, nil, "10.0.0.1")
	require.NoError(t, err)

	// Redis goes away: rate-limit and session reads degrade to the
	// in-memory fallback instead of returning errors. Refresh-token
	// state stays Redis-authoritative and is not exercised here.
	mr.Close()
	sessions, err := engine.Sessions(ctx, res.UserID)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	claims, err := engine.ValidateAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, res.UserID, claims.Subject)

	assert.GreaterOrEqual(t, engine.Metrics().Value(metrics.StoreFallback), uint64(1))
}

func TestProductionConfigRejectsPlaceholderSecret(t *testing.T) {
	cfg := authcore.ProductionConfig()
	cfg.Token.Secret = "super-secret-change-me-0123456789abcdef"
	require.Error(t, cfg.Validate())

	cfg.Token.Secret = "k9Qp2vX7mW4zR8tY3uL6nB1cD5fG0hJa"
	require.NoError(t, cfg.Validate())

	short := authcore.DevelopmentConfig()
	short.Token.Secret = "too-short"
	require.Error(t, short.Validate())
}

func TestUnknownAndWrongPasswordSameError(t *testing.T) {
	ctx := context.Background()
	fx := newEngineFixture(t, nil)
	registerAndVerify(t, fx, "a@x.com", "correct-horse")

	_, errUnknown := fx.engine.Login(ctx, "ghost@x.com", "whatever-pass", false, nil, "")
	_, errWrong := fx.engine.Login(ctx, "a@x.com", "wrong-password", false, nil, "")
	require.ErrorIs(t, errUnknown, authcore.ErrInvalidCredentials)
	require.ErrorIs(t, errWrong, authcore.ErrInvalidCredentials)
	assert.True(t, errors.Is(errUnknown, errWrong) || errUnknown.Error() == errWrong.Error())
}
