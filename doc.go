// Package authcore is an embeddable authentication and session
// security engine: JWT access tokens, rotating refresh-token families
// with reuse detection, argon2id password hashing, progressive and
// sliding-window rate limiting, and device sessions. State lives in
// Redis with a transparent in-memory fallback; a pure in-memory mode
// works for tests and single-node deployments.
//
// The engine is a library, not a service. It never reads HTTP requests
// or sends email; the embedding application supplies a UserStore for
// persistence, delivers the verification and reset tokens the engine
// returns, and maps the sentinel errors in errors.go onto its own
// transport.
//
// Construction:
//
//	store := memstore.New()
//	engine, err := authcore.New(authcore.DevelopmentConfig(), store)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Close()
//
// Flows follow the identity state machine: Register creates an
// inactive user and returns a verification token; Verify activates the
// account and opens the first session; Login, Refresh, and Logout
// manage the steady state; RequestPasswordReset and
// ConfirmPasswordReset run the recovery side channel.
package authcore
