// Package metrics counts engine operations with lock-free atomics. The
// hot path is a single padded atomic add; exporters read consistent
// snapshots and translate them for Prometheus or OpenTelemetry.
package metrics

import (
	"sync/atomic"
)

// ID identifies one counter.
type ID uint16

const (
	RegisterSuccess ID = iota
	RegisterDuplicate
	RegisterRateLimited
	VerifySuccess
	VerifyFailure
	LoginSuccess
	LoginFailure
	LoginLockedOut
	LoginRateLimited
	RefreshSuccess
	RefreshFailure
	RefreshReuseDetected
	ResetRequested
	ResetConfirmSuccess
	ResetConfirmFailure
	Logout
	LogoutAll
	SessionCreated
	SessionRevoked
	StoreFallback
	idCount
)

// Def describes a counter for exporters: stable export name plus help
// text.
type Def struct {
	ID   ID
	Name string
	Help string
}

// CounterDefs is the canonical export table, in ID order.
var CounterDefs = []Def{
	{RegisterSuccess, "authcore_register_success_total", "Completed registrations."},
	{RegisterDuplicate, "authcore_register_duplicate_total", "Registrations rejected for an existing email."},
	{RegisterRateLimited, "authcore_register_rate_limited_total", "Registrations rejected by rate limiting."},
	{VerifySuccess, "authcore_verify_success_total", "Successful email verifications."},
	{VerifyFailure, "authcore_verify_failure_total", "Failed email verifications."},
	{LoginSuccess, "authcore_login_success_total", "Successful logins."},
	{LoginFailure, "authcore_login_failure_total", "Logins rejected for bad credentials."},
	{LoginLockedOut, "authcore_login_locked_out_total", "Logins rejected by progressive lockout."},
	{LoginRateLimited, "authcore_login_rate_limited_total", "Logins rejected by the sliding-window limit."},
	{RefreshSuccess, "authcore_refresh_success_total", "Successful token rotations."},
	{RefreshFailure, "authcore_refresh_failure_total", "Rotations rejected for invalid or expired tokens."},
	{RefreshReuseDetected, "authcore_refresh_reuse_total", "Rotation attempts on already-consumed tokens."},
	{ResetRequested, "authcore_reset_requested_total", "Password reset requests."},
	{ResetConfirmSuccess, "authcore_reset_confirm_success_total", "Completed password resets."},
	{ResetConfirmFailure, "authcore_reset_confirm_failure_total", "Password resets rejected for bad tokens."},
	{Logout, "authcore_logout_total", "Single-session logouts."},
	{LogoutAll, "authcore_logout_all_total", "All-session logouts."},
	{SessionCreated, "authcore_session_created_total", "Sessions opened."},
	{SessionRevoked, "authcore_session_revoked_total", "Sessions revoked."},
	{StoreFallback, "authcore_store_fallback_total", "Operations served by the in-memory fallback store."},
}

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is the counter set. The zero value is disabled; a nil
// receiver is safe everywhere, so callers never guard their Inc calls.
type Metrics struct {
	enabled  bool
	counters [idCount]paddedCounter
}

// New creates an enabled counter set.
func New() *Metrics {
	return &Metrics{enabled: true}
}

// Enabled reports whether counts are being recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id ID) {
	if m == nil || !m.enabled || id >= idCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads one counter.
func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter. Reads are individually atomic, not a
// cross-counter transaction; exporters tolerate that.
func (m *Metrics) Snapshot() map[ID]uint64 {
	snap := make(map[ID]uint64, int(idCount))
	if m == nil || !m.enabled {
		return snap
	}
	for id := ID(0); id < idCount; id++ {
		snap[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return snap
}
