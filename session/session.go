// Package session tracks device sessions independently of token
// expiry. A session is an audit and device-management record, not an
// authorization credential: revoking it does not recall access tokens
// already in flight.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a session is missing, expired, or
// inactive. Callers treat all three the same.
var ErrNotFound = errors.New("session not found")

// DefaultTTL is the session lifetime when the store is built without an
// explicit one.
const DefaultTTL = 30 * 24 * time.Hour

// Device-info bounds. Metadata comes straight from clients, so both the
// number of keys and the value size are capped before storage.
const (
	maxDeviceInfoKeys     = 16
	maxDeviceInfoValueLen = 256
)

// IPMismatchPolicy decides what Validate does when the presented IP
// differs from the one recorded at creation.
type IPMismatchPolicy int

const (
	// IPMismatchLogOnly records the mismatch and lets the session
	// through. Mobile clients legitimately roam across addresses.
	IPMismatchLogOnly IPMismatchPolicy = iota
	// IPMismatchRevoke revokes the session on any address change.
	IPMismatchRevoke
)

// Session is the stored record. Treated as an immutable snapshot:
// updates replace the stored value rather than mutating it in place.
type Session struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	DeviceInfo   map[string]string `json:"device_info,omitempty"`
	IPAddress    string            `json:"ip_address"`
	IsActive     bool              `json:"is_active"`
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("session id entropy: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func boundDeviceInfo(info map[string]string) (map[string]string, error) {
	if len(info) == 0 {
		return nil, nil
	}
	if len(info) > maxDeviceInfoKeys {
		return nil, fmt.Errorf("device info exceeds %d keys", maxDeviceInfoKeys)
	}
	bounded := make(map[string]string, len(info))
	for k, v := range info {
		if len(k) > maxDeviceInfoValueLen || len(v) > maxDeviceInfoValueLen {
			return nil, fmt.Errorf("device info entry %q exceeds %d bytes", k, maxDeviceInfoValueLen)
		}
		bounded[k] = v
	}
	return bounded, nil
}
