package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/auxmon/authcore/password"
	"github.com/auxmon/authcore/session"
)

// Config is the full engine configuration tree. Built once, validated
// at construction, and treated as immutable afterwards.
type Config struct {
	Environment string `yaml:"environment" env:"AUTHCORE_ENV" env-default:"development"`

	Token     TokenConfig     `yaml:"token"`
	Password  PasswordConfig  `yaml:"password"`
	Session   SessionConfig   `yaml:"session"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Audit     AuditConfig     `yaml:"audit"`
	Events    EventsConfig    `yaml:"events"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// TokenConfig controls signing and lifetimes.
type TokenConfig struct {
	// Secret signs every token. At least 32 bytes; production configs
	// fail validation on anything that looks like a placeholder.
	Secret          string        `yaml:"secret" env:"AUTHCORE_TOKEN_SECRET"`
	Issuer          string        `yaml:"issuer" env:"AUTHCORE_TOKEN_ISSUER" env-default:"authcore"`
	AccessTTL       time.Duration `yaml:"access_ttl" env:"AUTHCORE_ACCESS_TTL" env-default:"15m"`
	RefreshTTL      time.Duration `yaml:"refresh_ttl" env:"AUTHCORE_REFRESH_TTL" env-default:"720h"`
	// RememberMeTTL applies to the refresh token when login is called
	// with rememberMe.
	RememberMeTTL   time.Duration `yaml:"remember_me_ttl" env:"AUTHCORE_REMEMBER_ME_TTL" env-default:"1440h"`
	VerificationTTL time.Duration `yaml:"verification_ttl" env:"AUTHCORE_VERIFICATION_TTL" env-default:"24h"`
	ResetTTL        time.Duration `yaml:"reset_ttl" env:"AUTHCORE_RESET_TTL" env-default:"15m"`
}

// PasswordConfig mirrors the argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 `yaml:"memory_kib" env:"AUTHCORE_ARGON2_MEMORY" env-default:"65536"`
	Time        uint32 `yaml:"time" env:"AUTHCORE_ARGON2_TIME" env-default:"2"`
	Parallelism uint8  `yaml:"parallelism" env:"AUTHCORE_ARGON2_PARALLELISM" env-default:"2"`
	SaltLength  uint32 `yaml:"salt_length" env-default:"16"`
	KeyLength   uint32 `yaml:"key_length" env-default:"32"`
	MinLength   int    `yaml:"min_length" env:"AUTHCORE_PASSWORD_MIN_LENGTH" env-default:"8"`
}

// SessionConfig controls session records.
type SessionConfig struct {
	TTL time.Duration `yaml:"ttl" env:"AUTHCORE_SESSION_TTL" env-default:"720h"`
	// RevokeOnIPMismatch invalidates a session when it is presented
	// from a different address than it was created from. Off by
	// default: address changes are routine for mobile clients.
	RevokeOnIPMismatch bool `yaml:"revoke_on_ip_mismatch" env:"AUTHCORE_REVOKE_ON_IP_MISMATCH"`
}

// RateLimitConfig carries the per-flow thresholds. Windows are for the
// sliding-window limits; attempts feed the progressive lockout.
type RateLimitConfig struct {
	LoginMaxAttempts   int           `yaml:"login_max_attempts" env:"AUTHCORE_LOGIN_MAX_ATTEMPTS" env-default:"5"`
	LoginIPMaxAttempts int           `yaml:"login_ip_max_attempts" env:"AUTHCORE_LOGIN_IP_MAX_ATTEMPTS" env-default:"20"`
	RegisterPerEmail   int           `yaml:"register_per_email" env-default:"3"`
	RegisterPerIP      int           `yaml:"register_per_ip" env-default:"5"`
	RegisterWindow     time.Duration `yaml:"register_window" env-default:"1h"`
	ResetRequests      int           `yaml:"reset_requests" env-default:"3"`
	ResetRequestWindow time.Duration `yaml:"reset_request_window" env-default:"1h"`
}

// RedisConfig locates the primary store. Empty Addr runs fully
// in-memory.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"AUTHCORE_REDIS_ADDR"`
	Password string `yaml:"password" env:"AUTHCORE_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"AUTHCORE_REDIS_DB"`
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled" env:"AUTHCORE_AUDIT_ENABLED"`
	BufferSize int  `yaml:"buffer_size" env-default:"256"`
	DropIfFull bool `yaml:"drop_if_full" env-default:"true"`
}

// EventsConfig controls lifecycle event publishing.
type EventsConfig struct {
	SubjectPrefix string `yaml:"subject_prefix" env:"AUTHCORE_EVENT_PREFIX" env-default:"auth"`
}

// MetricsConfig enables the counter registry.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"AUTHCORE_METRICS_ENABLED" env-default:"true"`
}

// DevelopmentConfig returns a permissive config for local work. The
// baked-in secret fails Validate outside development on purpose.
func DevelopmentConfig() Config {
	cfg := baseConfig()
	cfg.Environment = "development"
	cfg.Token.Secret = "dev-secret-change-me-0123456789abcdef"
	return cfg
}

// ProductionConfig returns hardened defaults. The caller must supply
// Token.Secret and Redis.Addr.
func ProductionConfig() Config {
	cfg := baseConfig()
	cfg.Environment = "production"
	cfg.Token.AccessTTL = 5 * time.Minute
	cfg.Session.RevokeOnIPMismatch = false
	cfg.Audit.Enabled = true
	return cfg
}

func baseConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:          "authcore",
			AccessTTL:       15 * time.Minute,
			RefreshTTL:      30 * 24 * time.Hour,
			RememberMeTTL:   60 * 24 * time.Hour,
			VerificationTTL: 24 * time.Hour,
			ResetTTL:        15 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        2,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   8,
		},
		Session: SessionConfig{
			TTL: session.DefaultTTL,
		},
		RateLimit: RateLimitConfig{
			LoginMaxAttempts:   5,
			LoginIPMaxAttempts: 20,
			RegisterPerEmail:   3,
			RegisterPerIP:      5,
			RegisterWindow:     time.Hour,
			ResetRequests:      3,
			ResetRequestWindow: time.Hour,
		},
		Audit: AuditConfig{
			BufferSize: 256,
			DropIfFull: true,
		},
		Events: EventsConfig{
			SubjectPrefix: "auth",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// placeholderSecrets are substrings that mark a secret as non-secret.
var placeholderSecrets = []string{"change-me", "changeme", "secret", "example", "password"}

// Validate rejects configurations that would run insecurely. Called by
// New; exported so configs can be checked before wiring anything.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Token.Secret) < 32 {
		errs = append(errs, errors.New("token secret must be at least 32 bytes"))
	}
	if c.Environment == "production" {
		lower := strings.ToLower(c.Token.Secret)
		for _, marker := range placeholderSecrets {
			if strings.Contains(lower, marker) {
				errs = append(errs, fmt.Errorf("token secret contains placeholder %q, refusing to run in production", marker))
				break
			}
		}
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.Token.RememberMeTTL < c.Token.RefreshTTL {
		errs = append(errs, errors.New("remember-me TTL shorter than base refresh TTL"))
	}
	if c.Token.VerificationTTL <= 0 || c.Token.ResetTTL <= 0 {
		errs = append(errs, errors.New("verification and reset TTLs must be positive"))
	}

	if _, err := password.New(password.Config{
		Memory:      c.Password.Memory,
		Time:        c.Password.Time,
		Parallelism: c.Password.Parallelism,
		SaltLength:  c.Password.SaltLength,
		KeyLength:   c.Password.KeyLength,
	}); err != nil {
		errs = append(errs, fmt.Errorf("password config: %w", err))
	}
	if c.Password.MinLength < 8 {
		errs = append(errs, errors.New("password minimum length below 8"))
	}

	if c.Session.TTL <= 0 {
		errs = append(errs, errors.New("session TTL must be positive"))
	}
	if c.RateLimit.LoginMaxAttempts <= 0 || c.RateLimit.LoginIPMaxAttempts <= 0 {
		errs = append(errs, errors.New("login attempt limits must be positive"))
	}
	if c.RateLimit.RegisterPerEmail <= 0 || c.RateLimit.RegisterPerIP <= 0 || c.RateLimit.RegisterWindow <= 0 {
		errs = append(errs, errors.New("register limits must be positive"))
	}
	if c.RateLimit.ResetRequests <= 0 || c.RateLimit.ResetRequestWindow <= 0 {
		errs = append(errs, errors.New("reset request limits must be positive"))
	}

	return errors.Join(errs...)
}
