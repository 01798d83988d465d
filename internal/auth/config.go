package auth

import (
	"errors"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/password"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/rate"
)

// Config is the engine configuration. Construct with DefaultConfig, adjust,
// and pass to the Builder; the engine keeps a private clone so later
// mutation of the caller's copy has no effect.
type Config struct {
	// ProductionMode tightens validation: weak signing secrets and long
	// access TTLs become construction errors instead of defaults.
	ProductionMode bool

	JWT      JWTConfig
	Session  SessionConfig
	TOTP     TOTPConfig
	Password password.Config
	Limits   rate.Config
	Audit    AuditConfig
}

type JWTConfig struct {
	AccessTTL  time.Duration
	Method     string // "hs256" or "ed25519"
	Secret     []byte
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

type SessionConfig struct {
	// TTL bounds the refresh session lifetime; rotation preserves the
	// remaining TTL rather than extending it.
	TTL         time.Duration
	RedisPrefix string
}

type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string

	BackupCodeCount  int
	BackupCodeLength int

	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of blocking request paths when the
	// sink cannot keep up; drops are counted.
	DropIfFull bool
}

// DefaultConfig returns the settings used when the service config does not
// override them.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL: 15 * time.Minute,
			Method:    "hs256",
			Issuer:    "eis-api",
			Leeway:    30 * time.Second,
		},
		Session: SessionConfig{
			TTL:         7 * 24 * time.Hour,
			RedisPrefix: "es",
		},
		TOTP: TOTPConfig{
			Issuer:               "Electrical Supplier",
			Digits:               6,
			Period:               30,
			Skew:                 1,
			Algorithm:            "SHA1",
			BackupCodeCount:      10,
			BackupCodeLength:     10,
			ChallengeTTL:         3 * time.Minute,
			ChallengeMaxAttempts: 5,
		},
		Password: password.Config{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Limits: rate.Config{
			EnableIPThrottle:  true,
			MaxLoginAttempts:  5,
			LoginWindow:       15 * time.Minute,
			MaxTOTPAttempts:   5,
			TOTPWindow:        5 * time.Minute,
			MaxBackupAttempts: 5,
			BackupWindow:      15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate rejects configurations the engine cannot run safely with.
func (c Config) Validate() error {
	switch c.JWT.Method {
	case "hs256":
		if len(c.JWT.Secret) == 0 {
			return errors.New("jwt: hs256 requires a secret")
		}
		if c.ProductionMode && len(c.JWT.Secret) < 32 {
			return errors.New("jwt: production requires a secret of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("jwt: ed25519 requires a key pair")
		}
	default:
		return errors.New("jwt: unsupported signing method")
	}

	if c.JWT.AccessTTL <= 0 {
		return errors.New("jwt: access TTL must be positive")
	}
	if c.ProductionMode && c.JWT.AccessTTL > 30*time.Minute {
		return errors.New("jwt: production access TTL must not exceed 30m")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("jwt: leeway out of range")
	}

	if c.Session.TTL < c.JWT.AccessTTL {
		return errors.New("session: TTL must be at least the access TTL")
	}
	if c.Session.RedisPrefix == "" {
		return errors.New("session: redis prefix required")
	}

	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp: digits must be 6..8")
	}
	if c.TOTP.Period < 15 || c.TOTP.Period > 120 {
		return errors.New("totp: period must be 15..120 seconds")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("totp: skew must be 0..2 steps")
	}
	if c.TOTP.BackupCodeCount < 1 || c.TOTP.BackupCodeCount > 20 {
		return errors.New("totp: backup code count must be 1..20")
	}
	if c.TOTP.BackupCodeLength < 8 || c.TOTP.BackupCodeLength > 32 {
		return errors.New("totp: backup code length must be 8..32")
	}
	if c.TOTP.ChallengeTTL <= 0 || c.TOTP.ChallengeTTL > 15*time.Minute {
		return errors.New("totp: challenge TTL must be within (0, 15m]")
	}
	if c.TOTP.ChallengeMaxAttempts < 1 {
		return errors.New("totp: challenge max attempts must be >= 1")
	}

	if c.Limits.MaxLoginAttempts < 1 || c.Limits.LoginWindow <= 0 {
		return errors.New("limits: login budget required")
	}
	if c.Limits.MaxTOTPAttempts < 1 || c.Limits.TOTPWindow <= 0 {
		return errors.New("limits: totp budget required")
	}
	if c.Limits.MaxBackupAttempts < 1 || c.Limits.BackupWindow <= 0 {
		return errors.New("limits: backup budget required")
	}

	if c.Audit.Enabled && c.Audit.BufferSize < 1 {
		return errors.New("audit: buffer size must be >= 1")
	}
	if c.ProductionMode && !c.Audit.Enabled {
		return errors.New("audit: must be enabled in production")
	}

	return nil
}

func cloneConfig(c Config) Config {
	out := c
	out.JWT.Secret = cloneBytes(c.JWT.Secret)
	out.JWT.PrivateKey = cloneBytes(c.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(c.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
