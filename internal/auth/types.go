package auth

import (
	"context"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/rbac"
)

// AccountProvider is the persistence boundary the engine depends on.
// Implementations return ErrAccountNotFound for missing records and must
// keep ConsumeBackupCode atomic: a code row flips to consumed exactly once
// regardless of concurrent callers.
type AccountProvider interface {
	GetByEmail(ctx context.Context, email string) (AccountRecord, error)
	GetByID(ctx context.Context, id string) (AccountRecord, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error

	GetTwoFactor(ctx context.Context, accountID string) (TwoFactorRecord, error)
	SavePendingTwoFactorSecret(ctx context.Context, accountID string, secret []byte) error
	EnableTwoFactor(ctx context.Context, accountID string, confirmedAt time.Time) error
	DisableTwoFactor(ctx context.Context, accountID string) error
	UpdateTOTPCounter(ctx context.Context, accountID string, counter int64) error

	ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][32]byte) error
	ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error)
}

// AccountRecord is the minimal account view the engine needs.
type AccountRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Role         rbac.Role
	CreatedAt    time.Time
}

// TwoFactorRecord mirrors the stored two-factor credential. A record with
// an empty Secret means two-factor is absent; a non-empty Secret with
// Enabled=false is a pending, unconfirmed setup that must not gate login.
type TwoFactorRecord struct {
	Secret      []byte
	Enabled     bool
	ConfirmedAt time.Time
	Counter     int64 // last accepted TOTP counter, for replay rejection
}

// LoginResult is the outcome of login step 1. Either the token pair is
// populated, or MFARequired is set and the caller must complete step 2
// with the challenge before ChallengeTTL elapses.
type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Role         rbac.Role

	MFARequired  bool
	MFAChallenge string
	ChallengeTTL time.Duration
}

// TokenPair is an access/refresh token pair issued on refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Principal is the authenticated identity extracted from an access token.
type Principal struct {
	AccountID string
	Role      rbac.Role
	SessionID string
}

// TOTPSetup is returned by SetupTOTP: the base32 secret and the
// provisioning URI to render as a QR code.
type TOTPSetup struct {
	Secret string
	URI    string
}
