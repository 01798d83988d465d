package auth

import "errors"

var (
	// ErrInvalidCredentials is returned for unknown email and wrong
	// password alike; the caller must not learn which one it was.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAccountNotFound is returned by account providers when no record
	// matches the lookup key.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTooManyAttempts is returned when an attempt budget is exhausted.
	ErrTooManyAttempts = errors.New("too many attempts")

	// ErrStoreUnavailable is returned when a backing store cannot be
	// consulted. Security-relevant paths fail closed on it.
	ErrStoreUnavailable = errors.New("backing store unavailable")

	// ErrTokenInvalid is returned when an access token fails verification
	// for any reason: signature, expiry, algorithm, or malformed claims.
	ErrTokenInvalid = errors.New("invalid access token")

	// ErrRefreshInvalid is returned for refresh tokens that fail decoding.
	ErrRefreshInvalid = errors.New("invalid refresh token")

	// ErrSessionNotFound is returned when the refresh session no longer
	// exists or has expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrRefreshReuse is returned when a refresh token is presented after
	// rotation. The whole session is destroyed before this is returned.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrForbidden is returned when an authenticated principal lacks the
	// role an operation requires.
	ErrForbidden = errors.New("insufficient role")

	// ErrMFAChallengeNotFound covers unknown, consumed, and replayed
	// pending-login challenges.
	ErrMFAChallengeNotFound = errors.New("mfa challenge not found")

	// ErrMFAChallengeExpired is returned when the pending login outlived
	// its TTL before the second factor arrived.
	ErrMFAChallengeExpired = errors.New("mfa challenge expired")

	// ErrMFAAttemptsExceeded is returned when a pending login burned its
	// attempt budget; the challenge is destroyed with it.
	ErrMFAAttemptsExceeded = errors.New("mfa attempts exceeded")

	// ErrTOTPInvalid is returned for a wrong, reused, or malformed
	// time-based code.
	ErrTOTPInvalid = errors.New("invalid totp code")

	// ErrTOTPNotEnabled is returned when an operation requires a confirmed
	// two-factor credential and the account has none.
	ErrTOTPNotEnabled = errors.New("totp not enabled")

	// ErrTOTPAlreadyEnabled is returned when setup is re-attempted on an
	// account that already confirmed a secret.
	ErrTOTPAlreadyEnabled = errors.New("totp already enabled")

	// ErrTOTPSetupMissing is returned when confirmation arrives without a
	// pending secret to confirm.
	ErrTOTPSetupMissing = errors.New("totp setup not initiated")

	// ErrBackupCodeInvalid is returned for unmatched and already-consumed
	// backup codes alike.
	ErrBackupCodeInvalid = errors.New("invalid backup code")

	// ErrEngineNotReady is returned when the engine is used before Build
	// wired its dependencies.
	ErrEngineNotReady = errors.New("engine not ready")
)
