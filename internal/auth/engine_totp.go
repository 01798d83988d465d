package auth

import (
	"context"
	"errors"
	"time"
)

// SetupTOTP begins two-factor enrollment: a fresh secret is stored in the
// pending state and returned with its provisioning URI. The pending secret
// does not gate login until ConfirmTOTP proves the authenticator has it.
// Calling again before confirmation replaces the pending secret.
func (e *Engine) SetupTOTP(ctx context.Context, accountID string) (*TOTPSetup, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, ErrStoreUnavailable
	}

	twoFactor, err := e.accounts.GetTwoFactor(ctx, accountID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if twoFactor.Enabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.accounts.SavePendingTwoFactorSecret(ctx, accountID, secret); err != nil {
		return nil, ErrStoreUnavailable
	}

	e.emitAudit(ctx, EventTOTPSetupStarted, true, accountID, "", nil, nil)
	return &TOTPSetup{
		Secret: secretBase32,
		URI:    e.totp.ProvisionURI(secretBase32, account.Email),
	}, nil
}

// ConfirmTOTP completes enrollment. A valid current code enables the
// credential, generates the backup code set, and revokes every existing
// session so only two-factor-verified logins remain. The plaintext backup
// codes are returned exactly once.
func (e *Engine) ConfirmTOTP(ctx context.Context, accountID, code string) ([]string, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	twoFactor, err := e.accounts.GetTwoFactor(ctx, accountID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if twoFactor.Enabled {
		return nil, ErrTOTPAlreadyEnabled
	}
	if len(twoFactor.Secret) == 0 {
		return nil, ErrTOTPSetupMissing
	}

	if err := e.verifyTOTPForAccount(ctx, accountID, twoFactor, code); err != nil {
		return nil, err
	}

	codes, hashes, err := generateBackupCodes(
		accountID,
		e.config.TOTP.BackupCodeCount,
		e.config.TOTP.BackupCodeLength,
	)
	if err != nil {
		return nil, err
	}
	if err := e.accounts.ReplaceBackupCodes(ctx, accountID, hashes); err != nil {
		return nil, ErrStoreUnavailable
	}
	if err := e.accounts.EnableTwoFactor(ctx, accountID, time.Now().UTC()); err != nil {
		return nil, ErrStoreUnavailable
	}

	// Pre-enrollment sessions were issued without a second factor.
	_ = e.sessions.DeleteAllForAccount(ctx, accountID)

	e.metrics.TOTPEnabled.Add(1)
	e.emitAudit(ctx, EventTOTPEnabled, true, accountID, "", nil, nil)
	e.emitAudit(ctx, EventBackupCodesGenerated, true, accountID, "", nil, nil)
	return codes, nil
}

// DisableTOTP clears the two-factor credential after proof of possession:
// a current time-based code or an unused backup code. All sessions are
// revoked.
func (e *Engine) DisableTOTP(ctx context.Context, accountID, code string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	twoFactor, err := e.accounts.GetTwoFactor(ctx, accountID)
	if err != nil {
		return ErrStoreUnavailable
	}
	if !twoFactor.Enabled {
		return ErrTOTPNotEnabled
	}

	if e.totp.looksLikeTOTP(code) {
		err = e.verifyTOTPForAccount(ctx, accountID, twoFactor, code)
	} else {
		err = e.verifyBackupCodeForAccount(ctx, accountID, code)
	}
	if err != nil {
		return err
	}

	if err := e.accounts.DisableTwoFactor(ctx, accountID); err != nil {
		return ErrStoreUnavailable
	}
	_ = e.sessions.DeleteAllForAccount(ctx, accountID)

	e.metrics.TOTPDisabled.Add(1)
	e.emitAudit(ctx, EventTOTPDisabled, true, accountID, "", nil, nil)
	return nil
}

// verifyTOTPForAccount validates a time-based code within the configured
// skew, enforcing the attempt budget and rejecting counter replays: a code
// verifies at most once per window context.
func (e *Engine) verifyTOTPForAccount(ctx context.Context, accountID string, twoFactor TwoFactorRecord, code string) error {
	if err := e.limiter.CheckTOTP(ctx, accountID); err != nil {
		return mapRateErr(err)
	}

	ok, counter, err := e.totp.VerifyCode(twoFactor.Secret, code, time.Now())
	if err != nil {
		return err
	}
	if ok && counter <= twoFactor.Counter {
		// Same or older counter: a replay of an already-used code.
		ok = false
	}
	if !ok {
		if err := e.limiter.RecordTOTPFailure(ctx, accountID); err != nil {
			return mapRateErr(err)
		}
		return ErrTOTPInvalid
	}

	if err := e.accounts.UpdateTOTPCounter(ctx, accountID, counter); err != nil {
		return ErrStoreUnavailable
	}
	_ = e.limiter.ResetTOTP(ctx, accountID)
	return nil
}
