package auth

import (
	"context"
)

// RegenerateBackupCodes replaces the full backup code set. Requires a
// fresh time-based code so a stolen session alone cannot mint recovery
// credentials. Every previous code is invalidated; the new plaintext set
// is returned exactly once.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, totpCode string) ([]string, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	twoFactor, err := e.accounts.GetTwoFactor(ctx, accountID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if !twoFactor.Enabled {
		return nil, ErrTOTPNotEnabled
	}

	if err := e.verifyTOTPForAccount(ctx, accountID, twoFactor, totpCode); err != nil {
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

	e.emitAudit(ctx, EventBackupCodesGenerated, true, accountID, "", nil, nil)
	return codes, nil
}

// verifyBackupCodeForAccount consumes a backup code atomically: the store
// flips the matching unconsumed row exactly once, so a code that verified
// for one request can never verify again.
func (e *Engine) verifyBackupCodeForAccount(ctx context.Context, accountID, code string) error {
	if err := e.limiter.CheckBackup(ctx, accountID); err != nil {
		return mapRateErr(err)
	}

	canonical := canonicalizeBackupCode(code)
	if canonical == "" {
		if err := e.limiter.RecordBackupFailure(ctx, accountID); err != nil {
			return mapRateErr(err)
		}
		return ErrBackupCodeInvalid
	}

	consumed, err := e.accounts.ConsumeBackupCode(ctx, accountID, backupCodeHash(accountID, canonical))
	if err != nil {
		return ErrStoreUnavailable
	}
	if !consumed {
		if err := e.limiter.RecordBackupFailure(ctx, accountID); err != nil {
			return mapRateErr(err)
		}
		return ErrBackupCodeInvalid
	}

	_ = e.limiter.ResetBackup(ctx, accountID)
	e.metrics.BackupCodesUsed.Add(1)
	e.emitAudit(ctx, EventBackupCodeUsed, true, accountID, "", nil, nil)
	return nil
}
