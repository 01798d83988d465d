package auth

import (
	"context"
	"errors"
)

// ConfirmLogin is step 2: it completes a paused login with either a
// time-based code or a backup code. The challenge is consumed exactly
// once; concurrent confirmations race on the delete and the loser fails.
func (e *Engine) ConfirmLogin(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if e == nil || e.challenges == nil {
		return nil, ErrEngineNotReady
	}
	if challengeID == "" || code == "" {
		return nil, ErrMFAChallengeNotFound
	}

	challenge, err := e.challenges.Get(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	account, err := e.accounts.GetByID(ctx, challenge.AccountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			_, _ = e.challenges.Delete(ctx, challengeID)
			return nil, ErrMFAChallengeNotFound
		}
		return nil, ErrStoreUnavailable
	}

	twoFactor, err := e.accounts.GetTwoFactor(ctx, account.ID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if !twoFactor.Enabled {
		// 2FA was disabled between step 1 and step 2; the pending login
		// is stale.
		_, _ = e.challenges.Delete(ctx, challengeID)
		return nil, ErrMFAChallengeNotFound
	}

	var verifyErr error
	if e.totp.looksLikeTOTP(code) {
		verifyErr = e.verifyTOTPForAccount(ctx, account.ID, twoFactor, code)
	} else {
		verifyErr = e.verifyBackupCodeForAccount(ctx, account.ID, code)
	}

	if verifyErr != nil {
		return nil, e.failMFAAttempt(ctx, challengeID, account.ID, verifyErr)
	}

	deleted, err := e.challenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, ErrStoreUnavailable
	}
	if !deleted {
		// Lost the race against a concurrent confirmation.
		return nil, ErrMFAChallengeNotFound
	}

	result, err := e.issueTokens(ctx, account)
	if err != nil {
		return nil, err
	}

	e.metrics.LoginSuccess.Add(1)
	e.emitAudit(ctx, EventMFALoginSuccess, true, account.ID, "", nil, nil)
	return result, nil
}

func (e *Engine) failMFAAttempt(ctx context.Context, challengeID, accountID string, cause error) error {
	// Rate-limit and availability failures do not burn challenge attempts.
	if errors.Is(cause, ErrTooManyAttempts) || errors.Is(cause, ErrStoreUnavailable) {
		return cause
	}

	e.metrics.MFAFailed.Add(1)
	e.emitAudit(ctx, EventMFALoginFailed, false, accountID, "", cause, nil)

	exceeded, err := e.challenges.RecordFailure(ctx, challengeID, e.config.TOTP.ChallengeMaxAttempts)
	if err != nil {
		if errors.Is(err, ErrMFAChallengeNotFound) || errors.Is(err, ErrMFAChallengeExpired) {
			return err
		}
		return ErrStoreUnavailable
	}
	if exceeded {
		return ErrMFAAttemptsExceeded
	}
	return cause
}
