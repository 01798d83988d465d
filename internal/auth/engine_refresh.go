package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Refresh exchanges a refresh token for a new token pair. The stored hash
// is compared and replaced in one atomic step; presenting a rotated-out
// token proves reuse, destroys the session, and returns ErrRefreshReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, secret, err := decodeRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrRefreshInvalid
	}

	nextSecret, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.RotateRefreshHash(
		ctx,
		sessionID,
		hashRefreshSecret(secret),
		hashRefreshSecret(nextSecret),
	)
	if err != nil {
		switch {
		case errors.Is(err, errRefreshHashMismatch):
			e.metrics.RefreshReuse.Add(1)
			e.emitAudit(ctx, EventRefreshReuse, false, "", sessionID, ErrRefreshReuse, nil)
			return nil, ErrRefreshReuse
		case errors.Is(err, ErrSessionNotFound):
			return nil, ErrSessionNotFound
		default:
			return nil, ErrStoreUnavailable
		}
	}

	access, err := e.tokens.Mint(sess.AccountID, sess.Role, sessionID)
	if err != nil {
		return nil, err
	}
	newRefresh, err := encodeRefreshToken(sessionID, nextSecret)
	if err != nil {
		return nil, err
	}

	e.metrics.RefreshRotations.Add(1)
	e.emitAudit(ctx, EventTokenRefreshed, true, sess.AccountID, sessionID, nil, nil)
	return &TokenPair{AccessToken: access, RefreshToken: newRefresh}, nil
}

// createChallenge stores a pending-login record and returns its opaque ID.
func (e *Engine) createChallenge(ctx context.Context, accountID string) (string, error) {
	challengeID := uuid.NewString()
	record := &mfaChallenge{
		AccountID: accountID,
		ExpiresAt: nowPlus(e.config.TOTP.ChallengeTTL),
	}
	if err := e.challenges.Save(ctx, challengeID, record, e.config.TOTP.ChallengeTTL); err != nil {
		return "", ErrStoreUnavailable
	}
	return challengeID, nil
}

func nowPlus(d time.Duration) int64 {
	return time.Now().Add(d).Unix()
}
