// Package auth implements the credential, session, and two-factor core of
// the admin API: password login with an optional second factor, JWT access
// tokens over rotating opaque refresh tokens, and revocation.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/jwtoken"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/password"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/rate"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/rbac"
)

// Engine is the auth core. Build one with the Builder; all fields are set
// at construction and never mutated, so every method is safe for
// concurrent use.
type Engine struct {
	config     Config
	accounts   AccountProvider
	sessions   *sessionStore
	challenges *mfaChallengeStore
	limiter    *rate.Limiter
	tokens     *jwtoken.Manager
	hasher     *password.Hasher
	totp       *totpManager
	audit      *auditDispatcher
	metrics    *Metrics

	// dummyHash absorbs password verification time for unknown emails so
	// response latency does not reveal account existence.
	dummyHash string
}

// Login is step 1: password verification. Unknown email and wrong password
// produce the identical ErrInvalidCredentials. When the account has a
// confirmed two-factor credential the result carries a challenge instead
// of tokens and the login pauses until ConfirmLogin.
func (e *Engine) Login(ctx context.Context, email, plaintext string) (*LoginResult, error) {
	if e == nil || e.accounts == nil {
		return nil, ErrEngineNotReady
	}

	email = normalizeEmail(email)
	if email == "" || plaintext == "" {
		return nil, ErrInvalidCredentials
	}
	ip := clientIPFromContext(ctx)

	if err := e.limiter.CheckLogin(ctx, email, ip); err != nil {
		return nil, e.failLogin(ctx, email, "", mapRateErr(err))
	}

	account, err := e.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			// Burn comparable time before answering.
			_, _ = e.hasher.Verify(plaintext, e.dummyHash)
			return nil, e.failLogin(ctx, email, "", ErrInvalidCredentials)
		}
		return nil, e.failLogin(ctx, email, "", ErrStoreUnavailable)
	}

	ok, err := e.hasher.Verify(plaintext, account.PasswordHash)
	if err != nil || !ok {
		return nil, e.failLogin(ctx, email, account.ID, ErrInvalidCredentials)
	}

	e.maybeUpgradeHash(ctx, account, plaintext)

	twoFactor, err := e.accounts.GetTwoFactor(ctx, account.ID)
	if err != nil {
		// Fail closed: without the 2FA record we cannot know whether login
		// may complete in one step.
		return nil, e.failLogin(ctx, email, account.ID, ErrStoreUnavailable)
	}

	if twoFactor.Enabled {
		challengeID, err := e.createChallenge(ctx, account.ID)
		if err != nil {
			return nil, e.failLogin(ctx, email, account.ID, err)
		}

		e.metrics.MFAChallenges.Add(1)
		e.emitAudit(ctx, EventMFARequired, true, account.ID, "", nil, func() map[string]string {
			return map[string]string{"email": MaskEmail(email)}
		})
		return &LoginResult{
			MFARequired:  true,
			MFAChallenge: challengeID,
			ChallengeTTL: e.config.TOTP.ChallengeTTL,
		}, nil
	}

	result, err := e.issueTokens(ctx, account)
	if err != nil {
		return nil, e.failLogin(ctx, email, account.ID, err)
	}

	_ = e.limiter.ResetLogin(ctx, email, ip)
	e.metrics.LoginSuccess.Add(1)
	e.emitAudit(ctx, EventLoginSuccess, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"email": MaskEmail(email)}
	})
	return result, nil
}

// Verify authenticates an access token and returns the principal. Purely
// in-memory: signature, expiry, pinned algorithm, and role validity.
func (e *Engine) Verify(_ context.Context, accessToken string) (Principal, error) {
	if e == nil || e.tokens == nil {
		return Principal{}, ErrEngineNotReady
	}

	claims, err := e.tokens.Parse(accessToken)
	if err != nil {
		return Principal{}, ErrTokenInvalid
	}
	role, err := rbac.Parse(claims.Role)
	if err != nil {
		return Principal{}, ErrTokenInvalid
	}
	return Principal{
		AccountID: claims.AccountID,
		Role:      role,
		SessionID: claims.SessionID,
	}, nil
}

// Authorize checks the principal against the minimum role for an action.
// Denials are audited with the actor and the attempted action; they are a
// distinct outcome from authentication failure.
func (e *Engine) Authorize(ctx context.Context, p Principal, min rbac.Role, action string) error {
	if p.Role.Allows(min) {
		return nil
	}

	e.metrics.AccessDenied.Add(1)
	e.emitAudit(ctx, EventAccessDenied, false, p.AccountID, p.SessionID, ErrForbidden, func() map[string]string {
		return map[string]string{"action": action, "role": string(p.Role), "required": string(min)}
	})
	return ErrForbidden
}

// Logout invalidates the session behind a refresh token. Idempotent:
// malformed, unknown, and already-revoked tokens all return nil.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	sessionID, _, err := decodeRefreshToken(refreshToken)
	if err != nil {
		return nil
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return ErrStoreUnavailable
	}

	if err := e.sessions.Delete(ctx, sessionID, sess.AccountID); err != nil {
		return ErrStoreUnavailable
	}

	e.emitAudit(ctx, EventLogout, true, sess.AccountID, sessionID, nil, nil)
	return nil
}

// LogoutAll revokes every outstanding session for an account.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if err := e.sessions.DeleteAllForAccount(ctx, accountID); err != nil {
		return ErrStoreUnavailable
	}
	return nil
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes all sessions so stolen refresh tokens die with the old password.
func (e *Engine) ChangePassword(ctx context.Context, accountID, current, next string) error {
	if e == nil || e.accounts == nil {
		return ErrEngineNotReady
	}

	account, err := e.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrAccountNotFound
		}
		return ErrStoreUnavailable
	}

	ok, err := e.hasher.Verify(current, account.PasswordHash)
	if err != nil || !ok {
		e.emitAudit(ctx, EventPasswordChanged, false, accountID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	hash, err := e.hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := e.accounts.UpdatePasswordHash(ctx, accountID, hash); err != nil {
		return ErrStoreUnavailable
	}

	_ = e.sessions.DeleteAllForAccount(ctx, accountID)
	e.emitAudit(ctx, EventPasswordChanged, true, accountID, "", nil, nil)
	return nil
}

// ActiveSessionCount reports tracked sessions for one account.
func (e *Engine) ActiveSessionCount(ctx context.Context, accountID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessions.ActiveSessionCount(ctx, accountID)
}

// EstimateActiveSessions counts all live sessions. Operator use only.
func (e *Engine) EstimateActiveSessions(ctx context.Context) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	return e.sessions.EstimateActiveSessions(ctx)
}

// Metrics exposes the engine's internal counters.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// AuditDropped reports audit events shed under load.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

// Close drains and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// issueTokens creates a refresh session and mints the token pair. Shared
// by the no-2FA login path and ConfirmLogin.
func (e *Engine) issueTokens(ctx context.Context, account AccountRecord) (*LoginResult, error) {
	sessionID, err := newSessionID()
	if err != nil {
		return nil, err
	}
	secret, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sess := &session{
		ID:          sessionID,
		AccountID:   account.ID,
		Role:        string(account.Role),
		RefreshHash: hashRefreshSecret(secret),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(e.config.Session.TTL).Unix(),
	}
	if err := e.sessions.Save(ctx, sess, e.config.Session.TTL); err != nil {
		return nil, ErrStoreUnavailable
	}

	access, err := e.tokens.Mint(account.ID, string(account.Role), sessionID)
	if err != nil {
		return nil, err
	}
	refresh, err := encodeRefreshToken(sessionID, secret)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		Role:         account.Role,
	}, nil
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, account AccountRecord, plaintext string) {
	upgrade, err := e.hasher.NeedsUpgrade(account.PasswordHash)
	if err != nil || !upgrade {
		return
	}
	hash, err := e.hasher.Hash(plaintext)
	if err != nil {
		return
	}
	// Best effort; the old hash keeps working if this write fails.
	_ = e.accounts.UpdatePasswordHash(ctx, account.ID, hash)
}

func (e *Engine) failLogin(ctx context.Context, email, accountID string, cause error) error {
	ip := clientIPFromContext(ctx)
	if errors.Is(cause, ErrInvalidCredentials) {
		if err := e.limiter.RecordLoginFailure(ctx, email, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				cause = ErrTooManyAttempts
			}
		}
	}

	e.metrics.LoginFailed.Add(1)
	e.emitAudit(ctx, EventLoginFailed, false, accountID, "", cause, func() map[string]string {
		return map[string]string{"email": MaskEmail(email)}
	})
	return cause
}

func (e *Engine) emitAudit(
	ctx context.Context,
	event string,
	success bool,
	accountID, sessionID string,
	cause error,
	metadata func() map[string]string,
) {
	if e.audit == nil {
		return
	}

	record := AuditEvent{
		Time:      time.Now().UTC(),
		Event:     event,
		Success:   success,
		AccountID: accountID,
		SessionID: sessionID,
		ClientIP:  clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		ErrorCode: auditErrorCode(cause),
	}
	if metadata != nil {
		record.Metadata = metadata()
	}
	e.audit.Emit(ctx, record)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func mapRateErr(err error) error {
	switch {
	case errors.Is(err, rate.ErrRateLimited):
		return ErrTooManyAttempts
	case errors.Is(err, rate.ErrRedisUnavailable):
		return ErrStoreUnavailable
	default:
		return err
	}
}
