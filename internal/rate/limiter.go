// Package rate implements the Redis-backed fixed-window attempt counters
// that throttle credential, TOTP, and backup-code verification.
//
// Window semantics: INCR + conditional EXPIRE on the first hit. Key
// prefixes:
//   - al:u: — login per-account
//   - al:i: — login per-IP
//   - at:   — TOTP per-account
//   - ab:   — backup code per-account
package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds attempt budgets and window lengths per operation class.
type Config struct {
	EnableIPThrottle bool

	MaxLoginAttempts int
	LoginWindow      time.Duration

	MaxTOTPAttempts int
	TOTPWindow      time.Duration

	MaxBackupAttempts int
	BackupWindow      time.Duration
}

// Limiter enforces per-identifier attempt limits. All methods are safe for
// concurrent use; counters live in Redis so limits hold across instances.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, config: cfg}
}

func loginAccountKey(id string) string { return "al:u:" + id }
func loginIPKey(ip string) string      { return "al:i:" + ip }
func totpKey(id string) string         { return "at:" + id }
func backupKey(id string) string       { return "ab:" + id }

// CheckLogin reports whether the account (and, when IP throttling is on,
// the caller IP) is still within the login attempt budget.
func (l *Limiter) CheckLogin(ctx context.Context, accountID, ip string) error {
	if err := l.check(ctx, loginAccountKey(accountID), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.check(ctx, loginIPKey(ip), l.config.MaxLoginAttempts)
	}
	return nil
}

// RecordLoginFailure counts a failed login attempt. Returns ErrRateLimited
// once the budget is exceeded.
func (l *Limiter) RecordLoginFailure(ctx context.Context, accountID, ip string) error {
	count, err := l.increment(ctx, loginAccountKey(accountID), l.config.LoginWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.increment(ctx, loginIPKey(ip), l.config.LoginWindow)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxLoginAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// ResetLogin clears the failure counters after a successful login.
func (l *Limiter) ResetLogin(ctx context.Context, accountID, ip string) error {
	keys := []string{loginAccountKey(accountID)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckTOTP reports whether the account may attempt another TOTP code.
func (l *Limiter) CheckTOTP(ctx context.Context, accountID string) error {
	return l.check(ctx, totpKey(accountID), l.config.MaxTOTPAttempts)
}

// RecordTOTPFailure counts a failed TOTP verification.
func (l *Limiter) RecordTOTPFailure(ctx context.Context, accountID string) error {
	count, err := l.increment(ctx, totpKey(accountID), l.config.TOTPWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxTOTPAttempts) {
		return ErrRateLimited
	}
	return nil
}

// ResetTOTP clears the TOTP failure counter.
func (l *Limiter) ResetTOTP(ctx context.Context, accountID string) error {
	if err := l.redis.Del(ctx, totpKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// CheckBackup reports whether the account may attempt another backup code.
func (l *Limiter) CheckBackup(ctx context.Context, accountID string) error {
	return l.check(ctx, backupKey(accountID), l.config.MaxBackupAttempts)
}

// RecordBackupFailure counts a failed backup-code verification.
func (l *Limiter) RecordBackupFailure(ctx context.Context, accountID string) error {
	count, err := l.increment(ctx, backupKey(accountID), l.config.BackupWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxBackupAttempts) {
		return ErrRateLimited
	}
	return nil
}

// ResetBackup clears the backup-code failure counter.
func (l *Limiter) ResetBackup(ctx context.Context, accountID string) error {
	if err := l.redis.Del(ctx, backupKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) check(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count > int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return count, nil
}
