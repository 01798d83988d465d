// Package quotegate screens public quote-request submissions before they
// reach the sales pipeline. Every rule rejects with the same generic error
// so callers leak nothing to the submitter; the specific rule that fired
// is recorded internally through the audit sink.
//
// Redis keys:
//
//	qg:fp:<hex>    duplicate-submission fingerprint, SET NX with window TTL
//	qg:day:<email> accepted-submission counter, 24h fixed window
package quotegate

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/auth"
)

// ErrQuoteRejected is the only rejection callers see. Which rule fired is
// audit-internal.
var ErrQuoteRejected = errors.New("quote request rejected")

const (
	fingerprintKeyPrefix = "qg:fp:"
	dailyKeyPrefix       = "qg:day:"
	dailyWindow          = 24 * time.Hour
)

// Rejection rule names as they appear in audit metadata.
const (
	ruleHoneypot    = "honeypot"
	ruleTooFast     = "timing_fast"
	ruleStale       = "timing_stale"
	ruleField       = "field_unexpected"
	ruleDuplicate   = "duplicate"
	ruleDailyCap    = "daily_cap"
	ruleStoreFailed = "store_unavailable"
)

type Config struct {
	// MinFillTime rejects submissions completed faster than a human types.
	MinFillTime time.Duration
	// MaxFormAge rejects submissions from forms rendered too long ago.
	MaxFormAge time.Duration
	// DuplicateWindow is how long an identical fingerprint stays blocked.
	DuplicateWindow time.Duration
	// DailyCap is the maximum accepted submissions per email per 24h.
	DailyCap int
	// AllowedFields whitelists extra form field names. Anything else is
	// treated as bot payload.
	AllowedFields []string
	// FailOpen accepts submissions when Redis is down instead of
	// rejecting them. Off unless sales explicitly prefers spam over
	// lost leads.
	FailOpen bool
}

func DefaultConfig() Config {
	return Config{
		MinFillTime:     1500 * time.Millisecond,
		MaxFormAge:      time.Hour,
		DuplicateWindow: 10 * time.Minute,
		DailyCap:        5,
	}
}

func (c *Config) validate() error {
	if c.MinFillTime <= 0 {
		return errors.New("quotegate: MinFillTime must be positive")
	}
	if c.MaxFormAge <= c.MinFillTime {
		return errors.New("quotegate: MaxFormAge must exceed MinFillTime")
	}
	if c.DuplicateWindow <= 0 {
		return errors.New("quotegate: DuplicateWindow must be positive")
	}
	if c.DailyCap < 1 {
		return errors.New("quotegate: DailyCap must be at least 1")
	}
	return nil
}

// Item is one requested catalog line.
type Item struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// Submission is a parsed quote-request form. Website is the honeypot
// field: hidden from humans, so any value means a bot filled it.
type Submission struct {
	Email      string
	Phone      string
	Company    string
	Message    string
	Items      []Item
	Website    string
	RenderedAt time.Time
	ClientIP   string
	Extra      map[string]string
}

// Counters tracks gate outcomes per rule.
type Counters struct {
	Accepted    atomic.Uint64
	Honeypot    atomic.Uint64
	Timing      atomic.Uint64
	Fields      atomic.Uint64
	Duplicates  atomic.Uint64
	DailyCapped atomic.Uint64
	StoreErrors atomic.Uint64
}

func (c *Counters) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"accepted":     c.Accepted.Load(),
		"honeypot":     c.Honeypot.Load(),
		"timing":       c.Timing.Load(),
		"fields":       c.Fields.Load(),
		"duplicates":   c.Duplicates.Load(),
		"daily_capped": c.DailyCapped.Load(),
		"store_errors": c.StoreErrors.Load(),
	}
}

// Gate runs the anti-abuse checks in fixed order: honeypot, timing, field
// whitelist, duplicate fingerprint, daily cap. The cheap in-memory rules
// run first so obvious bots never touch Redis.
type Gate struct {
	config   Config
	redis    redis.UniversalClient
	audit    auth.AuditSink
	counters *Counters
	allowed  map[string]bool
}

func New(redisClient redis.UniversalClient, cfg Config, sink auth.AuditSink) (*Gate, error) {
	if redisClient == nil {
		return nil, errors.New("quotegate: redis client required")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = auth.NoOpSink{}
	}

	allowed := make(map[string]bool, len(cfg.AllowedFields))
	for _, name := range cfg.AllowedFields {
		allowed[strings.ToLower(name)] = true
	}

	return &Gate{
		config:   cfg,
		redis:    redisClient,
		audit:    sink,
		counters: &Counters{},
		allowed:  allowed,
	}, nil
}

func (g *Gate) Counters() *Counters { return g.counters }

// Check screens one submission. A nil return means the request may enter
// the pipeline; any rejection is the generic ErrQuoteRejected.
func (g *Gate) Check(ctx context.Context, sub *Submission) error {
	if sub == nil {
		return ErrQuoteRejected
	}
	email := normalizeEmail(sub.Email)

	if sub.Website != "" {
		g.counters.Honeypot.Add(1)
		return g.reject(ctx, sub, ruleHoneypot)
	}

	if rule := g.checkTiming(sub.RenderedAt); rule != "" {
		g.counters.Timing.Add(1)
		return g.reject(ctx, sub, rule)
	}

	for name := range sub.Extra {
		if !g.allowed[strings.ToLower(name)] {
			g.counters.Fields.Add(1)
			return g.reject(ctx, sub, ruleField)
		}
	}

	fresh, fpKey, err := g.claimFingerprint(ctx, sub, email)
	if err != nil {
		return g.storeFailure(ctx, sub, err)
	}
	if !fresh {
		g.counters.Duplicates.Add(1)
		return g.reject(ctx, sub, ruleDuplicate)
	}

	capped, err := g.bumpDailyCount(ctx, email)
	if err != nil {
		return g.storeFailure(ctx, sub, err)
	}
	if capped {
		// Nothing was accepted, so release the fingerprint claim: a later
		// retry should be judged by the cap alone, not held as a duplicate.
		g.redis.Del(ctx, fpKey)
		g.counters.DailyCapped.Add(1)
		return g.reject(ctx, sub, ruleDailyCap)
	}

	g.counters.Accepted.Add(1)
	g.audit.Emit(ctx, auth.AuditEvent{
		Time:     time.Now().UTC(),
		Event:    auth.EventQuoteAccepted,
		Success:  true,
		ClientIP: sub.ClientIP,
		Metadata: map[string]string{"email": auth.MaskEmail(email)},
	})
	return nil
}

func (g *Gate) checkTiming(renderedAt time.Time) string {
	if renderedAt.IsZero() {
		// No render timestamp at all reads as a scripted POST.
		return ruleTooFast
	}
	elapsed := time.Since(renderedAt)
	if elapsed < g.config.MinFillTime {
		return ruleTooFast
	}
	if elapsed > g.config.MaxFormAge {
		return ruleStale
	}
	return ""
}

// claimFingerprint reserves the submission's content fingerprint with
// SET NX, so two identical submissions race and only the first wins. The
// key is returned so a later rule can drop the claim when the submission
// ends up rejected anyway.
func (g *Gate) claimFingerprint(ctx context.Context, sub *Submission, email string) (bool, string, error) {
	fp := fingerprint(email, sub.Phone)
	key := fingerprintKeyPrefix + hex.EncodeToString(fp[:])
	ok, err := g.redis.SetNX(ctx, key, 1, g.config.DuplicateWindow).Result()
	if err != nil {
		return false, key, fmt.Errorf("fingerprint claim: %w", err)
	}
	return ok, key, nil
}

// bumpDailyCount counts this acceptance toward the email's 24h budget.
// The window is anchored at the first accepted submission; the key
// expires on its own.
func (g *Gate) bumpDailyCount(ctx context.Context, email string) (bool, error) {
	key := dailyKeyPrefix + email
	count, err := g.redis.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("daily count: %w", err)
	}
	if count == 1 {
		if err := g.redis.Expire(ctx, key, dailyWindow).Err(); err != nil {
			return false, fmt.Errorf("daily count expire: %w", err)
		}
	}
	return count > int64(g.config.DailyCap), nil
}

func (g *Gate) reject(ctx context.Context, sub *Submission, rule string) error {
	g.audit.Emit(ctx, auth.AuditEvent{
		Time:     time.Now().UTC(),
		Event:    auth.EventQuoteRejected,
		Success:  false,
		ClientIP: sub.ClientIP,
		Metadata: map[string]string{
			"rule":  rule,
			"email": auth.MaskEmail(normalizeEmail(sub.Email)),
		},
	})
	return ErrQuoteRejected
}

func (g *Gate) storeFailure(ctx context.Context, sub *Submission, cause error) error {
	g.counters.StoreErrors.Add(1)
	g.audit.Emit(ctx, auth.AuditEvent{
		Time:      time.Now().UTC(),
		Event:     auth.EventQuoteRejected,
		Success:   false,
		ClientIP:  sub.ClientIP,
		ErrorCode: ruleStoreFailed,
		Metadata:  map[string]string{"rule": ruleStoreFailed, "cause": cause.Error()},
	})
	if g.config.FailOpen {
		return nil
	}
	return ErrQuoteRejected
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
