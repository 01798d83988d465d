package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Audit event names. One event is emitted per security-relevant outcome;
// request-validation failures are deliberately not audited.
const (
	EventLoginSuccess    = "login_success"
	EventLoginFailed     = "login_failed"
	EventMFARequired     = "mfa_required"
	EventMFALoginSuccess = "mfa_login_success"
	EventMFALoginFailed  = "mfa_login_failed"
	EventTokenRefreshed  = "token_refreshed"
	EventRefreshReuse    = "refresh_reuse_detected"
	EventLogout          = "logout"

	EventTOTPSetupStarted     = "totp_setup_started"
	EventTOTPEnabled          = "totp_enabled"
	EventTOTPDisabled         = "totp_disabled"
	EventBackupCodesGenerated = "backup_codes_generated"
	EventBackupCodeUsed       = "backup_code_used"

	EventPasswordChanged = "password_changed"
	EventAccessDenied    = "access_denied"

	EventQuoteAccepted = "quote_accepted"
	EventQuoteRejected = "quote_rejected"
)

// AuditEvent is one append-only security record. Metadata never contains
// credentials or codes; identifying context is masked by the emitter.
type AuditEvent struct {
	Time      time.Time         `json:"time"`
	Event     string            `json:"event"`
	Success   bool              `json:"success"`
	AccountID string            `json:"account_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	ClientIP  string            `json:"client_ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives events from the dispatcher goroutine. Emit must not
// panic; slow sinks cause drops when DropIfFull is set, not backpressure
// on request handling.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// JSONWriterSink writes one JSON object per line to w.
type JSONWriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{w: w}
}

func (s *JSONWriterSink) Emit(_ context.Context, event AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(data)
}

// SlogSink mirrors audit events into the structured service log.
type SlogSink struct {
	Logger *slog.Logger
}

func (s SlogSink) Emit(ctx context.Context, event AuditEvent) {
	if s.Logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("event", event.Event),
		slog.Bool("success", event.Success),
	}
	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.ClientIP != "" {
		attrs = append(attrs, slog.String("client_ip", event.ClientIP))
	}
	if event.ErrorCode != "" {
		attrs = append(attrs, slog.String("error_code", event.ErrorCode))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}
	s.Logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// MultiSink fans one event out to several sinks.
type MultiSink []AuditSink

func (m MultiSink) Emit(ctx context.Context, event AuditEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, event)
		}
	}
}

// auditErrorCode maps engine errors to stable codes for operators. Unknown
// errors collapse to "internal" so sink consumers never see raw messages.
func auditErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrTooManyAttempts):
		return "rate_limited"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrRefreshInvalid):
		return "refresh_invalid"
	case errors.Is(err, ErrRefreshReuse):
		return "refresh_reuse"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrMFAChallengeNotFound):
		return "mfa_challenge_not_found"
	case errors.Is(err, ErrMFAChallengeExpired):
		return "mfa_challenge_expired"
	case errors.Is(err, ErrMFAAttemptsExceeded):
		return "mfa_attempts_exceeded"
	case errors.Is(err, ErrTOTPInvalid):
		return "totp_invalid"
	case errors.Is(err, ErrTOTPNotEnabled):
		return "totp_not_enabled"
	case errors.Is(err, ErrTOTPAlreadyEnabled):
		return "totp_already_enabled"
	case errors.Is(err, ErrTOTPSetupMissing):
		return "totp_setup_missing"
	case errors.Is(err, ErrBackupCodeInvalid):
		return "backup_code_invalid"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	default:
		return "internal"
	}
}

// MaskEmail keeps the first rune and domain so operators can correlate
// events without the sink holding full addresses.
func MaskEmail(email string) string {
	at := -1
	for i, r := range email {
		if r == '@' {
			at = i
			break
		}
	}
	if at <= 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
