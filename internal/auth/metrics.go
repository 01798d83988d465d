package auth

import "sync/atomic"

// Metrics holds in-process counters for the engine's security outcomes.
// Counters are monotonic; Snapshot is for exposition and diagnostics.
type Metrics struct {
	LoginSuccess     atomic.Uint64
	LoginFailed      atomic.Uint64
	MFAChallenges    atomic.Uint64
	MFAFailed        atomic.Uint64
	RefreshRotations atomic.Uint64
	RefreshReuse     atomic.Uint64
	TOTPEnabled      atomic.Uint64
	TOTPDisabled     atomic.Uint64
	BackupCodesUsed  atomic.Uint64
	AccessDenied     atomic.Uint64
}

func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	return map[string]uint64{
		"login_success":     m.LoginSuccess.Load(),
		"login_failed":      m.LoginFailed.Load(),
		"mfa_challenges":    m.MFAChallenges.Load(),
		"mfa_failed":        m.MFAFailed.Load(),
		"refresh_rotations": m.RefreshRotations.Load(),
		"refresh_reuse":     m.RefreshReuse.Load(),
		"totp_enabled":      m.TOTPEnabled.Load(),
		"totp_disabled":     m.TOTPDisabled.Load(),
		"backup_codes_used": m.BackupCodesUsed.Load(),
		"access_denied":     m.AccessDenied.Load(),
	}
}
