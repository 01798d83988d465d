package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/rbac"
)

// codeAt computes the RFC 6238 code for the window `offset` steps away from
// now. Tests walk offsets forward (-1, then 0, then +1) so the persisted
// counter never blocks a later legitimate verification.
func codeAt(t *testing.T, engine *Engine, secret []byte, offset int) string {
	t.Helper()
	counter := time.Now().Unix()/int64(engine.config.TOTP.Period) + int64(offset)
	code, err := hotpCode(secret, counter, engine.config.TOTP.Digits, engine.config.TOTP.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode: %v", err)
	}
	return code
}

// wrongCodeFor returns a well-formed code that does not verify at any
// counter within the configured skew.
func wrongCodeFor(t *testing.T, engine *Engine, secret []byte) string {
	t.Helper()
	valid := make(map[string]bool)
	for off := -engine.config.TOTP.Skew; off <= engine.config.TOTP.Skew; off++ {
		valid[codeAt(t, engine, secret, off)] = true
	}
	for _, candidate := range []string{"000000", "111111", "222222", "333333"} {
		if !valid[candidate] {
			return candidate
		}
	}
	t.Fatal("no non-matching code candidate")
	return ""
}

// enableTOTP walks an account through enrollment, confirming with the
// previous window's code so later verifications at offset >= 0 still pass
// the replay check. Returns the raw secret and the plaintext backup codes.
func enableTOTP(t *testing.T, engine *Engine, provider *memProvider, accountID string) ([]byte, []string) {
	t.Helper()
	ctx := context.Background()

	if _, err := engine.SetupTOTP(ctx, accountID); err != nil {
		t.Fatalf("SetupTOTP: %v", err)
	}
	secret := provider.secretFor(accountID)
	if len(secret) == 0 {
		t.Fatal("pending secret not stored")
	}

	codes, err := engine.ConfirmTOTP(ctx, accountID, codeAt(t, engine, secret, -1))
	if err != nil {
		t.Fatalf("ConfirmTOTP: %v", err)
	}
	return secret, codes
}

func TestTOTPSetupAndConfirm(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleAdmin)
	ctx := context.Background()

	setup, err := engine.SetupTOTP(ctx, "acc-1")
	if err != nil {
		t.Fatalf("SetupTOTP: %v", err)
	}
	if setup.Secret == "" {
		t.Fatal("empty setup secret")
	}
	if !strings.HasPrefix(setup.URI, "otpauth://totp/") {
		t.Fatalf("URI = %s", setup.URI)
	}
	if !strings.Contains(setup.URI, setup.Secret) {
		t.Fatal("URI missing secret")
	}

	secret := provider.secretFor("acc-1")
	codes, err := engine.ConfirmTOTP(ctx, "acc-1", codeAt(t, engine, secret, 0))
	if err != nil {
		t.Fatalf("ConfirmTOTP: %v", err)
	}
	if len(codes) != testConfig().TOTP.BackupCodeCount {
		t.Fatalf("got %d backup codes", len(codes))
	}

	tf, err := provider.GetTwoFactor(ctx, "acc-1")
	if err != nil || !tf.Enabled {
		t.Fatalf("two-factor record = %+v, err = %v", tf, err)
	}

	if _, err := engine.SetupTOTP(ctx, "acc-1"); !errors.Is(err, ErrTOTPAlreadyEnabled) {
		t.Fatalf("second setup: %v", err)
	}
	if _, err := engine.ConfirmTOTP(ctx, "acc-1", codeAt(t, engine, secret, 1)); !errors.Is(err, ErrTOTPAlreadyEnabled) {
		t.Fatalf("second confirm: %v", err)
	}
}

func TestConfirmTOTPWithoutSetup(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleAdmin)

	if _, err := engine.ConfirmTOTP(context.Background(), "acc-1", "123456"); !errors.Is(err, ErrTOTPSetupMissing) {
		t.Fatalf("expected ErrTOTPSetupMissing, got %v", err)
	}
}

func TestConfirmTOTPRejectsWrongCode(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleAdmin)
	ctx := context.Background()

	if _, err := engine.SetupTOTP(ctx, "acc-1"); err != nil {
		t.Fatalf("SetupTOTP: %v", err)
	}
	secret := provider.secretFor("acc-1")

	if _, err := engine.ConfirmTOTP(ctx, "acc-1", wrongCodeFor(t, engine, secret)); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("expected ErrTOTPInvalid, got %v", err)
	}

	tf, _ := provider.GetTwoFactor(ctx, "acc-1")
	if tf.Enabled {
		t.Fatal("credential enabled despite failed confirmation")
	}
}

func TestPendingSecretDoesNotGateLogin(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleAdmin)
	ctx := context.Background()

	if _, err := engine.SetupTOTP(ctx, "acc-1"); err != nil {
		t.Fatalf("SetupTOTP: %v", err)
	}

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.MFARequired {
		t.Fatal("unconfirmed secret must not require a second factor")
	}
	if result.AccessToken == "" {
		t.Fatal("missing access token")
	}
}

func TestLoginWithTOTPChallenge(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleEditor)
	secret, _ := enableTOTP(t, engine, provider, "acc-1")
	ctx := context.Background()

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.MFARequired {
		t.Fatal("expected MFA challenge")
	}
	if result.AccessToken != "" || result.RefreshToken != "" {
		t.Fatal("no tokens may be issued before the second factor")
	}
	if result.MFAChallenge == "" {
		t.Fatal("missing challenge id")
	}

	confirmed, err := engine.ConfirmLogin(ctx, result.MFAChallenge, codeAt(t, engine, secret, 0))
	if err != nil {
		t.Fatalf("ConfirmLogin: %v", err)
	}
	if confirmed.AccessToken == "" || confirmed.RefreshToken == "" {
		t.Fatal("missing tokens after confirmation")
	}

	if _, err := engine.Verify(ctx, confirmed.AccessToken); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// The challenge is single-use.
	if _, err := engine.ConfirmLogin(ctx, result.MFAChallenge, codeAt(t, engine, secret, 1)); !errors.Is(err, ErrMFAChallengeNotFound) {
		t.Fatalf("expected consumed challenge, got %v", err)
	}
}

func TestTOTPCodeReplayRejected(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleEditor)
	secret, _ := enableTOTP(t, engine, provider, "acc-1")
	ctx := context.Background()

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	code := codeAt(t, engine, secret, 0)
	if _, err := engine.ConfirmLogin(ctx, result.MFAChallenge, code); err != nil {
		t.Fatalf("ConfirmLogin: %v", err)
	}

	// Same code against a fresh challenge must be refused.
	result2, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if _, err := engine.ConfirmLogin(ctx, result2.MFAChallenge, code); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("expected ErrTOTPInvalid on replay, got %v", err)
	}
}

func TestMFAChallengeAttemptBudget(t *testing.T) {
	cfg := testConfig()
	cfg.TOTP.ChallengeMaxAttempts = 2
	engine, provider, _ := newTestEngine(t, cfg)
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleEditor)
	secret, _ := enableTOTP(t, engine, provider, "acc-1")
	ctx := context.Background()

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	wrong := wrongCodeFor(t, engine, secret)

	if _, err := engine.ConfirmLogin(ctx, result.MFAChallenge, wrong); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("first attempt: %v", err)
	}
	if _, err := engine.ConfirmLogin(ctx, result.MFAChallenge, wrong); !errors.Is(err, ErrMFAAttemptsExceeded) {
		t.Fatalf("second attempt: %v", err)
	}
	// Budget exhaustion destroyed the challenge; even a valid code is dead.
	if _, err := engine.ConfirmLogin(ctx, result.MFAChallenge, codeAt(t, engine, secret, 0)); !errors.Is(err, ErrMFAChallengeNotFound) {
		t.Fatalf("third attempt: %v", err)
	}
}

func TestMFAChallengeExpires(t *testing.T) {
	engine, provider, mr := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleEditor)
	secret, _ := enableTOTP(t, engine, provider, "acc-1")
	ctx := context.Background()

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	mr.FastForward(testConfig().TOTP.ChallengeTTL + time.Second)

	if _, err := engine.ConfirmLogin(ctx, result.MFAChallenge, codeAt(t, engine, secret, 0)); !errors.Is(err, ErrMFAChallengeNotFound) {
		t.Fatalf("expected expired challenge, got %v", err)
	}
}

func TestBackupCodeSingleUse(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleEditor)
	_, codes := enableTOTP(t, engine, provider, "acc-1")
	ctx := context.Background()

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	// Backup codes are matched case-insensitively with separators ignored.
	relaxed := strings.ToLower(strings.ReplaceAll(codes[0], "-", " "))
	if _, err := engine.ConfirmLogin(ctx, result.MFAChallenge, relaxed); err != nil {
		t.Fatalf("ConfirmLogin with backup code: %v", err)
	}

	result2, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if _, err := engine.ConfirmLogin(ctx, result2.MFAChallenge, codes[0]); !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("expected consumed backup code, got %v", err)
	}
	if _, err := engine.ConfirmLogin(ctx, result2.MFAChallenge, codes[1]); err != nil {
		t.Fatalf("ConfirmLogin with next code: %v", err)
	}
}

func TestDisableTOTP(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleEditor)
	secret, _ := enableTOTP(t, engine, provider, "acc-1")
	ctx := context.Background()

	if err := engine.DisableTOTP(ctx, "acc-1", wrongCodeFor(t, engine, secret)); !errors.Is(err, ErrTOTPInvalid) {
		t.Fatalf("disable with wrong code: %v", err)
	}
	if err := engine.DisableTOTP(ctx, "acc-1", codeAt(t, engine, secret, 0)); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}

	tf, _ := provider.GetTwoFactor(ctx, "acc-1")
	if tf.Enabled {
		t.Fatal("credential still enabled")
	}

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.MFARequired {
		t.Fatal("disabled credential must not gate login")
	}

	if err := engine.DisableTOTP(ctx, "acc-1", "123456"); !errors.Is(err, ErrTOTPNotEnabled) {
		t.Fatalf("second disable: %v", err)
	}
}

func TestDisableTOTPWithBackupCode(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleEditor)
	_, codes := enableTOTP(t, engine, provider, "acc-1")

	if err := engine.DisableTOTP(context.Background(), "acc-1", codes[0]); err != nil {
		t.Fatalf("DisableTOTP: %v", err)
	}
}

func TestRegenerateBackupCodes(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleEditor)
	secret, oldCodes := enableTOTP(t, engine, provider, "acc-1")
	ctx := context.Background()

	newCodes, err := engine.RegenerateBackupCodes(ctx, "acc-1", codeAt(t, engine, secret, 0))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes: %v", err)
	}
	if len(newCodes) != testConfig().TOTP.BackupCodeCount {
		t.Fatalf("got %d codes", len(newCodes))
	}

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := engine.ConfirmLogin(ctx, result.MFAChallenge, oldCodes[0]); !errors.Is(err, ErrBackupCodeInvalid) {
		t.Fatalf("old code must be invalid, got %v", err)
	}
	if _, err := engine.ConfirmLogin(ctx, result.MFAChallenge, newCodes[0]); err != nil {
		t.Fatalf("ConfirmLogin with new code: %v", err)
	}
}

func TestRegenerateBackupCodesRequiresEnabledCredential(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleEditor)

	if _, err := engine.RegenerateBackupCodes(context.Background(), "acc-1", "123456"); !errors.Is(err, ErrTOTPNotEnabled) {
		t.Fatalf("expected ErrTOTPNotEnabled, got %v", err)
	}
}
