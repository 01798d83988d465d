package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/password"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/rbac"
)

// memProvider is an in-memory AccountProvider for engine tests.
type memProvider struct {
	mu        sync.Mutex
	accounts  map[string]AccountRecord
	byEmail   map[string]string
	twoFactor map[string]TwoFactorRecord
	backup    map[string][]backupRow
}

type backupRow struct {
	hash     [32]byte
	consumed bool
}

func newMemProvider() *memProvider {
	return &memProvider{
		accounts:  make(map[string]AccountRecord),
		byEmail:   make(map[string]string),
		twoFactor: make(map[string]TwoFactorRecord),
		backup:    make(map[string][]backupRow),
	}
}

func (p *memProvider) GetByEmail(_ context.Context, email string) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.byEmail[email]
	if !ok {
		return AccountRecord{}, ErrAccountNotFound
	}
	return p.accounts[id], nil
}

func (p *memProvider) GetByID(_ context.Context, id string) (AccountRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[id]
	if !ok {
		return AccountRecord{}, ErrAccountNotFound
	}
	return acc, nil
}

func (p *memProvider) UpdatePasswordHash(_ context.Context, id, hash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	acc, ok := p.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	acc.PasswordHash = hash
	p.accounts[id] = acc
	return nil
}

func (p *memProvider) GetTwoFactor(_ context.Context, accountID string) (TwoFactorRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.twoFactor[accountID], nil
}

func (p *memProvider) SavePendingTwoFactorSecret(_ context.Context, accountID string, secret []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.twoFactor[accountID] = TwoFactorRecord{Secret: secret}
	return nil
}

func (p *memProvider) EnableTwoFactor(_ context.Context, accountID string, confirmedAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	tf := p.twoFactor[accountID]
	tf.Enabled = true
	tf.ConfirmedAt = confirmedAt
	p.twoFactor[accountID] = tf
	return nil
}

func (p *memProvider) DisableTwoFactor(_ context.Context, accountID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.twoFactor, accountID)
	delete(p.backup, accountID)
	return nil
}

func (p *memProvider) UpdateTOTPCounter(_ context.Context, accountID string, counter int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	tf := p.twoFactor[accountID]
	tf.Counter = counter
	p.twoFactor[accountID] = tf
	return nil
}

func (p *memProvider) ReplaceBackupCodes(_ context.Context, accountID string, hashes [][32]byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	rows := make([]backupRow, len(hashes))
	for i, h := range hashes {
		rows[i] = backupRow{hash: h}
	}
	p.backup[accountID] = rows
	return nil
}

func (p *memProvider) ConsumeBackupCode(_ context.Context, accountID string, hash [32]byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rows := p.backup[accountID]
	for i := range rows {
		if rows[i].hash == hash && !rows[i].consumed {
			rows[i].consumed = true
			return true, nil
		}
	}
	return false, nil
}

func (p *memProvider) secretFor(accountID string) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.twoFactor[accountID].Secret
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.Secret = []byte("0123456789abcdef0123456789abcdef")
	// Cheap argon2 parameters keep the suite fast.
	cfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *memProvider, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	provider := newMemProvider()
	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccounts(provider).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return engine, provider, mr
}

func addAccount(t *testing.T, provider *memProvider, id, email, plaintext string, role rbac.Role) {
	t.Helper()
	hasher, err := password.New(testConfig().Password)
	if err != nil {
		t.Fatalf("password.New: %v", err)
	}
	hash, err := hasher.Hash(plaintext)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	provider.mu.Lock()
	defer provider.mu.Unlock()
	provider.accounts[id] = AccountRecord{ID: id, Email: email, PasswordHash: hash, Role: role, CreatedAt: time.Now()}
	provider.byEmail[email] = id
}

func TestLoginIssuesTokensWithoutTwoFactor(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleAdmin)
	ctx := context.Background()

	result, err := engine.Login(ctx, "Ops@Example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.MFARequired {
		t.Fatal("unexpected MFA requirement")
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Fatal("missing tokens")
	}
	if result.AccessToken == result.RefreshToken {
		t.Fatal("access and refresh tokens must differ")
	}
	if result.Role != rbac.RoleAdmin {
		t.Fatalf("role = %s", result.Role)
	}

	principal, err := engine.Verify(ctx, result.AccessToken)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if principal.AccountID != "acc-1" || principal.Role != rbac.RoleAdmin {
		t.Fatalf("principal = %+v", principal)
	}
}

func TestLoginFailureIsGeneric(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleAdmin)
	ctx := context.Background()

	_, wrongPass := engine.Login(ctx, "ops@example.com", "not-the-password")
	_, unknown := engine.Login(ctx, "ghost@example.com", "not-the-password")

	if !errors.Is(wrongPass, ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", wrongPass)
	}
	if !errors.Is(unknown, ErrInvalidCredentials) {
		t.Fatalf("unknown email: %v", unknown)
	}
	if wrongPass.Error() != unknown.Error() {
		t.Fatal("failure messages must be indistinguishable")
	}
}

func TestLoginRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.Limits.MaxLoginAttempts = 2
	engine, provider, _ := newTestEngine(t, cfg)
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleAdmin)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := engine.Login(ctx, "ops@example.com", "bad"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if _, err := engine.Login(ctx, "ops@example.com", "bad"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
	// Even the correct password is throttled now.
	if _, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!"); !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected throttle on correct password, got %v", err)
	}
}

func TestRefreshRotatesAndDetectsReuse(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleEditor)
	ctx := context.Background()

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	pair, err := engine.Refresh(ctx, result.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.RefreshToken == result.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// The pre-rotation token is now evidence of theft.
	if _, err := engine.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("expected ErrRefreshReuse, got %v", err)
	}

	// Reuse destroyed the whole session; the rotated token is dead too.
	if _, err := engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after reuse, got %v", err)
	}
}

func TestConcurrentRefreshSingleRotation(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleEditor)
	ctx := context.Background()

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Two clients race the same refresh token. The rotation script is
	// atomic, so exactly one wins; the loser reads as token reuse.
	errs := make([]error, 2)
	pairs := make([]*TokenPair, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pair, err := engine.Refresh(ctx, result.RefreshToken)
			pairs[i], errs[i] = pair, err
		}(i)
	}
	wg.Wait()

	var winner *TokenPair
	rotations, reuses := 0, 0
	for i := range errs {
		switch {
		case errs[i] == nil:
			rotations++
			winner = pairs[i]
		case errors.Is(errs[i], ErrRefreshReuse):
			reuses++
		default:
			t.Fatalf("unexpected error: %v", errs[i])
		}
	}
	if rotations != 1 || reuses != 1 {
		t.Fatalf("rotations = %d, reuses = %d; want exactly one of each", rotations, reuses)
	}

	// The detected reuse destroyed the session, so even the winner's
	// rotated token is dead.
	if _, err := engine.Refresh(ctx, winner.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after reuse, got %v", err)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, err := engine.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrRefreshInvalid) {
		t.Fatalf("expected ErrRefreshInvalid, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleViewer)
	ctx := context.Background()

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := engine.Logout(ctx, result.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := engine.Logout(ctx, result.RefreshToken); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if err := engine.Logout(ctx, "garbage"); err != nil {
		t.Fatalf("Logout(garbage): %v", err)
	}

	if _, err := engine.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected dead session, got %v", err)
	}
}

func TestSessionExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.Session.TTL = time.Hour
	engine, provider, mr := newTestEngine(t, cfg)
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleViewer)
	ctx := context.Background()

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	if _, err := engine.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected expired session, got %v", err)
	}
}

func TestAuthorizeDistinctFromAuthentication(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	viewer := Principal{AccountID: "acc-1", Role: rbac.RoleViewer}
	if err := engine.Authorize(ctx, viewer, rbac.RoleAdmin, "accounts.manage"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := engine.Authorize(ctx, viewer, rbac.RoleViewer, "catalog.read"); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}
}

func TestVerifyRejectsForgedToken(t *testing.T) {
	engine, _, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	if _, err := engine.Verify(ctx, "abc.def.ghi"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	addAccount(t, provider, "acc-1", "ops@example.com", "pass-for-ops!", rbac.RoleAdmin)
	ctx := context.Background()

	result, err := engine.Login(ctx, "ops@example.com", "pass-for-ops!")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := engine.ChangePassword(ctx, "acc-1", "wrong-password", "new-pass-for-ops!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := engine.ChangePassword(ctx, "acc-1", "pass-for-ops!", "new-pass-for-ops!"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if _, err := engine.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected revoked session, got %v", err)
	}
	if _, err := engine.Login(ctx, "ops@example.com", "new-pass-for-ops!"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestBcryptHashUpgradedOnLogin(t *testing.T) {
	engine, provider, _ := newTestEngine(t, testConfig())
	ctx := context.Background()

	legacy := "$2a$04$SqH/K9nL0Zg3cWQBkXBpm.7uPuKKrIg8ccIAvJOfkRmVCpjFyDW7m"
	provider.mu.Lock()
	provider.accounts["acc-1"] = AccountRecord{ID: "acc-1", Email: "legacy@example.com", PasswordHash: legacy, Role: rbac.RoleViewer}
	provider.byEmail["legacy@example.com"] = "acc-1"
	provider.mu.Unlock()

	// Wrong password against a bcrypt hash is still a generic failure.
	if _, err := engine.Login(ctx, "legacy@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
