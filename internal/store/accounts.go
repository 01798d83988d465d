package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/auth"
	"github.com/eis-1/electrical-supplier-website-sub003/internal/rbac"
)

// AccountStore adapts the gorm tables to the engine's AccountProvider.
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

// Create inserts a new staff account. Used by the bootstrap seed and
// operator tooling; there is no public registration. The email is stored
// in canonical form so the unique index is case-insensitive in effect.
func (s *AccountStore) Create(ctx context.Context, email, passwordHash string, role rbac.Role) (string, error) {
	if !role.Valid() {
		return "", rbac.ErrUnknownRole
	}
	account := Account{
		ID:           uuid.NewString(),
		Email:        canonicalEmail(email),
		PasswordHash: passwordHash,
		Role:         string(role),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return "", fmt.Errorf("create account: %w", err)
	}
	return account.ID, nil
}

func (s *AccountStore) GetByEmail(ctx context.Context, email string) (auth.AccountRecord, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", canonicalEmail(email)).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auth.AccountRecord{}, auth.ErrAccountNotFound
		}
		return auth.AccountRecord{}, fmt.Errorf("get account by email: %w", err)
	}
	return toAccountRecord(account)
}

func (s *AccountStore) GetByID(ctx context.Context, id string) (auth.AccountRecord, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auth.AccountRecord{}, auth.ErrAccountNotFound
		}
		return auth.AccountRecord{}, fmt.Errorf("get account: %w", err)
	}
	return toAccountRecord(account)
}

func (s *AccountStore) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	result := s.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", id).
		Update("password_hash", hash)
	if result.Error != nil {
		return fmt.Errorf("update password hash: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return auth.ErrAccountNotFound
	}
	return nil
}

func (s *AccountStore) GetTwoFactor(ctx context.Context, accountID string) (auth.TwoFactorRecord, error) {
	var cred TwoFactorCredential
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&cred).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Absent credential: the zero record.
			return auth.TwoFactorRecord{}, nil
		}
		return auth.TwoFactorRecord{}, fmt.Errorf("get two-factor credential: %w", err)
	}

	record := auth.TwoFactorRecord{
		Secret:  cred.Secret,
		Enabled: cred.Enabled,
		Counter: cred.Counter,
	}
	if cred.ConfirmedAt != nil {
		record.ConfirmedAt = *cred.ConfirmedAt
	}
	return record, nil
}

// SavePendingTwoFactorSecret upserts the credential row in the pending
// state. Re-running setup overwrites a previous pending secret and resets
// the counter.
func (s *AccountStore) SavePendingTwoFactorSecret(ctx context.Context, accountID string, secret []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&TwoFactorCredential{}).
			Where("account_id = ? AND enabled = ?", accountID, false).
			Updates(map[string]interface{}{
				"secret":       secret,
				"counter":      0,
				"confirmed_at": nil,
			})
		if result.Error != nil {
			return fmt.Errorf("save pending secret: %w", result.Error)
		}
		if result.RowsAffected > 0 {
			return nil
		}
		cred := TwoFactorCredential{AccountID: accountID, Secret: secret}
		if err := tx.Create(&cred).Error; err != nil {
			return fmt.Errorf("save pending secret: %w", err)
		}
		return nil
	})
}

func (s *AccountStore) EnableTwoFactor(ctx context.Context, accountID string, confirmedAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&TwoFactorCredential{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"enabled":      true,
			"confirmed_at": confirmedAt,
		})
	if result.Error != nil {
		return fmt.Errorf("enable two-factor: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return auth.ErrTOTPSetupMissing
	}
	return nil
}

func (s *AccountStore) DisableTwoFactor(ctx context.Context, accountID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&TwoFactorCredential{}).Error; err != nil {
			return fmt.Errorf("disable two-factor: %w", err)
		}
		if err := tx.Where("account_id = ?", accountID).Delete(&BackupCode{}).Error; err != nil {
			return fmt.Errorf("delete backup codes: %w", err)
		}
		return nil
	})
}

func (s *AccountStore) UpdateTOTPCounter(ctx context.Context, accountID string, counter int64) error {
	err := s.db.WithContext(ctx).
		Model(&TwoFactorCredential{}).
		Where("account_id = ?", accountID).
		Update("counter", counter).Error
	if err != nil {
		return fmt.Errorf("update totp counter: %w", err)
	}
	return nil
}

func (s *AccountStore) ReplaceBackupCodes(ctx context.Context, accountID string, hashes [][32]byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&BackupCode{}).Error; err != nil {
			return fmt.Errorf("clear backup codes: %w", err)
		}
		rows := make([]BackupCode, len(hashes))
		for i, hash := range hashes {
			h := hash
			rows[i] = BackupCode{AccountID: accountID, Hash: h[:]}
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("insert backup codes: %w", err)
		}
		return nil
	})
}

// ConsumeBackupCode flips the matching unconsumed row in one guarded
// UPDATE, so two concurrent verifications of the same code cannot both
// succeed.
func (s *AccountStore) ConsumeBackupCode(ctx context.Context, accountID string, hash [32]byte) (bool, error) {
	now := time.Now().UTC()
	result := s.db.WithContext(ctx).
		Model(&BackupCode{}).
		Where("account_id = ? AND hash = ? AND consumed = ?", accountID, hash[:], false).
		Updates(map[string]interface{}{
			"consumed":    true,
			"consumed_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("consume backup code: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// canonicalEmail matches the login path's normalization, so a seed email
// typed with mixed case resolves to the same row at login time.
func canonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func toAccountRecord(account Account) (auth.AccountRecord, error) {
	role, err := rbac.Parse(account.Role)
	if err != nil {
		return auth.AccountRecord{}, fmt.Errorf("account %s: %w", account.ID, err)
	}
	return auth.AccountRecord{
		ID:           account.ID,
		Email:        account.Email,
		PasswordHash: account.PasswordHash,
		Role:         role,
		CreatedAt:    account.CreatedAt,
	}, nil
}
