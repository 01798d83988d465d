package store

import (
	"time"
)

// Account is a staff login. Customers never get accounts; the public
// surface is the quote form only.
type Account struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null"`
	Role         string `gorm:"not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TwoFactorCredential holds one TOTP enrollment per account. A row with
// Enabled=false is a pending setup and never gates login.
type TwoFactorCredential struct {
	AccountID   string `gorm:"type:uuid;primaryKey"`
	Secret      []byte `gorm:"not null"`
	Enabled     bool   `gorm:"not null;default:false"`
	ConfirmedAt *time.Time
	Counter     int64 `gorm:"not null;default:0"`
	UpdatedAt   time.Time
}

// BackupCode is one recovery credential. Only the salted hash is stored;
// Consumed flips exactly once under a guarded UPDATE.
type BackupCode struct {
	ID         uint   `gorm:"primaryKey"`
	AccountID  string `gorm:"type:uuid;index;not null"`
	Hash       []byte `gorm:"uniqueIndex;size:32;not null"`
	Consumed   bool   `gorm:"not null;default:false"`
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// QuoteRequest is an accepted quote submission headed for the sales
// pipeline. Rejected submissions are never persisted.
type QuoteRequest struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"index;not null"`
	Phone     string
	Company   string
	Message   string
	Items     []byte `gorm:"type:jsonb"`
	ClientIP  string
	CreatedAt time.Time
}

// AuditLog mirrors audit events into Postgres for retention beyond the
// service log.
type AuditLog struct {
	ID        uint      `gorm:"primaryKey"`
	Time      time.Time `gorm:"index;not null"`
	Event     string    `gorm:"index;not null"`
	Success   bool      `gorm:"not null"`
	AccountID string    `gorm:"index"`
	SessionID string
	ClientIP  string
	UserAgent string
	ErrorCode string
	Metadata  []byte `gorm:"type:jsonb"`
}
