package store

import (
	"context"
	"encoding/json"

	"gorm.io/gorm"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/auth"
)

// GormSink persists audit events. It runs on the dispatcher goroutine, so
// a slow database delays the audit queue, never request handling. Write
// failures are dropped; the slog mirror in the MultiSink still has the
// event.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (s *GormSink) Emit(ctx context.Context, event auth.AuditEvent) {
	var metadata []byte
	if len(event.Metadata) > 0 {
		metadata, _ = json.Marshal(event.Metadata)
	}

	row := AuditLog{
		Time:      event.Time,
		Event:     event.Event,
		Success:   event.Success,
		AccountID: event.AccountID,
		SessionID: event.SessionID,
		ClientIP:  event.ClientIP,
		UserAgent: event.UserAgent,
		ErrorCode: event.ErrorCode,
		Metadata:  metadata,
	}
	_ = s.db.WithContext(ctx).Create(&row).Error
}
