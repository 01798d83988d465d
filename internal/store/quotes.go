package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/eis-1/electrical-supplier-website-sub003/internal/quotegate"
)

// QuoteStore persists accepted quote submissions.
type QuoteStore struct {
	db *gorm.DB
}

func NewQuoteStore(db *gorm.DB) *QuoteStore {
	return &QuoteStore{db: db}
}

// Save records an accepted submission and returns its ID.
func (s *QuoteStore) Save(ctx context.Context, sub *quotegate.Submission) (string, error) {
	items, err := json.Marshal(sub.Items)
	if err != nil {
		return "", fmt.Errorf("marshal quote items: %w", err)
	}

	row := QuoteRequest{
		ID:       uuid.NewString(),
		Email:    sub.Email,
		Phone:    sub.Phone,
		Company:  sub.Company,
		Message:  sub.Message,
		Items:    items,
		ClientIP: sub.ClientIP,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", fmt.Errorf("save quote request: %w", err)
	}
	return row.ID, nil
}
