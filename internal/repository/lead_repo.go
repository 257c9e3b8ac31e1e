package repository

import (
	"context"
	"fmt"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"gorm.io/gorm"
)

// LeadRepository persists leads captured by the store_lead workflow action
// (workflow.LeadStore, satisfied implicitly here).
type LeadRepository interface {
	SaveLead(ctx context.Context, lead domain.LeadRecord) error
}

// GormLeadRepository implements LeadRepository using GORM.
type GormLeadRepository struct {
	db *gorm.DB
}

// NewGormLeadRepository creates a new GORM lead repository.
func NewGormLeadRepository(db *gorm.DB) *GormLeadRepository {
	return &GormLeadRepository{db: db}
}

func (r *GormLeadRepository) SaveLead(ctx context.Context, lead domain.LeadRecord) error {
	if err := r.db.WithContext(ctx).Create(&lead).Error; err != nil {
		return fmt.Errorf("failed to save lead: %w", err)
	}
	return nil
}
