package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CallHistoryRepository persists terminal call records and the monthly
// per-tenant usage rollup (spec.md §4.I "Call History & Analytics").
type CallHistoryRepository interface {
	// Create inserts a call_history row. It is idempotent on call_id: a
	// duplicate insert (retried terminal hook) is a no-op, not an error.
	Create(ctx context.Context, h *domain.CallHistory) error
	IncrementUsage(ctx context.Context, tenantID, period string, callMinutes, sttMinutes float64, ttsCharacters int64) error
}

// GormCallHistoryRepository implements CallHistoryRepository using GORM.
type GormCallHistoryRepository struct {
	db *gorm.DB
}

// NewGormCallHistoryRepository creates a new GORM call history repository.
func NewGormCallHistoryRepository(db *gorm.DB) *GormCallHistoryRepository {
	return &GormCallHistoryRepository{db: db}
}

func (r *GormCallHistoryRepository) Create(ctx context.Context, h *domain.CallHistory) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "call_id"}},
		DoNothing: true,
	}).Create(h).Error
	if err != nil {
		return fmt.Errorf("failed to create call history: %w", err)
	}
	return nil
}

// IncrementUsage upserts the tenant_usage row for (tenantID, period), adding
// the given deltas to any existing counters.
func (r *GormCallHistoryRepository) IncrementUsage(ctx context.Context, tenantID, period string, callMinutes, sttMinutes float64, ttsCharacters int64) error {
	usage := domain.TenantUsage{
		TenantID:      tenantID,
		Period:        period,
		CallCount:     1,
		CallMinutes:   callMinutes,
		SttMinutes:    sttMinutes,
		TtsCharacters: ttsCharacters,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}, {Name: "period"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"call_count":     gorm.Expr("tenant_usage.call_count + 1"),
			"call_minutes":   gorm.Expr("tenant_usage.call_minutes + ?", callMinutes),
			"stt_minutes":    gorm.Expr("tenant_usage.stt_minutes + ?", sttMinutes),
			"tts_characters": gorm.Expr("tenant_usage.tts_characters + ?", ttsCharacters),
		}),
	}).Create(&usage).Error
	if err != nil {
		return fmt.Errorf("failed to increment tenant usage: %w", err)
	}
	return nil
}

// CurrentPeriod formats a time.Time as the "YYYY-MM" usage period key.
func CurrentPeriod(t time.Time) string {
	return t.Format("2006-01")
}
