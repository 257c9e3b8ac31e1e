package repository

import (
	"context"
	"strings"

	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PriceListRepository resolves a tenant's pricing catalogue for the
// build_quote workflow action (workflow.PriceList, satisfied implicitly
// here; spec.md §4.H "build_quote": tenant pricing loaded from the control
// plane's store).
type PriceListRepository interface {
	PriceFor(ctx context.Context, tenantID, description string) (unitPrice, taxRate float64, found bool)
}

// GormPriceListRepository implements PriceListRepository using GORM.
type GormPriceListRepository struct {
	db *gorm.DB
}

// NewGormPriceListRepository creates a new GORM price list repository.
func NewGormPriceListRepository(db *gorm.DB) *GormPriceListRepository {
	return &GormPriceListRepository{db: db}
}

// PriceFor matches description against the tenant's catalogue, preferring an
// exact case-insensitive match and falling back to a substring match so a
// quote line like "2x premium install" can still resolve against a
// catalogue entry named "premium install".
func (r *GormPriceListRepository) PriceFor(ctx context.Context, tenantID, description string) (float64, float64, bool) {
	type row struct {
		Description string
		UnitPrice   float64
		TaxRate     float64
	}
	var rows []row

	err := r.db.WithContext(ctx).
		Table("price_list_items").
		Select("description, unit_price, tax_rate").
		Where("tenant_id = ?", tenantID).
		Find(&rows).Error
	if err != nil {
		logger.Base().Error("failed to load price list", zap.String("tenant_id", tenantID), zap.Error(err))
		return 0, 0, false
	}

	needle := strings.ToLower(strings.TrimSpace(description))
	if needle == "" {
		return 0, 0, false
	}

	for _, row := range rows {
		if strings.ToLower(row.Description) == needle {
			return row.UnitPrice, row.TaxRate, true
		}
	}
	for _, row := range rows {
		haystack := strings.ToLower(row.Description)
		if strings.Contains(needle, haystack) || strings.Contains(haystack, needle) {
			return row.UnitPrice, row.TaxRate, true
		}
	}
	return 0, 0, false
}
