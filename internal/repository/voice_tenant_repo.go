package repository

import (
	"context"
	"fmt"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"gorm.io/gorm"
)

// TenantRepository defines the control-plane operations on voice_tenants,
// trimmed from the teacher's VoiceTenantRepository (internal/repository/db.go)
// to this runtime's read-mostly tenant row (spec.md §3 "Tenant").
type TenantRepository interface {
	GetByTenantID(ctx context.Context, tenantID string) (*domain.VoiceTenant, error)
	GetAll(ctx context.Context, includeDisabled bool) ([]*domain.VoiceTenant, error)
	Create(ctx context.Context, tenant *domain.VoiceTenant) error
	UpdateConfig(ctx context.Context, tenantID string, config domain.JSONB) error
	SetDisabled(ctx context.Context, tenantID string, disabled bool) error
}

// GormTenantRepository implements TenantRepository using GORM.
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new GORM tenant repository.
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

func (r *GormTenantRepository) GetByTenantID(ctx context.Context, tenantID string) (*domain.VoiceTenant, error) {
	var tenant domain.VoiceTenant
	if err := r.db.WithContext(ctx).First(&tenant, "tenant_id = ?", tenantID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("voice tenant not found: %s", tenantID)
		}
		return nil, fmt.Errorf("failed to get voice tenant: %w", err)
	}
	return &tenant, nil
}

func (r *GormTenantRepository) GetAll(ctx context.Context, includeDisabled bool) ([]*domain.VoiceTenant, error) {
	var tenants []*domain.VoiceTenant
	query := r.db.WithContext(ctx)
	if !includeDisabled {
		query = query.Where("disabled = ?", false)
	}
	if err := query.Order("created_at DESC").Find(&tenants).Error; err != nil {
		return nil, fmt.Errorf("failed to list voice tenants: %w", err)
	}
	return tenants, nil
}

func (r *GormTenantRepository) Create(ctx context.Context, tenant *domain.VoiceTenant) error {
	if err := r.db.WithContext(ctx).Create(tenant).Error; err != nil {
		return fmt.Errorf("failed to create voice tenant: %w", err)
	}
	return nil
}

func (r *GormTenantRepository) UpdateConfig(ctx context.Context, tenantID string, config domain.JSONB) error {
	result := r.db.WithContext(ctx).Model(&domain.VoiceTenant{}).Where("tenant_id = ?", tenantID).Update("config", config)
	if result.Error != nil {
		return fmt.Errorf("failed to update voice tenant config: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("voice tenant not found: %s", tenantID)
	}
	return nil
}

func (r *GormTenantRepository) SetDisabled(ctx context.Context, tenantID string, disabled bool) error {
	result := r.db.WithContext(ctx).Model(&domain.VoiceTenant{}).Where("tenant_id = ?", tenantID).Update("disabled", disabled)
	if result.Error != nil {
		return fmt.Errorf("failed to update voice tenant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("voice tenant not found: %s", tenantID)
	}
	return nil
}
