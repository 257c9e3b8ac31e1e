package repository

import (
	"context"

	"gorm.io/gorm"
)

// RepositoryManager combines all repositories behind a single connection,
// grounded on the teacher's RepositoryManager/GormRepositoryManager shape
// (internal/repository/db.go) but re-scoped to this runtime's control-plane
// tables instead of the WhatsApp tenant/agent/conversation tables.
type RepositoryManager interface {
	Tenant() TenantRepository
	CallHistory() CallHistoryRepository
	Workflow() WorkflowRepository
	Lead() LeadRepository
	PriceList() PriceListRepository

	// WithTx executes fn within a database transaction, handing it a
	// RepositoryManager bound to the transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error

	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// GormRepositoryManager implements RepositoryManager using GORM.
type GormRepositoryManager struct {
	db              *gorm.DB
	tenantRepo      *GormTenantRepository
	callHistoryRepo *GormCallHistoryRepository
	workflowRepo    *GormWorkflowRepository
	leadRepo        *GormLeadRepository
	priceListRepo   *GormPriceListRepository
}

// NewGormRepositoryManager creates a new GORM repository manager bound to db.
func NewGormRepositoryManager(db *gorm.DB) *GormRepositoryManager {
	return &GormRepositoryManager{
		db:              db,
		tenantRepo:      NewGormTenantRepository(db),
		callHistoryRepo: NewGormCallHistoryRepository(db),
		workflowRepo:    NewGormWorkflowRepository(db),
		leadRepo:        NewGormLeadRepository(db),
		priceListRepo:   NewGormPriceListRepository(db),
	}
}

func (m *GormRepositoryManager) Tenant() TenantRepository           { return m.tenantRepo }
func (m *GormRepositoryManager) CallHistory() CallHistoryRepository { return m.callHistoryRepo }
func (m *GormRepositoryManager) Workflow() WorkflowRepository       { return m.workflowRepo }
func (m *GormRepositoryManager) Lead() LeadRepository               { return m.leadRepo }
func (m *GormRepositoryManager) PriceList() PriceListRepository     { return m.priceListRepo }

// WithTx executes fn within a database transaction.
func (m *GormRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, repos RepositoryManager) error) error {
	return m.db.Transaction(func(tx *gorm.DB) error {
		txManager := NewGormRepositoryManager(tx)
		return fn(ctx, txManager)
	})
}

// Ping checks the database connection.
func (m *GormRepositoryManager) Ping(ctx context.Context) error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (m *GormRepositoryManager) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
