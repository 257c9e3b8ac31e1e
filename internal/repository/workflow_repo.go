package repository

import (
	"context"
	"fmt"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"gorm.io/gorm"
)

// WorkflowRepository is the persistence surface workflow.Engine depends on
// (internal/workflow/engine.go's Repository interface, satisfied implicitly
// here rather than imported, to keep repository a leaf package).
type WorkflowRepository interface {
	EnabledWorkflows(tenantID string, trigger domain.TriggerType) ([]domain.Workflow, error)
	GetWorkflow(ctx context.Context, id string) (domain.Workflow, error)
	AllScheduledWorkflows(ctx context.Context) ([]domain.Workflow, error)
	CreateRun(ctx context.Context, run *domain.WorkflowRun) error
	UpdateRun(ctx context.Context, run *domain.WorkflowRun) error
}

// GormWorkflowRepository implements WorkflowRepository using GORM.
type GormWorkflowRepository struct {
	db *gorm.DB
}

// NewGormWorkflowRepository creates a new GORM workflow repository.
func NewGormWorkflowRepository(db *gorm.DB) *GormWorkflowRepository {
	return &GormWorkflowRepository{db: db}
}

// EnabledWorkflows lists a tenant's enabled workflows whose trigger type is
// the given one. It is called synchronously from the call_ended
// event handler, so it does not take a context (spec.md §4.H "Matcher").
func (r *GormWorkflowRepository) EnabledWorkflows(tenantID string, trigger domain.TriggerType) ([]domain.Workflow, error) {
	var workflows []domain.Workflow
	err := r.db.Where("tenant_id = ? AND enabled = ? AND trigger_type = ?", tenantID, true, trigger).Find(&workflows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled workflows: %w", err)
	}
	return workflows, nil
}

func (r *GormWorkflowRepository) GetWorkflow(ctx context.Context, id string) (domain.Workflow, error) {
	var wf domain.Workflow
	if err := r.db.WithContext(ctx).First(&wf, "id = ?", id).Error; err != nil {
		return domain.Workflow{}, fmt.Errorf("workflow not found: %w", err)
	}
	return wf, nil
}

func (r *GormWorkflowRepository) AllScheduledWorkflows(ctx context.Context) ([]domain.Workflow, error) {
	var workflows []domain.Workflow
	err := r.db.WithContext(ctx).Where("enabled = ? AND trigger_type = ?", true, domain.TriggerScheduled).Find(&workflows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled workflows: %w", err)
	}
	return workflows, nil
}

func (r *GormWorkflowRepository) CreateRun(ctx context.Context, run *domain.WorkflowRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("failed to create workflow run: %w", err)
	}
	return nil
}

func (r *GormWorkflowRepository) UpdateRun(ctx context.Context, run *domain.WorkflowRun) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to update workflow run: %w", err)
	}
	return nil
}
