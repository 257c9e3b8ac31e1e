package domain

import "time"

// TriggerType is one of the five trigger kinds a workflow can match on
// (spec.md §3 "workflow").
type TriggerType string

const (
	TriggerCallEnded      TriggerType = "call_ended"
	TriggerAfterHoursCall TriggerType = "after_hours_call"
	TriggerKeywordDetected TriggerType = "keyword_detected"
	TriggerMissedCall     TriggerType = "missed_call"
	TriggerScheduled      TriggerType = "scheduled"
)

// ActionType is the tagged kind of a workflow step (spec.md §3 "step").
type ActionType string

const (
	ActionSendEmail       ActionType = "send_email"
	ActionSendSMS         ActionType = "send_sms"
	ActionFireWebhook     ActionType = "fire_webhook"
	ActionAISummarize     ActionType = "ai_summarize"
	ActionAIExtract       ActionType = "ai_extract"
	ActionAIExtractQuote  ActionType = "ai_extract_quote"
	ActionBuildQuote      ActionType = "build_quote"
	ActionStoreLead       ActionType = "store_lead"
)

// Step is one entry in a workflow's ordered step list.
type Step struct {
	Action ActionType `json:"action" gorm:"column:action"`
	Config JSONB      `json:"config" gorm:"column:config;type:jsonb"`
	Order  int        `json:"order" gorm:"column:step_order"`
}

// Workflow is the tenant-authored automation definition (spec.md §3).
type Workflow struct {
	ID           string      `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID     string      `json:"tenant_id" gorm:"type:varchar(255);index;not null"`
	Name         string      `json:"name" gorm:"type:varchar(255);not null"`
	Enabled      bool        `json:"enabled" gorm:"default:true"`
	TriggerType  TriggerType `json:"trigger_type" gorm:"type:varchar(64);not null"`
	TriggerConfig JSONB      `json:"trigger_config" gorm:"type:jsonb"`
	Steps        []Step      `json:"steps" gorm:"type:jsonb;serializer:json"`
	AdminLocked  bool        `json:"admin_locked" gorm:"default:false"`
	CreatedAt    time.Time   `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time   `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName sets the table name for Workflow.
func (Workflow) TableName() string { return "workflows" }

// RunStatus is the lifecycle status of a workflow_run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// StepResult is one entry of workflow_run.result[] (spec.md §3).
type StepResult struct {
	Order  int    `json:"order"`
	Action string `json:"action"`
	Output JSONB  `json:"output"`
	Error  string `json:"error,omitempty"`
}

// WorkflowRun is one execution of a Workflow against a triggering event
// (spec.md §3 "workflow_run").
type WorkflowRun struct {
	ID            string       `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	WorkflowID    string       `json:"workflow_id" gorm:"type:uuid;index;not null"`
	TenantID      string       `json:"tenant_id" gorm:"type:varchar(255);index;not null"`
	TriggerEvent  JSONB        `json:"trigger_event" gorm:"type:jsonb"`
	Status        RunStatus    `json:"status" gorm:"type:varchar(32)"`
	StepsCompleted int         `json:"steps_completed"`
	StepsTotal    int          `json:"steps_total"`
	Result        []StepResult `json:"result" gorm:"type:jsonb;serializer:json"`
	Error         string       `json:"error,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

// TableName sets the table name for WorkflowRun.
func (WorkflowRun) TableName() string { return "workflow_runs" }

// LeadRecord is the persisted form of a Lead, attributable to the workflow
// that produced it (spec.md §3 "lead").
type LeadRecord struct {
	ID              string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID        string    `json:"tenant_id" gorm:"type:varchar(255);index;not null"`
	CallID          string    `json:"call_id" gorm:"type:varchar(255);index"`
	Name            string    `json:"name"`
	Phone           string    `json:"phone"`
	Email           string    `json:"email"`
	Priority        string    `json:"priority"`
	SourceWorkflowID string   `json:"source_workflow_id,omitempty" gorm:"type:uuid"`
	Fields          JSONB     `json:"fields" gorm:"type:jsonb"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName sets the table name for LeadRecord.
func (LeadRecord) TableName() string { return "leads" }

// Job is a queued invocation of a Workflow against a CallEndedEvent-derived
// trigger (spec.md §4.H "Job queue").
type Job struct {
	ID         string      `json:"id"`
	WorkflowID string      `json:"workflow_id"`
	TenantID   string      `json:"tenant_id"`
	Trigger    TriggerType `json:"trigger"`
	Event      JSONB       `json:"event"`
	Retries    int         `json:"retries"`
	NotBefore  time.Time   `json:"not_before"`
}
