package domain

import "time"

// CallHistory is the terminal-state record written by the Call History &
// Analytics component (spec.md §4.I, §3 table "call_history").
type CallHistory struct {
	ID         string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID   string    `json:"tenant_id" gorm:"type:varchar(255);index;not null"`
	CallID     string    `json:"call_id" gorm:"type:varchar(255);uniqueIndex;not null"`
	CallerID   string    `json:"caller_id" gorm:"type:varchar(64)"`
	Stage      CallState `json:"stage" gorm:"type:varchar(32)"`
	Lead       JSONB     `json:"lead" gorm:"type:jsonb"`
	History    JSONB     `json:"history" gorm:"type:jsonb"`
	Transcript string    `json:"transcript" gorm:"type:text"`
	DurationMS int64     `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// TableName sets the table name for CallHistory.
func (CallHistory) TableName() string { return "call_history" }

// TenantUsage is the per-tenant, per-month rollup incremented on call
// termination (spec.md §4.I).
type TenantUsage struct {
	ID           string `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID     string `json:"tenant_id" gorm:"type:varchar(255);uniqueIndex:uni_tenant_usage_period;not null"`
	Period       string `json:"period" gorm:"type:varchar(7);uniqueIndex:uni_tenant_usage_period;not null"` // "YYYY-MM"
	CallCount    int64  `json:"call_count"`
	CallMinutes  float64 `json:"call_minutes"`
	SttMinutes   float64 `json:"stt_minutes"`
	TtsCharacters int64  `json:"tts_characters"`
}

// TableName sets the table name for TenantUsage.
func (TenantUsage) TableName() string { return "tenant_usage" }
