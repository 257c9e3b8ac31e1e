package domain

import "time"

// Caps holds the per-tenant capacity caps published in a tenant's runtime
// config (spec.md §3, §4.B).
type Caps struct {
	MaxConcurrentCallsTenant int  `json:"maxConcurrentCallsTenant" validate:"required,min=1"`
	MaxCallsPerMinuteTenant  int  `json:"maxCallsPerMinuteTenant" validate:"required,min=1"`
	MaxConcurrentCallsGlobal *int `json:"maxConcurrentCallsGlobal,omitempty"`
}

// SttConfig describes the STT endpoint a tenant is bound to.
type SttConfig struct {
	Engine   string `json:"engine" validate:"required,eq=whisper_http"`
	Endpoint string `json:"endpoint" validate:"required,url"`
	Language string `json:"language,omitempty"`
}

// TtsEngine is the tagged TTS variant a tenant config selects.
type TtsEngine string

const (
	TtsEngineKokoroHTTP TtsEngine = "kokoro_http"
	TtsEngineCoquiXTTS  TtsEngine = "coqui_xtts"
)

// TtsConfig is the tagged TTS configuration (spec.md §3). Exactly one of the
// engine-specific field groups is meaningful depending on Engine.
type TtsConfig struct {
	Engine     TtsEngine `json:"engine" validate:"required,oneof=kokoro_http coqui_xtts"`
	Endpoint   string    `json:"endpoint" validate:"required,url"`
	Voice      string    `json:"voice,omitempty"`
	SpeakerWav string    `json:"speakerWavUrl,omitempty"` // coqui_xtts voice cloning reference
	Language   string    `json:"language,omitempty"`
}

// AudioConfig describes the codec/sample-rate contract for a tenant's calls.
type AudioConfig struct {
	Encoding       string `json:"encoding" validate:"required,oneof=audio/x-mulaw AMR-WB"`
	SampleRateHz   int    `json:"sampleRateHz" validate:"required"`
	SttSampleRate  int    `json:"sttSampleRateHz,omitempty"`
	SilenceBargeIn *int   `json:"bargeInMinMs,omitempty"`
}

// TransferProfile is a named destination a brain `transfer` directive may
// point at (spec.md §3, glossary "Transfer profile").
type TransferProfile struct {
	Name       string `json:"name" validate:"required"`
	To         string `json:"to" validate:"required"`
	AudioURL   string `json:"audioUrl,omitempty"`
	TimeoutSec int    `json:"timeoutSecs,omitempty"`
}

// CallForwarding optionally forwards calls unconditionally to a number
// instead of running the assistant pipeline.
type CallForwarding struct {
	Enabled bool   `json:"enabled"`
	To      string `json:"to,omitempty"`
}

// RuntimeTenantConfig is the published, versioned runtime-config contract
// (spec.md §3, key `{TENANTCFG_PREFIX}:{tenant_id}`). Unknown JSON fields are
// preserved via the Extra bag rather than rejected, for forward
// compatibility.
type RuntimeTenantConfig struct {
	ContractVersion  string            `json:"contractVersion" validate:"required,eq=v1"`
	TenantID         string            `json:"tenantId" validate:"required"`
	DIDs             []string          `json:"dids" validate:"required,min=1,dive,required"`
	Caps             Caps              `json:"caps" validate:"required"`
	STT              SttConfig         `json:"stt" validate:"required"`
	TTS              TtsConfig         `json:"tts" validate:"required"`
	Audio            AudioConfig       `json:"audio" validate:"required"`
	WebhookSecret    string            `json:"webhookSecret,omitempty"`
	WebhookSecretRef string            `json:"webhookSecretRef,omitempty"`
	TransferProfiles []TransferProfile `json:"transferProfiles,omitempty"`
	AssistantContext map[string]string `json:"assistantContext,omitempty"`
	CallForwarding   *CallForwarding   `json:"callForwarding,omitempty"`
	LLMContext       map[string]string `json:"llmContext,omitempty"`

	// Extra retains any JSON object key this struct doesn't declare, so a
	// round-trip through Parse/Marshal never silently drops fields.
	Extra map[string]interface{} `json:"-"`
}

// VoiceTenant is the control-plane's row for a tenant, referenced read-only
// at runtime (spec.md §3 "Tenant").
type VoiceTenant struct {
	ID         string    `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID   string    `json:"tenant_id" gorm:"type:varchar(255);uniqueIndex:uni_voice_tenants_tenant_id;not null"`
	TenantName string    `json:"tenant_name" gorm:"type:varchar(255);not null"`
	Config     JSONB     `json:"config" gorm:"type:jsonb"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
	Disabled   bool      `json:"disabled" gorm:"default:false"`
}

// TableName sets the table name for VoiceTenant.
func (VoiceTenant) TableName() string {
	return "voice_tenants"
}
