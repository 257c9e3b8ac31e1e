package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB represents a PostgreSQL JSONB field with unknown-field preservation:
// the map keeps any key the caller sent, even ones this version doesn't know
// about, so round-tripping a document never drops data.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface for JSONB.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for JSONB.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// CallState is one state in the call session state machine (spec.md §4.D).
type CallState string

const (
	CallStateInitiated      CallState = "initiated"
	CallStateAnswered       CallState = "answered"
	CallStateMediaConnected CallState = "media_connected"
	CallStateListening      CallState = "listening"
	CallStateSpeaking       CallState = "speaking"
	CallStateThinking       CallState = "thinking"
	CallStateTransferring   CallState = "transferring"
	CallStateEnded          CallState = "ended"
	CallStateFailed         CallState = "failed"
)

// Terminal reports whether the state is one of the two terminal states.
func (s CallState) Terminal() bool {
	return s == CallStateEnded || s == CallStateFailed
}

// VoiceMode selects between a preset TTS voice and a cloned one (spec.md §3).
type VoiceMode string

const (
	VoiceModePreset VoiceMode = "preset"
	VoiceModeCloned VoiceMode = "cloned"
)
