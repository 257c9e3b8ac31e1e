package domain

import "time"

// Turn is one entry in a call's history (spec.md §3 "history"). Appends are
// ordered; an assistant turn never precedes the STT turn it replies to.
type Turn struct {
	Role        string    `json:"role"` // "caller" | "assistant"
	Text        string    `json:"text"`
	Interrupted bool      `json:"interrupted,omitempty"`
	At          time.Time `json:"at"`
}

// Lead is the set of fields a call's workflow steps extracted from the
// conversation (spec.md §3 "lead").
type Lead struct {
	Name            string                 `json:"name,omitempty"`
	Phone           string                 `json:"phone,omitempty"`
	Email           string                 `json:"email,omitempty"`
	Priority        string                 `json:"priority,omitempty"`
	SourceWorkflowID string                `json:"source_workflow_id,omitempty"`
	Fields          map[string]interface{} `json:"fields,omitempty"`
}

// CallSession is the per-call record the Call Registry owns exclusively
// (spec.md §3 "Call Session", §4.D "Ownership").
type CallSession struct {
	CallControlID  string    `json:"call_control_id"`
	TenantID       string    `json:"tenant_id"`
	CallerID       string    `json:"caller_id"`
	CalledNumber   string    `json:"called_number"`
	State          CallState `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	AnsweredAt     time.Time `json:"answered_at,omitempty"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
	History        []Turn    `json:"history"`
	Lead           Lead      `json:"lead"`
	TransferTarget string    `json:"transfer_target,omitempty"`
	VoiceMode      VoiceMode `json:"voice_mode"`
	RNGSeed        int64     `json:"rng_seed"`

	// FailureCause records why a session reached CallStateFailed, e.g.
	// "rejected_global", "rejected_tenant_concurrency", "rejected_tenant_rate",
	// "dead_air_timeout", "answer_timeout".
	FailureCause string `json:"failure_cause,omitempty"`

	// CapacityReleased gates the idempotent release of capacity slots so a
	// session never decrements the counters it incremented more than once
	// (spec.md §3 invariant, §4.B).
	CapacityReleased bool `json:"-"`

	// HistoryPersisted gates the idempotent write of the call_history row so
	// duplicate terminal events produce exactly one row (spec.md §8 property 3).
	HistoryPersisted bool `json:"-"`
}

// DurationMS returns the call's wall-clock duration once ended, else the
// duration so far.
func (s *CallSession) DurationMS() int64 {
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}
	start := s.AnsweredAt
	if start.IsZero() {
		start = s.CreatedAt
	}
	return end.Sub(start).Milliseconds()
}

// Transcript concatenates all turns into a single string for keyword
// matching and templating (spec.md §4.H).
func (s *CallSession) Transcript() string {
	out := ""
	for i, t := range s.History {
		if i > 0 {
			out += "\n"
		}
		out += t.Role + ": " + t.Text
	}
	return out
}
