package workflow

import (
	"strings"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/ClareAI/astra-voice-receptionist/internal/event"
)

// WorkflowLister is the read-only subset of the repository layer the
// matcher needs: enabled workflows for a tenant and trigger type.
type WorkflowLister interface {
	EnabledWorkflows(tenantID string, trigger domain.TriggerType) ([]domain.Workflow, error)
}

// deriveTriggers expands one CallEndedEvent into the secondary triggers
// spec.md §4.H lists, alongside the primary call_ended trigger.
func deriveTriggers(evt *event.CallEvent) []domain.TriggerType {
	triggers := []domain.TriggerType{domain.TriggerCallEnded, domain.TriggerAfterHoursCall}

	if evt.Session != nil && len(evt.Session.History) > 0 {
		triggers = append(triggers, domain.TriggerKeywordDetected)
	}

	turns := 0
	var durationMS int64
	if evt.Session != nil {
		turns = len(evt.Session.History)
		durationMS = evt.Session.DurationMS()
	}
	if turns <= 1 || durationMS < 15000 {
		triggers = append(triggers, domain.TriggerMissedCall)
	}

	return triggers
}

// matches evaluates a workflow's trigger_config against the triggering
// event (spec.md §4.H "Matcher").
func matches(wf domain.Workflow, evt *event.CallEvent, now time.Time) bool {
	switch wf.TriggerType {
	case domain.TriggerCallEnded, domain.TriggerScheduled:
		return true
	case domain.TriggerAfterHoursCall:
		return matchesAfterHours(wf.TriggerConfig, now)
	case domain.TriggerKeywordDetected:
		return matchesKeyword(wf.TriggerConfig, evt.Transcript)
	case domain.TriggerMissedCall:
		return matchesMissedCall(wf.TriggerConfig, evt)
	default:
		return false
	}
}

func matchesAfterHours(cfg domain.JSONB, now time.Time) bool {
	tz, _ := cfg["timezone"].(string)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	start, _ := cfg["start"].(string)
	end, _ := cfg["end"].(string)
	if start == "" || end == "" {
		return false
	}

	startT, err1 := time.Parse("15:04", start)
	endT, err2 := time.Parse("15:04", end)
	if err1 != nil || err2 != nil {
		return false
	}

	minutesNow := local.Hour()*60 + local.Minute()
	minutesStart := startT.Hour()*60 + startT.Minute()
	minutesEnd := endT.Hour()*60 + endT.Minute()

	return minutesNow < minutesStart || minutesNow > minutesEnd
}

func matchesKeyword(cfg domain.JSONB, transcript string) bool {
	raw, ok := cfg["keywords"].([]interface{})
	if !ok {
		return false
	}
	lower := strings.ToLower(transcript)
	for _, k := range raw {
		kw, ok := k.(string)
		if !ok || kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func matchesMissedCall(cfg domain.JSONB, evt *event.CallEvent) bool {
	maxDurationSec, _ := cfg["maxDurationSeconds"].(float64)
	minTurns, _ := cfg["minTurns"].(float64)

	var durationMS int64
	var turns int
	if evt.Session != nil {
		durationMS = evt.Session.DurationMS()
		turns = len(evt.Session.History)
	}

	if maxDurationSec > 0 && durationMS < int64(maxDurationSec*1000) {
		return true
	}
	if minTurns > 0 && int64(turns) < int64(minTurns) {
		return true
	}
	return false
}
