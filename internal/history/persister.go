// Package history persists a call's terminal state and rolls its usage into
// the tenant's monthly counters (spec.md §4.I "Call History & Analytics").
// Writes are best-effort: a failure here must never block call termination
// or retry the caller's turn, so every error is logged and swallowed.
package history

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/ClareAI/astra-voice-receptionist/internal/repository"
	"github.com/ClareAI/astra-voice-receptionist/pkg/logger"
	"go.uber.org/zap"
)

// avgWordsPerMinute approximates STT audio-minutes from the caller's word
// count when the audio pipeline does not report exact duration; usage is a
// cost estimate, not a billing ledger (spec.md §4.I).
const avgWordsPerMinute = 130

// Persister writes CallHistory rows and increments TenantUsage counters.
type Persister struct {
	historyRepo repository.CallHistoryRepository
}

// NewPersister constructs a Persister over the given repository.
func NewPersister(historyRepo repository.CallHistoryRepository) *Persister {
	return &Persister{historyRepo: historyRepo}
}

// OnTerminal is a callregistry.TerminalHook: it writes the call's terminal
// record and rolls its usage into the current month's tenant_usage row.
func (p *Persister) OnTerminal(ctx context.Context, s *domain.CallSession) {
	if s.HistoryPersisted {
		return
	}

	historyJSON := make(domain.JSONB)
	for i, turn := range s.History {
		historyJSON[strconv.Itoa(i)] = map[string]interface{}{"role": turn.Role, "text": turn.Text, "at": turn.At}
	}

	leadJSON := make(domain.JSONB)
	leadJSON["name"] = s.Lead.Name
	leadJSON["phone"] = s.Lead.Phone
	leadJSON["email"] = s.Lead.Email
	leadJSON["priority"] = s.Lead.Priority
	leadJSON["fields"] = s.Lead.Fields

	record := &domain.CallHistory{
		TenantID:   s.TenantID,
		CallID:     s.CallControlID,
		CallerID:   s.CallerID,
		Stage:      s.State,
		Lead:       leadJSON,
		History:    historyJSON,
		Transcript: s.Transcript(),
		DurationMS: s.DurationMS(),
		StartedAt:  s.CreatedAt,
		EndedAt:    s.EndedAt,
	}

	if err := p.historyRepo.Create(ctx, record); err != nil {
		logger.Base().Error("failed to persist call history", zap.String("call_id", s.CallControlID), zap.Error(err))
		return
	}

	callMinutes := float64(s.DurationMS()) / 60000.0
	wordCount := 0
	for _, turn := range s.History {
		if turn.Role != "caller" {
			continue
		}
		wordCount += len(strings.Fields(turn.Text))
	}
	sttMinutes := float64(wordCount) / avgWordsPerMinute
	ttsChars := int64(len(s.Transcript()))

	period := repository.CurrentPeriod(time.Now())
	if err := p.historyRepo.IncrementUsage(ctx, s.TenantID, period, callMinutes, sttMinutes, ttsChars); err != nil {
		logger.Base().Error("failed to increment tenant usage", zap.String("tenant_id", s.TenantID), zap.Error(err))
	}

	s.HistoryPersisted = true
}
