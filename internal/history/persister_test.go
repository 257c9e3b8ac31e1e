package history

import (
	"context"
	"testing"
	"time"

	"github.com/ClareAI/astra-voice-receptionist/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistoryRepo struct {
	created    []*domain.CallHistory
	usageCalls int
	createErr  error
	usageErr   error
}

func (f *fakeHistoryRepo) Create(ctx context.Context, h *domain.CallHistory) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, h)
	return nil
}

func (f *fakeHistoryRepo) IncrementUsage(ctx context.Context, tenantID, period string, callMinutes, sttMinutes float64, ttsCharacters int64) error {
	if f.usageErr != nil {
		return f.usageErr
	}
	f.usageCalls++
	return nil
}

func TestOnTerminalPersistsHistoryAndUsage(t *testing.T) {
	repo := &fakeHistoryRepo{}
	p := NewPersister(repo)

	session := &domain.CallSession{
		TenantID:      "tenant-a",
		CallControlID: "call-1",
		CallerID:      "+15551234567",
		State:         domain.CallStateEnded,
		CreatedAt:     time.Now().Add(-time.Minute),
		EndedAt:       time.Now(),
		History: []domain.Turn{
			{Role: "caller", Text: "hello there how are you"},
			{Role: "assistant", Text: "I am doing well"},
		},
	}

	p.OnTerminal(context.Background(), session)

	require.Len(t, repo.created, 1)
	assert.Equal(t, "call-1", repo.created[0].CallID)
	assert.Equal(t, 1, repo.usageCalls)
	assert.True(t, session.HistoryPersisted)
}

func TestOnTerminalSkipsIfAlreadyPersisted(t *testing.T) {
	repo := &fakeHistoryRepo{}
	p := NewPersister(repo)

	session := &domain.CallSession{HistoryPersisted: true}
	p.OnTerminal(context.Background(), session)

	assert.Empty(t, repo.created)
	assert.Zero(t, repo.usageCalls)
}

func TestOnTerminalSwallowsCreateError(t *testing.T) {
	repo := &fakeHistoryRepo{createErr: assertError("boom")}
	p := NewPersister(repo)

	session := &domain.CallSession{TenantID: "tenant-a", CallControlID: "call-2"}
	assert.NotPanics(t, func() {
		p.OnTerminal(context.Background(), session)
	})
	assert.Zero(t, repo.usageCalls, "usage must not be incremented if the history write failed")
}

type assertError string

func (e assertError) Error() string { return string(e) }
