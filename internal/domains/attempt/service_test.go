package attempt

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpanvictor/migoto-coach/internal/domains/conversation/metrics"
	"github.com/xpanvictor/migoto-coach/internal/domains/conversation/turn"
	"github.com/xpanvictor/migoto-coach/internal/types"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
)

type memAttempts struct {
	created []*Attempt
	err     error
}

func (m *memAttempts) Create(ctx context.Context, a *Attempt) error {
	if m.err != nil {
		return m.err
	}
	m.created = append(m.created, a)
	return nil
}

func (m *memAttempts) GetBySession(ctx context.Context, sessionID string) (*Attempt, error) {
	return nil, ErrAttemptNotFound
}

func (m *memAttempts) ListByLearner(ctx context.Context, learnerID string, offset, limit int) ([]Attempt, int64, error) {
	return nil, int64(limit), nil
}

type memTranscripts struct {
	saved []Transcript
}

func (m *memTranscripts) Save(ctx context.Context, t Transcript) error {
	m.saved = append(m.saved, t)
	return nil
}

func (m *memTranscripts) Get(ctx context.Context, sessionID string) (*Transcript, error) {
	return nil, ErrTranscriptNotFound
}

func outcome() turn.Outcome {
	return turn.Outcome{
		LearnerID: "learner-1",
		Mode:      types.ModeTry,
		SessionID: "sess-1",
		Reason:    turn.ReasonComplete,
		History: []types.ConversationTurn{
			{Role: types.RoleUser, Text: "a", Correct: types.BoolPtr(false)},
			{Role: types.RoleBot, Text: "fix", Coaching: true},
			{Role: types.RoleBot, Text: "b", Correct: types.BoolPtr(false)},
			{Role: types.RoleUser, Text: "c"},
			{Role: types.RoleBot, Text: "d", Correct: types.BoolPtr(true), IsFinal: true},
		},
		Timing:   metrics.TimingMetrics{PerTurnIntervals: []time.Duration{time.Second, 3 * time.Second}},
		Duration: time.Minute,
		EndedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestFromOutcome(t *testing.T) {
	a := FromOutcome(outcome())
	assert.Equal(t, 2, a.Turns)
	assert.Equal(t, 1, a.IncorrectTurns)
	assert.Equal(t, 2*time.Second, a.AverageLatency)
	assert.Equal(t, time.Minute, a.Duration)
	assert.Equal(t, "sess-1", a.SessionID)
}

func TestArchiveWritesBoth(t *testing.T) {
	attempts, transcripts := &memAttempts{}, &memTranscripts{}
	svc := NewService(attempts, transcripts, Logger.Nop())

	require.NoError(t, svc.Archive(context.Background(), outcome()))
	require.Len(t, attempts.created, 1)
	require.Len(t, transcripts.saved, 1)
	assert.Len(t, transcripts.saved[0].Turns, 5)
}

func TestArchiveKeepsTranscriptWhenLogFails(t *testing.T) {
	attempts, transcripts := &memAttempts{err: errors.New("db down")}, &memTranscripts{}
	svc := NewService(attempts, transcripts, Logger.Nop())

	err := svc.Archive(context.Background(), outcome())
	assert.ErrorContains(t, err, "db down")
	assert.Len(t, transcripts.saved, 1)
}

func TestListClampsLimit(t *testing.T) {
	svc := NewService(&memAttempts{}, nil, Logger.Nop())
	_, limit, err := svc.List(context.Background(), "learner-1", -5, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(20), limit)

	_, err = svc.Transcript(context.Background(), "x")
	assert.ErrorIs(t, err, ErrTranscriptNotFound)
}
