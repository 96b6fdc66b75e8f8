package transcript

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpanvictor/migoto-coach/internal/domains/attempt"
	"github.com/xpanvictor/migoto-coach/internal/types"
)

func sample(sessionID string) attempt.Transcript {
	return attempt.Transcript{
		SessionID: sessionID,
		LearnerID: "learner-1",
		Mode:      types.ModeTry,
		Turns: []types.ConversationTurn{
			{Role: types.RoleUser, Text: "hello", IsFinal: true},
			{Role: types.RoleBot, Text: "hi", Correct: types.BoolPtr(true)},
		},
		SavedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func exercise(t *testing.T, store attempt.TranscriptStore) {
	ctx := context.Background()
	id := uuid.NewString()

	_, err := store.Get(ctx, id)
	assert.ErrorIs(t, err, attempt.ErrTranscriptNotFound)

	require.NoError(t, store.Save(ctx, sample(id)))
	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, got.SessionID)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, "hello", got.Turns[0].Text)
	assert.True(t, *got.Turns[1].Correct)
	assert.True(t, got.SavedAt.Equal(sample(id).SavedAt))
}

func TestMemoryTranscriptRepo(t *testing.T) {
	exercise(t, NewMemoryTranscriptRepo())
}

// Runs against a real server when COACH_TEST_REDIS_ADDR is set.
func TestRedisTranscriptRepo(t *testing.T) {
	addr := os.Getenv("COACH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COACH_TEST_REDIS_ADDR not set")
	}
	rc := redis.NewClient(&redis.Options{Addr: addr})
	defer rc.Close()
	require.NoError(t, rc.Ping().Err())

	exercise(t, NewRedisTranscriptRepo(rc, time.Minute))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "transcript:abc", TranscriptKey("abc"))
	assert.Equal(t, "learner:l1:transcripts", LearnerTranscriptsKey("l1"))
}
