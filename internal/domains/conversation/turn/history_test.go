package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpanvictor/migoto-coach/internal/types"
)

func user(text string) types.ConversationTurn {
	return types.ConversationTurn{Role: types.RoleUser, Text: text, IsFinal: true}
}

func bot(text string, correct bool) types.ConversationTurn {
	return types.ConversationTurn{Role: types.RoleBot, Text: text, Correct: types.BoolPtr(correct)}
}

func TestAppendBotTurnMarksPrecedingUser(t *testing.T) {
	history := []types.ConversationTurn{user("hi"), bot("hello", true), user("wrong answer")}

	out := AppendBotTurn(history, bot("not quite", false))
	require.Len(t, out, 4)
	assert.True(t, out[2].IsIncorrect())
	assert.Nil(t, out[0].Correct, "earlier turns are untouched")
	assert.Nil(t, history[2].Correct, "input is not modified")
}

func TestAppendBotTurnCorrectLeavesUserAlone(t *testing.T) {
	out := AppendBotTurn([]types.ConversationTurn{user("right")}, bot("great", true))
	assert.Nil(t, out[0].Correct)
}

func TestAppendBotTurnSkipsCoaching(t *testing.T) {
	history := []types.ConversationTurn{
		user("oops"),
		{Role: types.RoleBot, Text: "try saying it like this", Coaching: true},
	}
	out := AppendBotTurn(history, bot("again please", false))
	assert.True(t, out[0].IsIncorrect())
}

func TestAppendBotTurnStopsAtBotTurn(t *testing.T) {
	history := []types.ConversationTurn{user("first"), bot("reply", true)}
	out := AppendBotTurn(history, bot("unprompted", false))
	assert.Nil(t, out[0].Correct)
}

func TestAppendBotTurnEmptyHistory(t *testing.T) {
	out := AppendBotTurn(nil, bot("welcome", false))
	require.Len(t, out, 1)
	assert.Equal(t, types.RoleBot, out[0].Role)
}

func TestAppendUserTurnIsFinal(t *testing.T) {
	out := AppendUserTurn(nil, types.ConversationTurn{Text: "hey"})
	require.Len(t, out, 1)
	assert.Equal(t, types.RoleUser, out[0].Role)
	assert.True(t, out[0].IsFinal)
}

func TestStateBusy(t *testing.T) {
	for _, s := range []State{StateRecording, StateTranscribing, StateAwaitingModel, StateSpeaking} {
		assert.True(t, s.Busy(), s)
	}
	assert.False(t, StateIdle.Busy())
	assert.False(t, StateFinished.Busy())
}
