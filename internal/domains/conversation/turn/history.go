package turn

import "github.com/xpanvictor/migoto-coach/internal/types"

// AppendBotTurn returns history with bot appended. When bot is judged
// incorrect, the nearest preceding user turn is marked incorrect too.
// Coaching turns between the two are skipped; any other bot turn ends the
// search. The input slice is never modified.
func AppendBotTurn(history []types.ConversationTurn, bot types.ConversationTurn) []types.ConversationTurn {
	out := make([]types.ConversationTurn, len(history), len(history)+1)
	copy(out, history)
	bot.Role = types.RoleBot

	if bot.IsIncorrect() && !bot.Coaching {
		for i := len(out) - 1; i >= 0; i-- {
			if out[i].Role == types.RoleUser {
				out[i].Correct = types.BoolPtr(false)
				break
			}
			if !out[i].Coaching {
				break
			}
		}
	}
	return append(out, bot)
}

// AppendUserTurn returns history with a committed learner turn appended.
func AppendUserTurn(history []types.ConversationTurn, user types.ConversationTurn) []types.ConversationTurn {
	out := make([]types.ConversationTurn, len(history), len(history)+1)
	copy(out, history)
	user.Role = types.RoleUser
	user.IsFinal = true
	return append(out, user)
}
