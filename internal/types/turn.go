package types

import "time"

type Role string

const (
	RoleUser Role = "user"
	RoleBot  Role = "bot"
)

// ConversationTurn is one entry of the conversation history. Correct is nil
// when correctness was never judged.
type ConversationTurn struct {
	Role     Role      `json:"role"`
	Text     string    `json:"text"`
	Correct  *bool     `json:"correct,omitempty"`
	IsFinal  bool      `json:"isFinal"`
	Coaching bool      `json:"coaching,omitempty"`
	Emotion  string    `json:"emotion,omitempty"`
	At       time.Time `json:"at"`
}

func BoolPtr(b bool) *bool { return &b }

// IsIncorrect is true only when the turn was explicitly judged wrong.
func (t ConversationTurn) IsIncorrect() bool {
	return t.Correct != nil && !*t.Correct
}
