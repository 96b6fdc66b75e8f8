package types

import (
	"fmt"
	"strings"
)

// Mode selects how the avatar treats the learner's answers.
type Mode string

const (
	ModeLearn  Mode = "learn"
	ModeTry    Mode = "try"
	ModeAssess Mode = "assess"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeLearn, ModeTry, ModeAssess:
		return m, nil
	}
	return "", fmt.Errorf("unknown conversation mode %q", s)
}

// Spoken reports whether replies in this mode are played back as audio.
// Learn mode is text-only.
func (m Mode) Spoken() bool {
	return m == ModeTry || m == ModeAssess
}

// Coaches reports whether an incorrect answer earns a corrective turn.
func (m Mode) Coaches() bool {
	return m == ModeTry
}

// SessionContext carries everything a conversation attempt needs to know
// about the learner's selection. It is fixed for the controller's lifetime.
type SessionContext struct {
	LearnerID           string `json:"learnerId"`
	Mode                Mode   `json:"mode"`
	PersonaID           string `json:"personaId"`
	AvatarID            string `json:"avatarId"`
	AvatarInteractionID string `json:"avatarInteractionId"`
	LanguageCode        string `json:"language"`
	ScenarioID          string `json:"scenarioId"`
	AuthToken           string `json:"-"`
}

func (s SessionContext) Validate() error {
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	if s.AvatarInteractionID == "" {
		return fmt.Errorf("avatarInteractionId is required")
	}
	return nil
}
