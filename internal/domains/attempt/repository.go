package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/xpanvictor/migoto-coach/internal/types"
)

var (
	ErrAttemptNotFound    = errors.New("attempt not found")
	ErrTranscriptNotFound = errors.New("transcript not found")
)

// Attempt is one concluded conversation in the learner's log.
type Attempt struct {
	ID             string          `json:"id"`
	LearnerID      string          `json:"learnerId"`
	SessionID      string          `json:"sessionId"`
	Mode           types.Mode      `json:"mode"`
	ScenarioID     string          `json:"scenarioId"`
	Reason         string          `json:"reason"`
	Turns          int             `json:"turns"`
	IncorrectTurns int             `json:"incorrectTurns"`
	AverageLatency time.Duration   `json:"averageLatency"`
	Duration       time.Duration   `json:"duration"`
	Report         json.RawMessage `json:"report,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Transcript is the full history of an attempt, kept for a limited time.
type Transcript struct {
	SessionID  string                   `json:"sessionId"`
	LearnerID  string                   `json:"learnerId"`
	Mode       types.Mode               `json:"mode"`
	ScenarioID string                   `json:"scenarioId"`
	Turns      []types.ConversationTurn `json:"turns"`
	SavedAt    time.Time                `json:"savedAt"`
}

// AttemptRepository stores the attempt log.
type AttemptRepository interface {
	Create(ctx context.Context, a *Attempt) error

	GetBySession(ctx context.Context, sessionID string) (*Attempt, error)

	// List a learner's attempts, newest first
	ListByLearner(ctx context.Context, learnerID string, offset, limit int) ([]Attempt, int64, error)
}

// TranscriptStore keeps transcripts keyed by remote session id.
type TranscriptStore interface {
	Save(ctx context.Context, t Transcript) error
	Get(ctx context.Context, sessionID string) (*Transcript, error)
}
