package attempt

import (
	"context"
	"errors"
	"fmt"

	"github.com/xpanvictor/migoto-coach/internal/domains/conversation/turn"
	"github.com/xpanvictor/migoto-coach/internal/types"
	"github.com/xpanvictor/migoto-coach/pkg/Logger"
)

// Service archives concluded conversations and serves them back.
type Service struct {
	attempts    AttemptRepository
	transcripts TranscriptStore
	logger      *Logger.Logger
}

var _ turn.Archiver = (*Service)(nil)

func NewService(attempts AttemptRepository, transcripts TranscriptStore, logger *Logger.Logger) *Service {
	return &Service{attempts: attempts, transcripts: transcripts, logger: logger.Named("attempt")}
}

// Archive implements turn.Archiver. The transcript and the attempt log are
// written independently; a failure of one does not skip the other.
func (s *Service) Archive(ctx context.Context, o turn.Outcome) error {
	var errs []error

	if s.transcripts != nil && o.SessionID != "" {
		err := s.transcripts.Save(ctx, Transcript{
			SessionID:  o.SessionID,
			LearnerID:  o.LearnerID,
			Mode:       o.Mode,
			ScenarioID: o.ScenarioID,
			Turns:      o.History,
			SavedAt:    o.EndedAt,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to save transcript: %w", err))
		}
	}

	if s.attempts != nil && o.LearnerID != "" {
		if err := s.attempts.Create(ctx, FromOutcome(o)); err != nil {
			errs = append(errs, fmt.Errorf("failed to record attempt: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Infof("archived session %s for learner %s (%s, %d turns)", o.SessionID, o.LearnerID, o.Reason, len(o.History))
	return nil
}

func (s *Service) Transcript(ctx context.Context, sessionID string) (*Transcript, error) {
	if s.transcripts == nil {
		return nil, ErrTranscriptNotFound
	}
	return s.transcripts.Get(ctx, sessionID)
}

func (s *Service) List(ctx context.Context, learnerID string, offset, limit int) ([]Attempt, int64, error) {
	if s.attempts == nil {
		return []Attempt{}, 0, nil
	}
	offset, limit = ClampPage(offset, limit)
	return s.attempts.ListByLearner(ctx, learnerID, offset, limit)
}

// ClampPage applies the paging bounds List uses.
func ClampPage(offset, limit int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return offset, limit
}

// FromOutcome summarizes a concluded conversation for the attempt log.
func FromOutcome(o turn.Outcome) *Attempt {
	a := &Attempt{
		LearnerID:      o.LearnerID,
		SessionID:      o.SessionID,
		Mode:           o.Mode,
		ScenarioID:     o.ScenarioID,
		Reason:         o.Reason,
		AverageLatency: o.Timing.AverageLatency(),
		Duration:       o.Duration,
		Report:         o.Report,
		CreatedAt:      o.EndedAt,
	}
	for _, t := range o.History {
		if t.Role != types.RoleUser {
			continue
		}
		a.Turns++
		if t.IsIncorrect() {
			a.IncorrectTurns++
		}
	}
	return a
}
