package attempt

import (
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/migoto-coach/internal/domains/attempt"
	"github.com/xpanvictor/migoto-coach/internal/types"
	"gorm.io/gorm"
)

// AttemptEntity is the attempt log row.
type AttemptEntity struct {
	ID               string    `gorm:"primaryKey;type:char(36);not null"`
	LearnerID        string    `gorm:"column:learner_id;type:varchar(64);index:idx_learner_created,priority:1;not null"`
	SessionID        string    `gorm:"column:session_id;type:varchar(128);index"`
	Mode             string    `gorm:"type:varchar(16);not null"`
	ScenarioID       string    `gorm:"column:scenario_id;type:varchar(128)"`
	Reason           string    `gorm:"type:varchar(16)"`
	Turns            int       `gorm:"not null;default:0"`
	IncorrectTurns   int       `gorm:"column:incorrect_turns;not null;default:0"`
	AvgLatencyMillis int64     `gorm:"column:avg_latency_ms"`
	DurationMillis   int64     `gorm:"column:duration_ms"`
	Report           []byte    `gorm:"type:json"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index:idx_learner_created,priority:2"`
}

func (AttemptEntity) TableName() string {
	return "attempts"
}

// BeforeCreate is a GORM hook to ensure UUID is set
func (e *AttemptEntity) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	return nil
}

func (e *AttemptEntity) ToDomain() *attempt.Attempt {
	a := &attempt.Attempt{
		ID:             e.ID,
		LearnerID:      e.LearnerID,
		SessionID:      e.SessionID,
		Mode:           types.Mode(e.Mode),
		ScenarioID:     e.ScenarioID,
		Reason:         e.Reason,
		Turns:          e.Turns,
		IncorrectTurns: e.IncorrectTurns,
		AverageLatency: time.Duration(e.AvgLatencyMillis) * time.Millisecond,
		Duration:       time.Duration(e.DurationMillis) * time.Millisecond,
		CreatedAt:      e.CreatedAt,
	}
	if len(e.Report) > 0 {
		a.Report = append(a.Report, e.Report...)
	}
	return a
}

func NewAttemptEntityFromDomain(a *attempt.Attempt) *AttemptEntity {
	e := &AttemptEntity{
		ID:               a.ID,
		LearnerID:        a.LearnerID,
		SessionID:        a.SessionID,
		Mode:             string(a.Mode),
		ScenarioID:       a.ScenarioID,
		Reason:           a.Reason,
		Turns:            a.Turns,
		IncorrectTurns:   a.IncorrectTurns,
		AvgLatencyMillis: a.AverageLatency.Milliseconds(),
		DurationMillis:   a.Duration.Milliseconds(),
		CreatedAt:        a.CreatedAt,
	}
	if len(a.Report) > 0 {
		e.Report = []byte(a.Report)
	}
	return e
}
