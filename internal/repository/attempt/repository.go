package attempt

import (
	"context"
	"errors"
	"fmt"

	"github.com/xpanvictor/migoto-coach/internal/domains/attempt"
	"gorm.io/gorm"
)

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) attempt.AttemptRepository {
	return &GormAttemptRepo{db: db}
}

// Create implements attempt.AttemptRepository
func (g *GormAttemptRepo) Create(ctx context.Context, a *attempt.Attempt) error {
	entity := NewAttemptEntityFromDomain(a)
	if err := g.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	*a = *entity.ToDomain()
	return nil
}

// GetBySession implements attempt.AttemptRepository
func (g *GormAttemptRepo) GetBySession(ctx context.Context, sessionID string) (*attempt.Attempt, error) {
	var entity AttemptEntity
	if err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at DESC").First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, attempt.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get attempt by session: %w", err)
	}
	return entity.ToDomain(), nil
}

// ListByLearner implements attempt.AttemptRepository
func (g *GormAttemptRepo) ListByLearner(ctx context.Context, learnerID string, offset, limit int) ([]attempt.Attempt, int64, error) {
	base := g.db.WithContext(ctx).Model(&AttemptEntity{}).Where("learner_id = ?", learnerID).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count attempts: %w", err)
	}

	var entities []AttemptEntity
	if err := base.Order("created_at DESC").Offset(offset).Limit(limit).Find(&entities).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list attempts: %w", err)
	}

	attempts := make([]attempt.Attempt, 0, len(entities))
	for i := range entities {
		attempts = append(attempts, *entities[i].ToDomain())
	}
	return attempts, total, nil
}
