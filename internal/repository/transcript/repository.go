package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis"
	"github.com/xpanvictor/migoto-coach/internal/domains/attempt"
)

func TranscriptKey(sessionID string) string {
	return fmt.Sprintf("transcript:%s", sessionID)
}

func LearnerTranscriptsKey(learnerID string) string {
	return fmt.Sprintf("learner:%s:transcripts", learnerID)
}

// RedisTranscriptRepo stores transcripts as JSON with a TTL and indexes
// them per learner in a sorted set scored by save time.
type RedisTranscriptRepo struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRedisTranscriptRepo(rc *redis.Client, ttl time.Duration) attempt.TranscriptStore {
	return &RedisTranscriptRepo{rc: rc, ttl: ttl}
}

// Save implements attempt.TranscriptStore.
func (r *RedisTranscriptRepo) Save(ctx context.Context, t attempt.Transcript) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}

	rc := r.rc.WithContext(ctx)
	if err := rc.Set(TranscriptKey(t.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store transcript: %w", err)
	}
	if t.LearnerID != "" {
		key := LearnerTranscriptsKey(t.LearnerID)
		if err := rc.ZAdd(key, redis.Z{Score: float64(t.SavedAt.Unix()), Member: t.SessionID}).Err(); err != nil {
			return fmt.Errorf("failed to index transcript: %w", err)
		}
		if r.ttl > 0 {
			rc.Expire(key, r.ttl)
		}
	}
	return nil
}

// Get implements attempt.TranscriptStore.
func (r *RedisTranscriptRepo) Get(ctx context.Context, sessionID string) (*attempt.Transcript, error) {
	raw, err := r.rc.WithContext(ctx).Get(TranscriptKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, attempt.ErrTranscriptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transcript: %w", err)
	}

	var t attempt.Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return &t, nil
}

// MemoryTranscriptRepo keeps transcripts in process; used when no redis
// address is configured.
type MemoryTranscriptRepo struct {
	mu    sync.RWMutex
	items map[string]attempt.Transcript
}

func NewMemoryTranscriptRepo() *MemoryTranscriptRepo {
	return &MemoryTranscriptRepo{items: make(map[string]attempt.Transcript)}
}

func (m *MemoryTranscriptRepo) Save(ctx context.Context, t attempt.Transcript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Turns = append(t.Turns[:0:0], t.Turns...)
	m.items[t.SessionID] = t
	return nil
}

func (m *MemoryTranscriptRepo) Get(ctx context.Context, sessionID string) (*attempt.Transcript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.items[sessionID]
	if !ok {
		return nil, attempt.ErrTranscriptNotFound
	}
	return &t, nil
}
