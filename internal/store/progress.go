package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autolead.app/crm/internal/model"
	"github.com/redis/go-redis/v9"
)

type redisProgressStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProgressStore keeps onboarding progress in Redis under the session id.
// Entries expire after ttl so abandoned flows are discarded without a sweep.
func NewProgressStore(client *redis.Client, ttl time.Duration) ProgressStore {
	return &redisProgressStore{client: client, ttl: ttl}
}

func progressKey(sessionID int64) string {
	return fmt.Sprintf("crm:onboarding:%d", sessionID)
}

func (s *redisProgressStore) Get(ctx context.Context, sessionID int64) (*model.OnboardingProgress, error) {
	raw, err := s.client.Get(ctx, progressKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading onboarding progress: %w", err)
	}

	var p model.OnboardingProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding onboarding progress: %w", err)
	}
	return &p, nil
}

func (s *redisProgressStore) Save(ctx context.Context, p *model.OnboardingProgress) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding onboarding progress: %w", err)
	}
	if err := s.client.Set(ctx, progressKey(p.SessionID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("writing onboarding progress: %w", err)
	}
	return nil
}

func (s *redisProgressStore) Delete(ctx context.Context, sessionID int64) error {
	return s.client.Del(ctx, progressKey(sessionID)).Err()
}
