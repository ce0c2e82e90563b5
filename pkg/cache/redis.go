package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

// RedisScoreCache is a Redis-backed ScoreCache shared by all engine instances.
// Tallies are stored as JSON with a TTL; a lost or expired entry only costs a
// full recompute.
type RedisScoreCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ScoreCache = (*RedisScoreCache)(nil)

// NewRedisScoreCache wraps an existing client. The client lifecycle is
// managed by the caller.
func NewRedisScoreCache(client *redis.Client, prefix string, ttl time.Duration) *RedisScoreCache {
	return &RedisScoreCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisScoreCache) key(tenantID, assessmentID uuid.UUID) string {
	return c.prefix + tenantID.String() + ":" + assessmentID.String()
}

func (c *RedisScoreCache) Get(ctx context.Context, tenantID, assessmentID uuid.UUID) (*models.ScoreTally, error) {
	raw, err := c.client.Get(ctx, c.key(tenantID, assessmentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read score tally: %w", err)
	}

	var tally models.ScoreTally
	if err := json.Unmarshal(raw, &tally); err != nil {
		// A corrupt entry is treated as a miss and overwritten on the next Set.
		return nil, nil
	}
	return &tally, nil
}

func (c *RedisScoreCache) Set(ctx context.Context, tenantID uuid.UUID, tally *models.ScoreTally) error {
	raw, err := json.Marshal(tally)
	if err != nil {
		return fmt.Errorf("failed to encode score tally: %w", err)
	}
	if err := c.client.Set(ctx, c.key(tenantID, tally.AssessmentID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write score tally: %w", err)
	}
	return nil
}

func (c *RedisScoreCache) Delete(ctx context.Context, tenantID, assessmentID uuid.UUID) error {
	if err := c.client.Del(ctx, c.key(tenantID, assessmentID)).Err(); err != nil {
		return fmt.Errorf("failed to delete score tally: %w", err)
	}
	return nil
}
