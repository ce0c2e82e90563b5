package cache

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/Shamoka80/r2ready-sub010/pkg/models"
)

type memoryKey struct {
	tenantID     uuid.UUID
	assessmentID uuid.UUID
}

// MemoryScoreCache is an in-process ScoreCache used when Redis is not configured.
type MemoryScoreCache struct {
	mu      sync.RWMutex
	entries map[memoryKey]*models.ScoreTally
}

var _ ScoreCache = (*MemoryScoreCache)(nil)

// NewMemoryScoreCache creates an empty cache.
func NewMemoryScoreCache() *MemoryScoreCache {
	return &MemoryScoreCache{entries: make(map[memoryKey]*models.ScoreTally)}
}

func (c *MemoryScoreCache) Get(_ context.Context, tenantID, assessmentID uuid.UUID) (*models.ScoreTally, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[memoryKey{tenantID, assessmentID}].Clone(), nil
}

func (c *MemoryScoreCache) Set(_ context.Context, tenantID uuid.UUID, tally *models.ScoreTally) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[memoryKey{tenantID, tally.AssessmentID}] = tally.Clone()
	return nil
}

func (c *MemoryScoreCache) Delete(_ context.Context, tenantID, assessmentID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, memoryKey{tenantID, assessmentID})
	return nil
}
