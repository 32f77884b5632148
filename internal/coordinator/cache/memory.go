package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/scrapegrid/internal/coordinator/core"
)

type memoryEntry struct {
	progress  core.Progress
	expiresAt time.Time
}

// MemoryProgressCache is the in-process fallback when no Redis is
// configured. Expired entries are dropped lazily on read.
type MemoryProgressCache struct {
	mu      sync.Mutex
	entries map[uuid.UUID]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryProgressCache(ttl time.Duration, now func() time.Time) *MemoryProgressCache {
	if ttl <= 0 {
		ttl = DefaultProgressTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryProgressCache{entries: make(map[uuid.UUID]memoryEntry), ttl: ttl, now: now}
}

func (c *MemoryProgressCache) SetProgress(_ context.Context, progress core.Progress) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[progress.JobID] = memoryEntry{progress: progress, expiresAt: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryProgressCache) GetProgress(_ context.Context, jobID uuid.UUID) (*core.Progress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[jobID]
	if ok && !c.now().Before(e.expiresAt) {
		delete(c.entries, jobID)
		ok = false
	}
	if !ok {
		return nil, fmt.Errorf("progress for job %s: %w", jobID, core.ErrNotFound)
	}
	p := e.progress
	return &p, nil
}

func (c *MemoryProgressCache) DeleteProgress(_ context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, jobID)
	return nil
}
