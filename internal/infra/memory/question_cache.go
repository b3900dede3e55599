package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizroom/internal/domain"
)

// QuestionLoader fetches a room's questions from the backing store.
type QuestionLoader interface {
	GetQuestions(ctx context.Context, roomID string) ([]domain.Question, error)
}

// QuestionCache caches question lists with TTL. Questions are immutable once a
// room exists, so a stale entry can only outlive a deleted room.
type QuestionCache struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu    sync.RWMutex
	cache map[string]cachedQuestions
}

type cachedQuestions struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCache(loader QuestionLoader, ttl time.Duration) *QuestionCache {
	return NewQuestionCacheWithClock(loader, ttl, time.Now)
}

func NewQuestionCacheWithClock(loader QuestionLoader, ttl time.Duration, clock func() time.Time) *QuestionCache {
	return &QuestionCache{
		loader: loader,
		ttl:    ttl,
		clock:  clock,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedQuestions),
	}
}

func (c *QuestionCache) GetQuestions(ctx context.Context, roomID string) ([]domain.Question, error) {
	if qs, ok := c.lookup(roomID); ok {
		return qs, nil
	}

	result, err, _ := c.sf.Do(roomID, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		if qs, ok := c.lookup(roomID); ok {
			return qs, nil
		}
		qs, err := c.loader.GetQuestions(ctx, roomID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[roomID] = cachedQuestions{
			questions: qs,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return qs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

// Forget drops a room from the cache.
func (c *QuestionCache) Forget(roomID string) {
	c.mu.Lock()
	delete(c.cache, roomID)
	c.mu.Unlock()
}

func (c *QuestionCache) lookup(roomID string) ([]domain.Question, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[roomID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false
	}
	return entry.questions, true
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
