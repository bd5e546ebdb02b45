package cache

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/rxlabels/labelhub/internal/models"
)

// MemoryAnswerCache is a size-bounded in-process answer cache. Entries expire at the
// earlier of the per-call ttl and the cache-wide ttl.
type MemoryAnswerCache struct {
	lru *expirable.LRU[string, models.AnswerRecord]
	now func() time.Time
}

// NewMemoryAnswerCache creates a cache holding at most size answers for at most ttl.
func NewMemoryAnswerCache(size int, ttl time.Duration) *MemoryAnswerCache {
	return &MemoryAnswerCache{
		lru: expirable.NewLRU[string, models.AnswerRecord](max(size, 1), nil, ttl),
		now: time.Now,
	}
}

// Get returns a live entry.
func (c *MemoryAnswerCache) Get(_ context.Context, key string) (models.AnswerRecord, bool, error) {
	record, ok := c.lru.Get(key)
	if !ok {
		return models.AnswerRecord{}, false, nil
	}

	if !record.ExpiresAt.IsZero() && !c.now().Before(record.ExpiresAt) {
		c.lru.Remove(key)

		return models.AnswerRecord{}, false, nil
	}

	return record, true, nil
}

// Set stores record; ExpiresAt is set from ttl when it is not already set.
func (c *MemoryAnswerCache) Set(_ context.Context, record models.AnswerRecord, ttl time.Duration) error {
	if record.ExpiresAt.IsZero() && ttl > 0 {
		record.ExpiresAt = c.now().Add(ttl)
	}

	c.lru.Add(record.QuestionKey, record)

	return nil
}

// MemoryPopularityTracker is a space-saving counter: at most maxEntries questions are tracked;
// a new question arriving when full replaces the least-counted one and inherits its count plus one.
type MemoryPopularityTracker struct {
	mu         sync.Mutex
	maxEntries int
	counts     map[string]int64
}

// NewMemoryPopularityTracker creates a tracker bounded to maxEntries questions.
func NewMemoryPopularityTracker(maxEntries int) *MemoryPopularityTracker {
	return &MemoryPopularityTracker{
		maxEntries: max(maxEntries, 1),
		counts:     make(map[string]int64),
	}
}

// Record counts one occurrence of question.
func (t *MemoryPopularityTracker) Record(_ context.Context, question string) error {
	question = NormalizeQuestion(question)
	if question == "" {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.counts[question]; ok || len(t.counts) < t.maxEntries {
		t.counts[question]++

		return nil
	}

	var (
		minKey   string
		minCount int64 = -1
	)

	for q, c := range t.counts {
		if minCount < 0 || c < minCount || (c == minCount && q < minKey) {
			minKey, minCount = q, c
		}
	}

	delete(t.counts, minKey)
	t.counts[question] = minCount + 1

	return nil
}

// Top returns up to n questions by count, ties broken alphabetically.
func (t *MemoryPopularityTracker) Top(_ context.Context, n int) ([]models.PopularQuestion, error) {
	t.mu.Lock()
	out := make([]models.PopularQuestion, 0, len(t.counts))

	for q, c := range t.counts {
		out = append(out, models.PopularQuestion{Question: q, Count: c})
	}
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b models.PopularQuestion) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}

		return cmp.Compare(a.Question, b.Question)
	})

	if n >= 0 && len(out) > n {
		out = out[:n]
	}

	return out, nil
}

// Len returns the number of tracked questions.
func (t *MemoryPopularityTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.counts)
}

var (
	_ AnswerCache       = (*MemoryAnswerCache)(nil)
	_ PopularityTracker = (*MemoryPopularityTracker)(nil)
)
