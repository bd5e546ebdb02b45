package cache

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
)

const (
	redisStoreName       = "redis"
	defaultKeyPrefix     = "labelhub:"
	answerKeyPart        = "answer:"
	popularQuestionsPart = "popular_questions"
)

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// RedisAnswerCache stores answers as JSON strings with a native Redis TTL.
type RedisAnswerCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisAnswerCache creates an answer cache. An empty prefix uses "labelhub:".
func NewRedisAnswerCache(client redis.Cmdable, prefix string) *RedisAnswerCache {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &RedisAnswerCache{client: client, prefix: prefix + answerKeyPart}
}

// Get reads and decodes an answer. Undecodable entries are treated as misses.
func (c *RedisAnswerCache) Get(ctx context.Context, key string) (models.AnswerRecord, bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.AnswerRecord{}, false, nil
		}

		return models.AnswerRecord{}, false, fmt.Errorf("answer cache get: %w",
			huberrors.NewStoreUnavailableError(redisStoreName, err))
	}

	var record models.AnswerRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return models.AnswerRecord{}, false, nil //nolint:nilerr // corrupt entry behaves like a miss
	}

	return record, true, nil
}

// Set writes the answer with ttl.
func (c *RedisAnswerCache) Set(ctx context.Context, record models.AnswerRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("answer cache encode: %w", err)
	}

	if err := c.client.Set(ctx, c.prefix+record.QuestionKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("answer cache set: %w", huberrors.NewStoreUnavailableError(redisStoreName, err))
	}

	return nil
}

// recordPopularityScript counts one occurrence of ARGV[1] in the sorted set KEYS[1] holding at
// most ARGV[2] members. When the set is full a new question replaces the lowest-scored one
// (ties: lowest member) and starts from that score plus one, as MemoryPopularityTracker does.
var recordPopularityScript = redis.NewScript(`
local key, member, limit = KEYS[1], ARGV[1], tonumber(ARGV[2])
if redis.call('ZSCORE', key, member) or redis.call('ZCARD', key) < limit then
	return redis.call('ZINCRBY', key, 1, member)
end
redis.call('ZREMRANGEBYRANK', key, 0, -limit - 1)
local lowest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
redis.call('ZREM', key, lowest[1])
return redis.call('ZADD', key, tonumber(lowest[2]) + 1, member)
`)

// RedisPopularityTracker keeps question counts in a sorted set bounded to maxEntries members.
type RedisPopularityTracker struct {
	client     redis.Cmdable
	key        string
	maxEntries int64
}

// NewRedisPopularityTracker creates a tracker. An empty prefix uses "labelhub:".
func NewRedisPopularityTracker(client redis.Cmdable, prefix string, maxEntries int) *RedisPopularityTracker {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &RedisPopularityTracker{
		client:     client,
		key:        prefix + popularQuestionsPart,
		maxEntries: int64(max(maxEntries, 1)),
	}
}

// Record increments the question's score. A new question in a full set takes the place of the
// least frequent one.
func (t *RedisPopularityTracker) Record(ctx context.Context, question string) error {
	question = NormalizeQuestion(question)
	if question == "" {
		return nil
	}

	err := recordPopularityScript.Run(ctx, t.client, []string{t.key}, question, t.maxEntries).Err()
	if err != nil {
		return fmt.Errorf("popularity record: %w", huberrors.NewStoreUnavailableError(redisStoreName, err))
	}

	return nil
}

// Top returns the n highest-scored questions.
func (t *RedisPopularityTracker) Top(ctx context.Context, n int) ([]models.PopularQuestion, error) {
	if n <= 0 {
		return []models.PopularQuestion{}, nil
	}

	entries, err := t.client.ZRevRangeWithScores(ctx, t.key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("popularity top: %w", huberrors.NewStoreUnavailableError(redisStoreName, err))
	}

	out := make([]models.PopularQuestion, 0, len(entries))

	for _, z := range entries {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}

		out = append(out, models.PopularQuestion{Question: member, Count: int64(z.Score)})
	}

	// ZREVRANGE orders equal scores by member descending; list ties alphabetically instead.
	slices.SortStableFunc(out, func(a, b models.PopularQuestion) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}

		return cmp.Compare(a.Question, b.Question)
	})

	return out, nil
}

var (
	_ AnswerCache       = (*RedisAnswerCache)(nil)
	_ PopularityTracker = (*RedisPopularityTracker)(nil)
)
