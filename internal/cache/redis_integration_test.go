package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, "redis://"+endpoint+"/0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedisAnswerCache(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	c := NewRedisAnswerCache(client, "test:")

	rec := models.AnswerRecord{
		QuestionKey: QuestionKey("What is Taltz?", models.AudienceGeneral),
		AnswerText:  "Taltz treats plaque psoriasis.",
		Confidence:  0.62,
		SupportingEntities: []models.SupportingEntity{
			{EntityID: "taltz", RelevanceScore: 0.58, Source: models.HitSourceSemantic},
		},
	}

	require.NoError(t, c.Set(ctx, rec, time.Minute))

	got, ok, err := c.Get(ctx, rec.QuestionKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.AnswerText, got.AnswerText)
	assert.Equal(t, rec.SupportingEntities, got.SupportingEntities)

	ttl, err := client.TTL(ctx, "test:answer:"+rec.QuestionKey).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, ok, err = c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisPopularityTracker(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	tr := NewRedisPopularityTracker(client, "test:", 3)

	for range 4 {
		require.NoError(t, tr.Record(ctx, "What is Taltz?"))
	}

	for i := range 5 {
		require.NoError(t, tr.Record(ctx, fmt.Sprintf("question %d", i)))
	}

	size, err := client.ZCard(ctx, "test:popular_questions").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(3), size)

	top, err := tr.Top(ctx, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, models.PopularQuestion{Question: "what is taltz?", Count: 4}, top[0])

	t.Run("newcomer replaces the least frequent question", func(t *testing.T) {
		tr := NewRedisPopularityTracker(client, "newcomer:", 2)
		assertNewcomerEntersFullTracker(t, tr)
	})
}

func TestRedisUnavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })

	_, _, err := NewRedisAnswerCache(client, "").Get(context.Background(), "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, huberrors.ErrStoreUnavailable)
}
