package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxlabels/labelhub/internal/models"
)

func TestQuestionKey(t *testing.T) {
	assert.Equal(t, "what treats psoriasis?|patient",
		QuestionKey("  What   treats\tPsoriasis? ", models.AudiencePatient))
	assert.Equal(t, QuestionKey("a b", models.AudienceGeneral), QuestionKey("A  B", models.AudienceGeneral))
	assert.NotEqual(t, QuestionKey("a b", models.AudienceGeneral), QuestionKey("a b", models.AudienceProvider))
}

func TestMemoryAnswerCache(t *testing.T) {
	ctx := context.Background()

	t.Run("round trip", func(t *testing.T) {
		c := NewMemoryAnswerCache(10, time.Hour)
		rec := models.AnswerRecord{QuestionKey: "q|general", AnswerText: "answer"}

		require.NoError(t, c.Set(ctx, rec, time.Minute))

		got, ok, err := c.Get(ctx, "q|general")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "answer", got.AnswerText)
		assert.False(t, got.ExpiresAt.IsZero())
	})

	t.Run("miss", func(t *testing.T) {
		c := NewMemoryAnswerCache(10, time.Hour)

		_, ok, err := c.Get(ctx, "absent")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expired entry is a miss", func(t *testing.T) {
		c := NewMemoryAnswerCache(10, time.Hour)
		now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return now }

		require.NoError(t, c.Set(ctx, models.AnswerRecord{QuestionKey: "k"}, time.Minute))

		now = now.Add(2 * time.Minute)

		_, ok, err := c.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestMemoryPopularityTracker(t *testing.T) {
	ctx := context.Background()

	t.Run("counts normalized questions", func(t *testing.T) {
		tr := NewMemoryPopularityTracker(10)

		require.NoError(t, tr.Record(ctx, "What is Taltz?"))
		require.NoError(t, tr.Record(ctx, "  what is   taltz? "))
		require.NoError(t, tr.Record(ctx, "dosage of zestril"))
		require.NoError(t, tr.Record(ctx, "   "))

		top, err := tr.Top(ctx, 5)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, models.PopularQuestion{Question: "what is taltz?", Count: 2}, top[0])
		assert.Equal(t, int64(1), top[1].Count)
	})

	t.Run("bounded size", func(t *testing.T) {
		tr := NewMemoryPopularityTracker(3)

		for range 5 {
			require.NoError(t, tr.Record(ctx, "frequent"))
		}

		for i := range 20 {
			require.NoError(t, tr.Record(ctx, fmt.Sprintf("rare %d", i)))
		}

		assert.Equal(t, 3, tr.Len())

		top, err := tr.Top(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "frequent", top[0].Question)
	})

	t.Run("newcomer replaces the least frequent question", func(t *testing.T) {
		assertNewcomerEntersFullTracker(t, NewMemoryPopularityTracker(2))
	})

	t.Run("top limit", func(t *testing.T) {
		tr := NewMemoryPopularityTracker(10)
		for _, q := range []string{"a", "b", "c"} {
			require.NoError(t, tr.Record(ctx, q))
		}

		top, err := tr.Top(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, top, 2)
	})
}

// assertNewcomerEntersFullTracker checks the eviction rule shared by every PopularityTracker:
// in a full tracker the lowest count (ties: lowest question) is replaced by the new question,
// which starts at that count plus one.
func assertNewcomerEntersFullTracker(t *testing.T, tr PopularityTracker) {
	t.Helper()

	ctx := context.Background()

	for _, q := range []string{"b", "c", "c", "a"} {
		require.NoError(t, tr.Record(ctx, q))
	}

	top, err := tr.Top(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.PopularQuestion{
		{Question: "a", Count: 2},
		{Question: "c", Count: 2},
	}, top)
}
