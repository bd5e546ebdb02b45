// Package cache stores synthesized answers with a TTL and tracks how often questions are asked.
// Two backends exist: Redis for multi-instance deployments and an in-process one.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/rxlabels/labelhub/internal/models"
)

// AnswerCache is a TTL cache of answer records keyed by QuestionKey.
type AnswerCache interface {
	// Get returns the record and true on hit. A miss is (zero, false, nil).
	Get(ctx context.Context, key string) (models.AnswerRecord, bool, error)
	// Set stores record under record.QuestionKey for ttl.
	Set(ctx context.Context, record models.AnswerRecord, ttl time.Duration) error
}

// PopularityTracker counts normalized questions in a bounded structure.
type PopularityTracker interface {
	Record(ctx context.Context, question string) error
	// Top returns up to n questions, most frequent first.
	Top(ctx context.Context, n int) ([]models.PopularQuestion, error)
}

// NormalizeQuestion trims, lowercases and collapses whitespace.
func NormalizeQuestion(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

// QuestionKey builds the cache key for a question asked for an audience.
func QuestionKey(question string, audience models.Audience) string {
	return NormalizeQuestion(question) + "|" + string(audience)
}
