// Package embeddings holds the embedding providers that do not come with a vendor SDK wrapper:
// a deterministic lexical embedder for tests and offline runs, and a client for
// OpenAI-compatible endpoints (Ollama, vLLM, LocalAI and similar).
package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"strings"

	"github.com/rxlabels/labelhub/internal/huberrors"
	pkgembeddings "github.com/rxlabels/labelhub/pkg/embeddings"
	"github.com/rxlabels/labelhub/pkg/labeltext"
)

const (
	// MockProviderName identifies the mock backend.
	MockProviderName = "mock"
	// MockModelID is stored with embeddings produced by MockClient.
	MockModelID = "mock-lexical"

	defaultMockDimensions = 1536
)

// ErrEmptyInput is returned when input is empty after trimming.
var ErrEmptyInput = errors.New("embeddings: input text is empty")

// MockClient generates deterministic bag-of-words embeddings. Each distinct content token
// (stopwords removed) sets one hashed dimension, and the vector is L2-normalized, so texts
// sharing vocabulary have a high cosine similarity. Hash collisions only merge dimensions,
// which never lowers the similarity of two texts that share a token.
type MockClient struct {
	dimensions int
}

// NewMockClient creates a mock embedding client. Non-positive dimensions default to 1536.
func NewMockClient(dimensions int) *MockClient {
	if dimensions <= 0 {
		dimensions = defaultMockDimensions
	}

	return &MockClient{dimensions: dimensions}
}

// Name returns the provider name.
func (c *MockClient) Name() string {
	return MockProviderName
}

// CreateEmbedding returns the lexical embedding of input.
func (c *MockClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, huberrors.NewProviderError(huberrors.ProviderUnavailable, MockProviderName, 0, err)
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return nil, huberrors.NewProviderError(huberrors.ProviderRejected, MockProviderName, 0, ErrEmptyInput)
	}

	tokens := labeltext.Tokens(input)
	if len(tokens) == 0 {
		// only stopwords: still produce a stable non-zero vector
		tokens = []string{strings.ToLower(input)}
	}

	vec := make([]float32, c.dimensions)
	for _, tok := range tokens {
		vec[c.bucket(tok)] = 1
	}

	pkgembeddings.NormalizeL2(vec)

	return vec, nil
}

func (c *MockClient) bucket(token string) int {
	sum := sha256.Sum256([]byte(token))

	//nolint:gosec // G115: modulo by a positive int fits in int
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(c.dimensions))
}
