package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/rxlabels/labelhub/internal/huberrors"
)

// CompatibleProviderName identifies OpenAI-compatible endpoints.
const CompatibleProviderName = "compatible"

var (
	// ErrNoEmbeddingInResponse is returned when the endpoint answers without data.
	ErrNoEmbeddingInResponse = errors.New("embeddings: no embedding in response")
	// ErrDimensionMismatch is returned when the vector length differs from the configured dimensions.
	ErrDimensionMismatch = errors.New("embeddings: embedding dimension mismatch")
)

// CompatibleClient talks to any server implementing the OpenAI embeddings API.
type CompatibleClient struct {
	client     *openai.Client
	model      string
	dimensions int
}

// NewCompatibleClient creates a client for baseURL (e.g. http://localhost:11434/v1).
// dimensions of 0 disables the length check.
func NewCompatibleClient(baseURL, apiKey, model string, dimensions int) *CompatibleClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}

	return &CompatibleClient{
		client:     openai.NewClientWithConfig(cfg),
		model:      model,
		dimensions: dimensions,
	}
}

// Name returns the provider name.
func (c *CompatibleClient) Name() string {
	return CompatibleProviderName
}

// CreateEmbedding returns the embedding vector for input.
func (c *CompatibleClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	vectors, err := c.CreateEmbeddings(ctx, []string{input})
	if err != nil {
		return nil, err
	}

	return vectors[0], nil
}

// CreateEmbeddings embeds several texts in one request. Used by backfills.
func (c *CompatibleClient) CreateEmbeddings(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, huberrors.NewProviderError(huberrors.ProviderRejected, CompatibleProviderName, 0, ErrEmptyInput)
	}

	cleaned := make([]string, len(inputs))

	for i, in := range inputs {
		cleaned[i] = strings.TrimSpace(in)
		if cleaned[i] == "" {
			return nil, huberrors.NewProviderError(huberrors.ProviderRejected, CompatibleProviderName, 0,
				fmt.Errorf("%w (index %d)", ErrEmptyInput, i))
		}
	}

	req := openai.EmbeddingRequest{
		Input: cleaned,
		Model: openai.EmbeddingModel(c.model),
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("compatible embedding: %w", mapError(err))
	}

	if len(resp.Data) != len(cleaned) {
		return nil, huberrors.NewProviderError(huberrors.ProviderUnavailable, CompatibleProviderName, 0,
			fmt.Errorf("%w: got %d, want %d", ErrNoEmbeddingInResponse, len(resp.Data), len(cleaned)))
	}

	out := make([][]float32, len(resp.Data))

	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: index %d out of range", ErrNoEmbeddingInResponse, d.Index)
		}

		if c.dimensions > 0 && len(d.Embedding) != c.dimensions {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(d.Embedding), c.dimensions)
		}

		out[d.Index] = d.Embedding
	}

	return out, nil
}

func mapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return huberrors.FromStatusCode(CompatibleProviderName, apiErr.HTTPStatusCode, err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return huberrors.FromStatusCode(CompatibleProviderName, reqErr.HTTPStatusCode, err)
	}

	return huberrors.FromTransportError(CompatibleProviderName, err)
}
