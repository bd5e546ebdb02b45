// Package googleai provides a thin wrapper around the Google Gen AI SDK (Gemini API) for embeddings and text generation.
package googleai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"google.golang.org/genai"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
)

// ProviderName identifies this backend in errors and logs.
const ProviderName = "google"

var (
	// ErrEmptyInput is returned when CreateEmbedding or Complete is called with empty input.
	ErrEmptyInput = errors.New("googleai: input text is empty")
	// ErrInvalidDims is returned when dimensions is not positive.
	ErrInvalidDims = errors.New("googleai: embedding dimensions must be positive")
	// ErrNoEmbeddingInResponse is returned when the API response contains no embedding data.
	ErrNoEmbeddingInResponse = errors.New("googleai: no embedding in response")
	// ErrDimensionMismatch is returned when the response embedding length does not match configured dimensions.
	ErrDimensionMismatch = errors.New("googleai: embedding dimension mismatch")
	// ErrNoTextInResponse is returned when generation produced no candidates.
	ErrNoTextInResponse = errors.New("googleai: no text in response")
)

const (
	defaultDimension = 1536
	defaultModel     = "gemini-embedding-001"
	defaultChatModel = "gemini-2.5-flash"
)

// Client calls the Gemini embeddings and generate-content APIs via the Google Gen AI SDK.
type Client struct {
	client     *genai.Client
	model      string
	chatModel  string
	dimensions int
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the requested embedding dimension (must match DB column).
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		c.dimensions = dim
	}
}

// WithModel sets the embedding model name (e.g. gemini-embedding-001). Empty uses default.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithChatModel sets the generation model name. Empty uses default.
func WithChatModel(model string) ClientOption {
	return func(c *Client) {
		c.chatModel = model
	}
}

// NewClient creates a Gemini client.
func NewClient(ctx context.Context, apiKey string, opts ...ClientOption) (*Client, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("googleai client: %w", err)
	}

	client := &Client{
		client:     genaiClient,
		model:      defaultModel,
		chatModel:  defaultChatModel,
		dimensions: defaultDimension,
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// CreateEmbedding returns the embedding vector for the given text using the configured model.
// The returned slice length equals the configured dimensions when OutputDimensionality is supported.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, huberrors.NewProviderError(huberrors.ProviderRejected, ProviderName, 0, ErrEmptyInput)
	}

	if c.dimensions <= 0 || c.dimensions > math.MaxInt32 {
		return nil, ErrInvalidDims
	}

	model := c.model
	if model == "" {
		model = defaultModel
	}

	contents := []*genai.Content{genai.NewContentFromText(input, genai.RoleUser)}
	//nolint:gosec // G115: c.dimensions is bounded above by math.MaxInt32
	dimInt32 := int32(c.dimensions)

	resp, err := c.client.Models.EmbedContent(ctx, model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dimInt32,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embedding: %w", mapError(err))
	}

	if len(resp.Embeddings) == 0 {
		return nil, huberrors.NewProviderError(huberrors.ProviderUnavailable, ProviderName, 0, ErrNoEmbeddingInResponse)
	}

	emb := resp.Embeddings[0].Values
	if len(emb) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), c.dimensions)
	}

	out := make([]float32, len(emb))
	copy(out, emb)

	return out, nil
}

// Complete generates text with the system prompt passed as system instruction.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	if strings.TrimSpace(req.UserPrompt) == "" {
		return models.CompletionResponse{}, huberrors.NewProviderError(huberrors.ProviderRejected, ProviderName, 0, ErrEmptyInput)
	}

	model := c.chatModel
	if model == "" {
		model = defaultChatModel
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	if req.MaxTokens > 0 && req.MaxTokens <= math.MaxInt32 {
		cfg.MaxOutputTokens = int32(req.MaxTokens) //nolint:gosec // G115: bounded above
	}

	resp, err := c.client.Models.GenerateContent(ctx, model, genai.Text(req.UserPrompt), cfg)
	if err != nil {
		return models.CompletionResponse{}, fmt.Errorf("gemini completion: %w", mapError(err))
	}

	text := resp.Text()
	if text == "" && len(resp.Candidates) == 0 {
		return models.CompletionResponse{}, huberrors.NewProviderError(
			huberrors.ProviderUnavailable, ProviderName, 0, ErrNoTextInResponse)
	}

	out := models.CompletionResponse{Text: text}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}

	return out, nil
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return huberrors.FromStatusCode(ProviderName, apiErr.Code, err)
	}

	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return huberrors.FromStatusCode(ProviderName, apiErrPtr.Code, err)
	}

	return huberrors.FromTransportError(ProviderName, err)
}
