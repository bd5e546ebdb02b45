// Package openai provides a thin wrapper around the official OpenAI Go SDK for embeddings and chat completions.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
)

// ProviderName identifies this backend in errors, logs and GenerationResult.Provider.
const ProviderName = "openai"

var (
	// ErrEmptyInput is returned when CreateEmbedding or Complete is called with empty input.
	ErrEmptyInput = errors.New("openai: input text is empty")
	// ErrInvalidDims is returned when dimensions is not positive.
	ErrInvalidDims = errors.New("openai: embedding dimensions must be positive")
	// ErrNoEmbeddingInResponse is returned when the API response contains no embedding data.
	ErrNoEmbeddingInResponse = errors.New("openai: no embedding in response")
	// ErrDimensionMismatch is returned when the response embedding length does not match configured dimensions.
	ErrDimensionMismatch = errors.New("openai: embedding dimension mismatch")
	// ErrNoChoiceInResponse is returned when a chat completion has no choices.
	ErrNoChoiceInResponse = errors.New("openai: no choice in response")
)

const (
	defaultDimension      = 1536
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultChatModel      = "gpt-4o-mini"
)

// Client calls the OpenAI embeddings and chat completions APIs via the official SDK.
type Client struct {
	sdk            openaisdk.Client
	dimensions     int
	embeddingModel string
	chatModel      string
	requestOpts    []option.RequestOption
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithDimensions sets the requested embedding dimension (must match DB column).
func WithDimensions(dim int) ClientOption {
	return func(c *Client) {
		c.dimensions = dim
	}
}

// WithModel sets the embedding model. Empty keeps text-embedding-3-small.
func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.embeddingModel = model
		}
	}
}

// WithChatModel sets the chat completion model. Empty keeps the default.
func WithChatModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.chatModel = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.requestOpts = append(c.requestOpts, option.WithBaseURL(baseURL))
		}
	}
}

// NewClient creates an OpenAI client using the official SDK.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	client := &Client{
		dimensions:     defaultDimension,
		embeddingModel: defaultEmbeddingModel,
		chatModel:      defaultChatModel,
	}

	for _, opt := range opts {
		opt(client)
	}

	// Retries are owned by the generation orchestrator and the River worker.
	sdkOpts := append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, client.requestOpts...)
	client.sdk = openaisdk.NewClient(sdkOpts...)

	return client
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// CreateEmbedding returns the embedding vector for the given text using the configured model.
// The returned slice length equals the configured dimensions.
func (c *Client) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, huberrors.NewProviderError(huberrors.ProviderRejected, ProviderName, 0, ErrEmptyInput)
	}

	if c.dimensions <= 0 {
		return nil, ErrInvalidDims
	}

	resp, err := c.sdk.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfString: param.NewOpt(input),
		},
		Model:      openaisdk.EmbeddingModel(c.embeddingModel),
		Dimensions: param.NewOpt(int64(c.dimensions)),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", mapError(err))
	}

	if len(resp.Data) == 0 {
		return nil, huberrors.NewProviderError(huberrors.ProviderUnavailable, ProviderName, 0, ErrNoEmbeddingInResponse)
	}

	emb := resp.Data[0].Embedding
	if len(emb) != c.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(emb), c.dimensions)
	}

	out := make([]float32, len(emb))
	for i := range emb {
		out[i] = float32(emb[i])
	}

	return out, nil
}

// Complete sends one system + user message pair to the chat completions API.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	if strings.TrimSpace(req.UserPrompt) == "" {
		return models.CompletionResponse{}, huberrors.NewProviderError(huberrors.ProviderRejected, ProviderName, 0, ErrEmptyInput)
	}

	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.chatModel),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(req.SystemPrompt),
			openaisdk.UserMessage(req.UserPrompt),
		},
		Temperature: openaisdk.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaisdk.Int(int64(req.MaxTokens))
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return models.CompletionResponse{}, fmt.Errorf("openai completion: %w", mapError(err))
	}

	if len(resp.Choices) == 0 {
		return models.CompletionResponse{}, huberrors.NewProviderError(
			huberrors.ProviderUnavailable, ProviderName, 0, ErrNoChoiceInResponse)
	}

	return models.CompletionResponse{
		Text:       resp.Choices[0].Message.Content,
		TokensUsed: int(resp.Usage.TotalTokens),
	}, nil
}

// mapError converts SDK errors into huberrors.ProviderError. The original error stays in the chain.
func mapError(err error) error {
	var apiErr *openaisdk.Error
	if errors.As(err, &apiErr) {
		return huberrors.FromStatusCode(ProviderName, apiErr.StatusCode, err)
	}

	return huberrors.FromTransportError(ProviderName, err)
}
