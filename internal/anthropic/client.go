// Package anthropic wraps the Anthropic Messages API as a completion provider.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
)

// ProviderName identifies this backend in errors and logs.
const ProviderName = "anthropic"

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
)

var (
	// ErrEmptyInput is returned when Complete is called without a user prompt.
	ErrEmptyInput = errors.New("anthropic: input text is empty")
	// ErrNoTextInResponse is returned when the response carries no text block.
	ErrNoTextInResponse = errors.New("anthropic: no text in response")
)

// Client calls the Messages API.
type Client struct {
	client anthropicsdk.Client
	model  string
}

// ClientOption configures the Client.
type ClientOption func(*clientConfig)

type clientConfig struct {
	model   string
	baseURL string
}

// WithModel sets the model. Empty uses the default.
func WithModel(model string) ClientOption {
	return func(c *clientConfig) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *clientConfig) {
		c.baseURL = baseURL
	}
}

// NewClient creates an Anthropic completion client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	cfg := clientConfig{model: defaultModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Client{
		client: anthropicsdk.NewClient(reqOpts...),
		model:  cfg.model,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Complete sends a single user turn with the system prompt and returns the concatenated text blocks.
func (c *Client) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	if strings.TrimSpace(req.UserPrompt) == "" {
		return models.CompletionResponse{}, huberrors.NewProviderError(huberrors.ProviderRejected, ProviderName, 0, ErrEmptyInput)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropicsdk.MessageParam{
			anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(req.UserPrompt)),
		},
		Temperature: anthropicsdk.Float(req.Temperature),
	}

	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return models.CompletionResponse{}, fmt.Errorf("anthropic completion: %w", mapError(err))
	}

	var b strings.Builder

	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	if b.Len() == 0 {
		return models.CompletionResponse{}, huberrors.NewProviderError(
			huberrors.ProviderUnavailable, ProviderName, 0, ErrNoTextInResponse)
	}

	return models.CompletionResponse{
		Text:       b.String(),
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}, nil
}

func mapError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return huberrors.FromStatusCode(ProviderName, apiErr.StatusCode, err)
	}

	return huberrors.FromTransportError(ProviderName, err)
}
