package service

import "context"

// EmbeddingClient generates embedding vectors for text.
// Implemented by provider-specific clients (OpenAI, Google Gemini, OpenAI-compatible, mock).
type EmbeddingClient interface {
	Name() string
	CreateEmbedding(ctx context.Context, input string) ([]float32, error)
}
