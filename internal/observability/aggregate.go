package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all labelhub metric collectors. When metrics are disabled, the aggregate is nil.
// Components accept the interface of their concern and already handle nil.
type Metrics struct {
	HTTP       HTTPMetrics
	Embeddings EmbeddingMetrics
	Generation GenerationMetrics
	Retrieval  RetrievalMetrics
	Batch      BatchMetrics
	Cache      CacheMetrics
}

// NewMetrics creates every collector from the given meter.
// Returns (nil, nil) when meter is nil (metrics disabled).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		//nolint:nilnil // intentional: callers use "if metrics != nil" when metrics disabled
		return nil, nil
	}

	httpMetrics, err := NewHTTPMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("http metrics: %w", err)
	}

	embeddings, err := NewEmbeddingMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("embedding metrics: %w", err)
	}

	generation, err := NewGenerationMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("generation metrics: %w", err)
	}

	retrieval, err := NewRetrievalMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("retrieval metrics: %w", err)
	}

	batch, err := NewBatchMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("batch metrics: %w", err)
	}

	cache, err := NewCacheMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("cache metrics: %w", err)
	}

	return &Metrics{
		HTTP:       httpMetrics,
		Embeddings: embeddings,
		Generation: generation,
		Retrieval:  retrieval,
		Batch:      batch,
		Cache:      cache,
	}, nil
}
