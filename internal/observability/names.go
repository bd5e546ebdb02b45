// Package observability provides OpenTelemetry metrics and tracing for labelhub.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameHTTPRequests        = "labelhub_http_requests_total"
	MetricNameHTTPRequestDuration = "labelhub_http_request_duration_seconds"
	MetricNameRequestBodyTooLarge = "labelhub_request_body_too_large_total"

	MetricNameEmbeddingJobsEnqueued   = "labelhub_embedding_jobs_enqueued_total"
	MetricNameEmbeddingProviderErrors = "labelhub_embedding_provider_errors_total"
	MetricNameEmbeddingOutcomes       = "labelhub_embedding_outcomes_total"
	MetricNameEmbeddingDuration       = "labelhub_embedding_duration_seconds"
	MetricNameEmbeddingQueueDepth     = "labelhub_embedding_queue_depth"

	MetricNameGenerationAttempts = "labelhub_generation_attempts_total"
	MetricNameGenerationResults  = "labelhub_generation_results_total"
	MetricNameGenerationDuration = "labelhub_generation_duration_seconds"

	MetricNameRetrievalSearches    = "labelhub_retrieval_searches_total"
	MetricNameRetrievalDuration    = "labelhub_retrieval_duration_seconds"
	MetricNameRetrievalStoreErrors = "labelhub_retrieval_store_errors_total"

	MetricNameBatchEntities = "labelhub_batch_entities_total"

	MetricNameCacheHits   = "labelhub_cache_hits_total"
	MetricNameCacheMisses = "labelhub_cache_misses_total"
	MetricNameCacheErrors = "labelhub_cache_errors_total"
)

// Attribute keys.
const (
	AttrCategory     = "content_category"
	AttrContentType  = "content_type"
	AttrMode         = "mode"
	AttrOutcome      = "outcome"
	AttrProviderUsed = "provider_used"
	AttrReason       = "reason"
	AttrStatus       = "status"
	AttrTask         = "task"
)

// AllowedEmbeddingProviderReason for labelhub_embedding_provider_errors_total.
var AllowedEmbeddingProviderReason = map[string]bool{
	"unavailable":    true,
	"rejected":       true,
	"rate_limited":   true,
	"enqueue_failed": true,
	"store_failed":   true,
}

// AllowedEmbeddingOutcomeStatus for labelhub_embedding_outcomes_total and the duration histogram.
func AllowedEmbeddingOutcomeStatus(status string) bool {
	switch status {
	case "success", "partial", "skipped", "failed_retry", "failed_final":
		return true
	default:
		return false
	}
}

// AllowedGenerationOutcomes for labelhub_generation_attempts_total.
var AllowedGenerationOutcomes = map[string]bool{
	"success":      true,
	"transient":    true,
	"rejected":     true,
	"unreachable":  true,
	"invalid":      true,
	"cancelled":    true,
	"unclassified": true,
}

// AllowedFallbackReasons for labelhub_generation_results_total when the template was used.
var AllowedFallbackReasons = map[string]bool{
	"retries_exhausted": true,
	"rejected":          true,
	"unreachable":       true,
	"validation_failed": true,
	"cancelled":         true,
	"no_provider":       true,
	"provider_error":    true,
}

// AllowedRetrievalModes for labelhub_retrieval_searches_total.
var AllowedRetrievalModes = map[string]bool{
	"semantic": true,
	"keyword":  true,
}

// AllowedRetrievalReasons explain why keyword fallback was used.
var AllowedRetrievalReasons = map[string]bool{
	"no_hits":        true,
	"embed_failed":   true,
	"store_failed":   true,
	"embeddings_off": true,
}

// AllowedCacheNames bounds the cache attribute.
var AllowedCacheNames = map[string]bool{
	"answer":          true,
	"query_embedding": true,
	"popularity":      true,
}

// AllowedBatchStatuses for labelhub_batch_entities_total.
var AllowedBatchStatuses = map[string]bool{
	"succeeded": true,
	"partial":   true,
	"failed":    true,
	"not_found": true,
	"cancelled": true,
}

// NormalizeReason returns reason if in allowed, otherwise "other".
func NormalizeReason(reason string, allowed map[string]bool) string {
	if allowed[reason] {
		return reason
	}

	return "other"
}

// NormalizeCacheName returns name if allowed, otherwise "other".
func NormalizeCacheName(name string) string {
	return NormalizeReason(name, AllowedCacheNames)
}
