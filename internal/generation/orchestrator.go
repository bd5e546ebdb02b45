// Package generation turns drug labels into text through a completion provider. Every request
// runs a bounded state machine:
//
//	PENDING -> GENERATING -> SUCCESS
//	                      -> RETRY -> GENERATING ...
//	                      -> EXHAUSTED -> FALLBACK -> COMPLETED
//
// Provider output is sanitized and validated before it is returned. When retries run out, the
// provider rejects the request, the output fails validation or the caller gives up, the result
// is built from a deterministic template instead, so a structurally valid result always comes back
// for a label that has a name.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/internal/observability"
	"github.com/rxlabels/labelhub/pkg/backoff"
)

// State is one step of the per-request state machine.
type State string

// States.
const (
	StatePending    State = "PENDING"
	StateGenerating State = "GENERATING"
	StateSuccess    State = "SUCCESS"
	StateRetry      State = "RETRY"
	StateExhausted  State = "EXHAUSTED"
	StateFallback   State = "FALLBACK"
	StateCompleted  State = "COMPLETED"
)

// Fallback reasons reported in GenerationResult.FallbackReason.
const (
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonRejected         = "rejected"
	ReasonUnreachable      = "unreachable"
	ReasonValidation       = "validation_failed"
	ReasonCancelled        = "cancelled"
	ReasonNoProvider       = "no_provider"
	ReasonProviderError    = "provider_error"
)

const (
	defaultMaxAttempts = 3
	defaultMaxTokens   = 1024
	defaultTemperature = 0.3
	minMaxLength       = 10
)

// CompletionProvider is an external text-generation backend. Implementations map their SDK
// errors onto huberrors.ProviderError and never retry internally.
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error)
}

// Config bounds the orchestrator.
type Config struct {
	// MaxAttempts is the total number of provider calls per request (default 3).
	MaxAttempts int
	Backoff     backoff.Policy
	MaxTokens   int
	Temperature float64
	// CallTimeout bounds a single provider call; zero means only the caller's context applies.
	CallTimeout time.Duration
}

// Orchestrator runs generation requests against one completion provider.
type Orchestrator struct {
	provider CompletionProvider
	prompts  *PromptSet
	cfg      Config
	sleep    backoff.SleepFunc
	now      func() time.Time
	metrics  observability.GenerationMetrics
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSleep replaces the backoff sleep; tests pass a no-op that records delays.
func WithSleep(sleep backoff.SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithClock replaces time.Now for GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics records attempts and results. Nil disables metrics.
func WithMetrics(metrics observability.GenerationMetrics) Option {
	return func(o *Orchestrator) { o.metrics = metrics }
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// NewOrchestrator creates an Orchestrator. A nil provider behaves like TemplateProvider;
// nil prompts use DefaultPrompts.
func NewOrchestrator(provider CompletionProvider, prompts *PromptSet, cfg Config, opts ...Option) *Orchestrator {
	if provider == nil {
		provider = TemplateProvider{}
	}

	if prompts == nil {
		prompts = DefaultPrompts()
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}

	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	if cfg.Temperature < 0 {
		cfg.Temperature = defaultTemperature
	}

	o := &Orchestrator{
		provider: provider,
		prompts:  prompts,
		cfg:      cfg,
		sleep:    backoff.Sleep,
		now:      time.Now,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// ProviderName returns the name of the configured completion provider.
func (o *Orchestrator) ProviderName() string {
	return o.provider.Name()
}

// Generate runs req through the state machine. The returned error is non-nil only for invalid
// requests (huberrors.ValidationError) or when even the fallback cannot produce valid text
// (ErrNoUsableFields).
func (o *Orchestrator) Generate(ctx context.Context, req models.GenerationRequest) (models.GenerationResult, error) {
	req, err := NormalizeRequest(req)
	if err != nil {
		return models.GenerationResult{}, err
	}

	ctx, span := observability.Tracer().Start(ctx, "generation.Generate")
	defer span.End()

	span.SetAttributes(
		attribute.String("content_type", string(req.ContentType)),
		attribute.String("audience", string(req.Audience)),
		attribute.String("entity_id", req.Entity.ID),
	)

	if req.ContentType != models.ContentTypeAnswer && !req.Entity.HasUsableFields() {
		span.SetStatus(codes.Error, "no usable fields")

		return models.GenerationResult{}, fmt.Errorf("generate %s for %q: %w", req.ContentType, req.Entity.ID, ErrNoUsableFields)
	}

	start := time.Now()
	run := &requestRun{
		orchestrator: o,
		req:          req,
		transitions:  []string{string(StatePending)},
	}

	result, err := run.execute(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fallback failed")

		return models.GenerationResult{}, err
	}

	span.SetAttributes(
		attribute.String("provider_used", string(result.ProviderUsed)),
		attribute.Int("attempts", result.Attempts),
	)

	if o.metrics != nil {
		o.metrics.RecordResult(ctx, string(req.ContentType), string(result.ProviderUsed), result.FallbackReason, time.Since(start))
	}

	return result, nil
}

// requestRun holds the state of one Generate call.
type requestRun struct {
	orchestrator *Orchestrator
	req          models.GenerationRequest
	transitions  []string
	attempts     int
}

func (r *requestRun) enter(s State) {
	r.transitions = append(r.transitions, string(s))
}

func (r *requestRun) execute(ctx context.Context) (models.GenerationResult, error) {
	o := r.orchestrator
	completion := models.CompletionRequest{
		SystemPrompt: o.prompts.SystemPrompt(r.req),
		UserPrompt:   o.prompts.UserPrompt(r.req),
		MaxTokens:    o.cfg.MaxTokens,
		Temperature:  o.cfg.Temperature,
	}

	var reason string

	for {
		r.attempts++
		r.enter(StateGenerating)

		text, violations, err := r.attempt(ctx, completion)
		if err == nil {
			r.enter(StateSuccess)
			r.recordAttempt(ctx, "success")

			return r.result(text, models.ProviderPrimary, models.Validation{Valid: true}, ""), nil
		}

		outcome := classify(ctx, err)
		r.recordAttempt(ctx, outcome)

		if outcome == "cancelled" {
			reason = ReasonCancelled
			o.logger.InfoContext(ctx, "generation: request cancelled, using template",
				"content_type", r.req.ContentType, "entity_id", r.req.Entity.ID, "attempt", r.attempts)

			break
		}

		if outcome == "transient" && r.attempts < o.cfg.MaxAttempts {
			r.enter(StateRetry)

			delay := o.cfg.Backoff.Delay(r.attempts)
			o.logger.WarnContext(ctx, "generation: provider call failed, retrying after backoff",
				"provider", o.provider.Name(),
				"content_type", r.req.ContentType,
				"attempt", r.attempts,
				"max_attempts", o.cfg.MaxAttempts,
				"backoff", delay,
				"error", err,
			)

			if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
				reason = ReasonCancelled

				break
			}

			continue
		}

		reason = fallbackReason(outcome, err)
		r.enter(StateExhausted)

		level := slog.LevelWarn
		if reason == ReasonNoProvider {
			level = slog.LevelDebug
		}

		o.logger.Log(ctx, level, "generation: falling back to template",
			"provider", o.provider.Name(),
			"content_type", r.req.ContentType,
			"entity_id", r.req.Entity.ID,
			"attempts", r.attempts,
			"reason", reason,
			"violations", violations,
			"error", err,
		)

		break
	}

	r.enter(StateFallback)

	text, validation, err := Fallback(r.req)
	if err != nil {
		return models.GenerationResult{}, err
	}

	r.enter(StateCompleted)

	return r.result(text, models.ProviderFallbackTemplate, validation, reason), nil
}

// attempt makes one provider call and validates its output. A validation failure is returned as
// a ContentValidationError together with the violations.
func (r *requestRun) attempt(ctx context.Context, completion models.CompletionRequest) (string, []string, error) {
	o := r.orchestrator

	callCtx := ctx
	if o.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc

		callCtx, cancel = context.WithTimeout(ctx, o.cfg.CallTimeout)
		defer cancel()
	}

	resp, err := o.provider.Complete(callCtx, completion)
	if err != nil {
		return "", nil, fmt.Errorf("complete %s: %w", r.req.ContentType, err)
	}

	text, validation := Validate(resp.Text, r.req)
	if !validation.Valid {
		return "", validation.Violations, huberrors.NewContentValidationError(validation.Violations)
	}

	return text, nil, nil
}

func (r *requestRun) recordAttempt(ctx context.Context, outcome string) {
	if m := r.orchestrator.metrics; m != nil {
		m.RecordAttempt(ctx, string(r.req.ContentType), outcome)
	}
}

func (r *requestRun) result(
	text string, used models.ProviderUsed, validation models.Validation, reason string,
) models.GenerationResult {
	return models.GenerationResult{
		Text:           text,
		ContentType:    r.req.ContentType,
		Audience:       r.req.Audience,
		ProviderUsed:   used,
		Provider:       r.orchestrator.provider.Name(),
		Attempts:       r.attempts,
		Validation:     validation,
		FallbackReason: reason,
		GeneratedAt:    r.orchestrator.now().UTC(),
		Transitions:    r.transitions,
	}
}

// classify maps an attempt error to a metrics outcome. Only "transient" is retried.
func classify(ctx context.Context, err error) string {
	switch {
	case ctx.Err() != nil:
		return "cancelled"
	case errors.Is(err, huberrors.ErrValidationFailed):
		return "invalid"
	case huberrors.IsUnreachable(err):
		return "unreachable"
	case huberrors.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
		// A per-call timeout with a live parent context is a provider timeout.
		return "transient"
	case errors.Is(err, huberrors.ErrProviderRejected):
		return "rejected"
	default:
		return "unclassified"
	}
}

func fallbackReason(outcome string, err error) string {
	switch outcome {
	case "transient":
		return ReasonRetriesExhausted
	case "invalid":
		return ReasonValidation
	case "rejected":
		return ReasonRejected
	case "unreachable":
		if errors.Is(err, ErrNoProvider) {
			return ReasonNoProvider
		}

		return ReasonUnreachable
	default:
		return ReasonProviderError
	}
}

// NormalizeRequest fills defaults (audience, max length, patient disclaimer) and rejects
// requests that cannot be satisfied.
func NormalizeRequest(req models.GenerationRequest) (models.GenerationRequest, error) {
	if !req.ContentType.IsValid() {
		return req, huberrors.NewValidationError("contentType", fmt.Sprintf("invalid content type %q", req.ContentType))
	}

	if req.Audience == "" {
		req.Audience = models.AudienceGeneral
	}

	if !req.Audience.IsValid() {
		return req, huberrors.NewValidationError("audience", fmt.Sprintf("invalid audience %q", req.Audience))
	}

	if req.ContentType == models.ContentTypeAnswer && req.Question == "" {
		return req, huberrors.NewValidationError("question", "question is required for answers")
	}

	if req.Constraints.MaxLength <= 0 {
		req.Constraints.MaxLength = req.ContentType.DefaultMaxLength()
	}

	if req.Constraints.MaxLength < minMaxLength {
		return req, huberrors.NewValidationError("maxLength", fmt.Sprintf("maxLength must be at least %d", minMaxLength))
	}

	req.Constraints.RequiredDisclaimers = requiredDisclaimers(req)

	if req.ContentType != models.ContentTypeTitle {
		if reserved := disclaimerBlockLen(req.Constraints.RequiredDisclaimers); reserved >= req.Constraints.MaxLength-minMaxLength {
			return req, huberrors.NewValidationError("maxLength", "maxLength leaves no room for the required disclaimers")
		}
	}

	return req, nil
}

func requiredDisclaimers(req models.GenerationRequest) []string {
	if req.ContentType == models.ContentTypeTitle {
		return nil
	}

	out := make([]string, 0, len(req.Constraints.RequiredDisclaimers)+1)
	seen := make(map[string]bool)

	add := func(d string) {
		if d == "" || seen[d] {
			return
		}

		seen[d] = true
		out = append(out, d)
	}

	for _, d := range req.Constraints.RequiredDisclaimers {
		add(collapse(d))
	}

	if req.Audience == models.AudiencePatient {
		add(models.PatientDisclaimer)
	}

	return out
}
