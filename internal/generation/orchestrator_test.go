package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
	"github.com/rxlabels/labelhub/pkg/backoff"
)

// stubProvider answers every Complete call with completeFunc and counts calls.
type stubProvider struct {
	mu           sync.Mutex
	calls        int
	requests     []models.CompletionRequest
	completeFunc func(ctx context.Context, call int) (string, error)
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, req models.CompletionRequest) (models.CompletionResponse, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	text, err := s.completeFunc(ctx, call)
	if err != nil {
		return models.CompletionResponse{}, err
	}

	return models.CompletionResponse{Text: text}, nil
}

func (s *stubProvider) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

type recordedSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleep) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delays = append(r.delays, d)

	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(p CompletionProvider, maxAttempts int, sleep backoff.SleepFunc) *Orchestrator {
	cfg := Config{
		MaxAttempts: maxAttempts,
		Backoff:     backoff.Policy{Base: 100 * time.Millisecond, Max: time.Second, Multiplier: 2},
	}

	return NewOrchestrator(p, nil, cfg, WithSleep(sleep), WithClock(func() time.Time { return fixedNow }))
}

func taltz() models.Label {
	return models.Label{
		ID:           "taltz-1",
		DrugName:     "Taltz",
		GenericName:  "ixekizumab",
		Manufacturer: "Eli Lilly and Company",
		Indications:  "<p>Taltz is indicated for adults with moderate to severe <b>plaque psoriasis</b>.</p>",
		Dosage:       "160 mg by subcutaneous injection at Week 0, then 80 mg every 2 weeks.",
	}
}

func transientErr() error {
	return huberrors.NewProviderError(huberrors.ProviderUnavailable, "stub", http.StatusServiceUnavailable, errors.New("overloaded"))
}

func TestGenerate_Success(t *testing.T) {
	p := &stubProvider{completeFunc: func(context.Context, int) (string, error) {
		return `"Taltz (ixekizumab) Injection Guide"`, nil
	}}
	o := newTestOrchestrator(p, 3, (&recordedSleep{}).sleep)

	res, err := o.Generate(context.Background(), models.GenerationRequest{
		Entity: taltz(), ContentType: models.ContentTypeTitle, Audience: models.AudienceProvider,
	})
	require.NoError(t, err)

	assert.Equal(t, "Taltz (ixekizumab) Injection Guide", res.Text)
	assert.Equal(t, models.ProviderPrimary, res.ProviderUsed)
	assert.Equal(t, 1, res.Attempts)
	assert.True(t, res.Validation.Valid)
	assert.Empty(t, res.FallbackReason)
	assert.Equal(t, fixedNow, res.GeneratedAt)
	assert.Equal(t, []string{"PENDING", "GENERATING", "SUCCESS"}, res.Transitions)
}

func TestGenerate_RetriesAreBounded(t *testing.T) {
	p := &stubProvider{completeFunc: func(context.Context, int) (string, error) {
		return "", transientErr()
	}}
	sleeper := &recordedSleep{}
	o := newTestOrchestrator(p, 3, sleeper.sleep)

	res, err := o.Generate(context.Background(), models.GenerationRequest{
		Entity: taltz(), ContentType: models.ContentTypeTitle,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, p.Calls(), "provider must be called exactly MaxAttempts times")
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, sleeper.delays)
	assert.Equal(t, models.ProviderFallbackTemplate, res.ProviderUsed)
	assert.Equal(t, ReasonRetriesExhausted, res.FallbackReason)
	assert.Equal(t, []string{
		"PENDING", "GENERATING", "RETRY", "GENERATING", "RETRY", "GENERATING", "EXHAUSTED", "FALLBACK", "COMPLETED",
	}, res.Transitions)
}

func TestGenerate_RecoversAfterTransientFailure(t *testing.T) {
	p := &stubProvider{completeFunc: func(_ context.Context, call int) (string, error) {
		if call == 1 {
			return "", huberrors.NewProviderError(huberrors.ProviderRateLimited, "stub", http.StatusTooManyRequests, nil)
		}

		return "Taltz treats plaque psoriasis in adults.", nil
	}}
	o := newTestOrchestrator(p, 3, (&recordedSleep{}).sleep)

	res, err := o.Generate(context.Background(), models.GenerationRequest{
		Entity: taltz(), ContentType: models.ContentTypeSummary,
	})
	require.NoError(t, err)

	assert.Equal(t, 2, p.Calls())
	assert.Equal(t, models.ProviderPrimary, res.ProviderUsed)
	assert.Equal(t, "Taltz treats plaque psoriasis in adults.", res.Text)
}

func TestGenerate_FallbackWithoutRetry(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		text       string
		wantReason string
	}{
		{
			name:       "rejected request",
			err:        huberrors.NewProviderError(huberrors.ProviderRejected, "stub", http.StatusBadRequest, nil),
			wantReason: ReasonRejected,
		},
		{
			name:       "unreachable provider",
			err:        &huberrors.ProviderError{Kind: huberrors.ProviderUnavailable, Provider: "stub", Unreachable: true},
			wantReason: ReasonUnreachable,
		},
		{
			name:       "unclassified error",
			err:        errors.New("boom"),
			wantReason: ReasonProviderError,
		},
		{
			name:       "empty output fails validation",
			text:       "  \n ",
			wantReason: ReasonValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProvider{completeFunc: func(context.Context, int) (string, error) {
				return tt.text, tt.err
			}}
			o := newTestOrchestrator(p, 3, (&recordedSleep{}).sleep)

			res, err := o.Generate(context.Background(), models.GenerationRequest{
				Entity: taltz(), ContentType: models.ContentTypeSummary,
			})
			require.NoError(t, err)

			assert.Equal(t, 1, p.Calls())
			assert.Equal(t, models.ProviderFallbackTemplate, res.ProviderUsed)
			assert.Equal(t, tt.wantReason, res.FallbackReason)
			assert.True(t, res.Validation.Valid)
			assert.Contains(t, res.Text, "Taltz (ixekizumab)")
		})
	}
}

func TestGenerate_TaltzTitleFallback(t *testing.T) {
	o := NewOrchestrator(TemplateProvider{}, nil, Config{})

	res, err := o.Generate(context.Background(), models.GenerationRequest{
		Entity: taltz(), ContentType: models.ContentTypeTitle, Audience: models.AudiencePatient,
	})
	require.NoError(t, err)

	assert.Equal(t, "Taltz (ixekizumab) - Prescribing Information", res.Text)
	assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), 60)
	assert.True(t, res.Validation.Valid)
	assert.Equal(t, ReasonNoProvider, res.FallbackReason)
	assert.Equal(t, 1, res.Attempts)
	assert.NotContains(t, res.Text, models.PatientDisclaimer, "titles carry no disclaimer")
}

func TestGenerate_NameOnlyLabelIsValidForEveryType(t *testing.T) {
	o := NewOrchestrator(TemplateProvider{}, nil, Config{})
	label := models.Label{ID: "x", DrugName: "Zyrtec"}

	// bodyLimit 0 uses the default max length; 40 is shorter than the name-only FAQ question.
	for _, bodyLimit := range []int{0, 40} {
		for _, ct := range models.AllContentTypes() {
			for _, audience := range []models.Audience{models.AudienceProvider, models.AudiencePatient, models.AudienceGeneral} {
				t.Run(fmt.Sprintf("%s/%s/%d", ct, audience, bodyLimit), func(t *testing.T) {
					req := models.GenerationRequest{Entity: label, ContentType: ct, Audience: audience}
					if ct == models.ContentTypeAnswer {
						req.Question = "What is Zyrtec for?"
					}

					maxLen := ct.DefaultMaxLength()
					if bodyLimit > 0 {
						maxLen = bodyLimit
						if audience == models.AudiencePatient && ct != models.ContentTypeTitle {
							maxLen += disclaimerBlockLen([]string{models.PatientDisclaimer})
						}

						req.Constraints.MaxLength = maxLen
					}

					res, err := o.Generate(context.Background(), req)
					require.NoError(t, err)

					assert.True(t, res.Validation.Valid)
					assert.NotEmpty(t, res.Text)
					assert.LessOrEqual(t, utf8.RuneCountInString(res.Text), maxLen)

					if audience == models.AudiencePatient && ct != models.ContentTypeTitle {
						assert.True(t, strings.HasSuffix(res.Text, models.PatientDisclaimer))
					}
				})
			}
		}
	}
}

func TestGenerate_NoUsableFields(t *testing.T) {
	p := &stubProvider{completeFunc: func(context.Context, int) (string, error) { return "text", nil }}
	o := newTestOrchestrator(p, 3, (&recordedSleep{}).sleep)

	_, err := o.Generate(context.Background(), models.GenerationRequest{
		Entity:      models.Label{ID: "anon", Indications: "Used for something."},
		ContentType: models.ContentTypeSummary,
	})

	require.ErrorIs(t, err, ErrNoUsableFields)
	assert.Zero(t, p.Calls(), "provider must not be called for labels without a name")
}

func TestGenerate_CancelledDuringBackoff(t *testing.T) {
	p := &stubProvider{completeFunc: func(context.Context, int) (string, error) { return "", transientErr() }}
	ctx, cancel := context.WithCancel(context.Background())

	sleep := func(ctx context.Context, _ time.Duration) error {
		cancel()

		return ctx.Err()
	}
	o := newTestOrchestrator(p, 5, sleep)

	res, err := o.Generate(ctx, models.GenerationRequest{Entity: taltz(), ContentType: models.ContentTypeTitle})
	require.NoError(t, err)

	assert.Equal(t, 1, p.Calls())
	assert.Equal(t, ReasonCancelled, res.FallbackReason)
	assert.Equal(t, models.ProviderFallbackTemplate, res.ProviderUsed)
	assert.NotContains(t, res.Transitions, string(StateExhausted))
	assert.Equal(t, string(StateCompleted), res.Transitions[len(res.Transitions)-1])
}

func TestGenerate_CancelledDuringCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &stubProvider{completeFunc: func(ctx context.Context, _ int) (string, error) {
		cancel()

		return "", huberrors.FromTransportError("stub", ctx.Err())
	}}
	o := newTestOrchestrator(p, 3, (&recordedSleep{}).sleep)

	res, err := o.Generate(ctx, models.GenerationRequest{Entity: taltz(), ContentType: models.ContentTypeSummary})
	require.NoError(t, err)

	assert.Equal(t, 1, p.Calls())
	assert.Equal(t, ReasonCancelled, res.FallbackReason)
}

func TestGenerate_CallTimeoutIsRetried(t *testing.T) {
	p := &stubProvider{completeFunc: func(ctx context.Context, call int) (string, error) {
		if call == 1 {
			<-ctx.Done()

			return "", ctx.Err()
		}

		return "Taltz treats plaque psoriasis.", nil
	}}
	o := NewOrchestrator(p, nil, Config{MaxAttempts: 2, CallTimeout: 10 * time.Millisecond},
		WithSleep((&recordedSleep{}).sleep))

	res, err := o.Generate(context.Background(), models.GenerationRequest{Entity: taltz(), ContentType: models.ContentTypeSummary})
	require.NoError(t, err)

	assert.Equal(t, 2, p.Calls())
	assert.Equal(t, models.ProviderPrimary, res.ProviderUsed)
}

func TestGenerate_PromptsCarryDisclaimerAndFields(t *testing.T) {
	p := &stubProvider{completeFunc: func(context.Context, int) (string, error) {
		return "Taltz is a medicine for plaque psoriasis.", nil
	}}
	o := newTestOrchestrator(p, 1, (&recordedSleep{}).sleep)

	res, err := o.Generate(context.Background(), models.GenerationRequest{
		Entity: taltz(), ContentType: models.ContentTypeSummary, Audience: models.AudiencePatient,
	})
	require.NoError(t, err)
	require.Len(t, p.requests, 1)

	req := p.requests[0]
	assert.Contains(t, req.SystemPrompt, models.PatientDisclaimer)
	assert.Contains(t, req.UserPrompt, "Drug name: Taltz")
	assert.Contains(t, req.UserPrompt, "Generic name: ixekizumab")
	assert.Contains(t, req.UserPrompt, "**plaque psoriasis**")
	assert.NotContains(t, req.UserPrompt, "Warnings and Precautions", "absent sections are not listed")
	assert.Equal(t, "Taltz is a medicine for plaque psoriasis.\n\n"+models.PatientDisclaimer, res.Text)
}

func TestGenerate_InvalidRequests(t *testing.T) {
	o := NewOrchestrator(TemplateProvider{}, nil, Config{})

	tests := []struct {
		name string
		req  models.GenerationRequest
	}{
		{"unknown content type", models.GenerationRequest{Entity: taltz(), ContentType: "poem"}},
		{"unknown audience", models.GenerationRequest{Entity: taltz(), ContentType: models.ContentTypeTitle, Audience: "robots"}},
		{"answer without question", models.GenerationRequest{Entity: taltz(), ContentType: models.ContentTypeAnswer}},
		{"max length too small", models.GenerationRequest{
			Entity: taltz(), ContentType: models.ContentTypeTitle, Constraints: models.Constraints{MaxLength: 5},
		}},
		{"no room for disclaimer", models.GenerationRequest{
			Entity: taltz(), ContentType: models.ContentTypeSummary, Audience: models.AudiencePatient,
			Constraints: models.Constraints{MaxLength: 60},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Generate(context.Background(), tt.req)
			assert.ErrorIs(t, err, huberrors.ErrValidation)
		})
	}
}

func TestNormalizeRequest_Disclaimers(t *testing.T) {
	req, err := NormalizeRequest(models.GenerationRequest{
		ContentType: models.ContentTypeSummary,
		Audience:    models.AudiencePatient,
		Constraints: models.Constraints{RequiredDisclaimers: []string{"  Consult   a doctor. ", models.PatientDisclaimer}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Consult a doctor.", models.PatientDisclaimer}, req.Constraints.RequiredDisclaimers)
	assert.Equal(t, 500, req.Constraints.MaxLength)

	title, err := NormalizeRequest(models.GenerationRequest{
		ContentType: models.ContentTypeTitle,
		Audience:    models.AudiencePatient,
		Constraints: models.Constraints{RequiredDisclaimers: []string{"Consult a doctor."}},
	})
	require.NoError(t, err)
	assert.Empty(t, title.Constraints.RequiredDisclaimers)
}
