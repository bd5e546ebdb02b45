package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxlabels/labelhub/internal/models"
)

type testBody struct {
	Question string             `json:"question"        validate:"required,no_null_bytes"`
	Category string             `json:"contentCategory" validate:"omitempty,content_category"` //nolint:tagliatelle // test
	Type     models.ContentType `json:"contentType"     validate:"omitempty,content_type"`     //nolint:tagliatelle // test
	Audience models.Audience    `json:"audience"        validate:"omitempty,audience"`
	Note     *string            `json:"note"            validate:"omitempty,no_null_bytes"`
}

type testQuery struct {
	Type     models.ContentType `form:"contentType"`
	Audience models.Audience    `form:"audience"`
	Limit    int                `form:"limit" validate:"gte=0,lte=10"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		body    testBody
		wantErr string
	}{
		{"valid", testBody{Question: "q", Category: "summary", Type: "faq", Audience: "patient"}, ""},
		{"missing question", testBody{}, "question is required"},
		{"null byte", testBody{Question: "a\x00b"}, "question must not contain NULL bytes"},
		{"bad category", testBody{Question: "q", Category: "boxed"}, "contentCategory must be one of"},
		{"answer is not generatable", testBody{Question: "q", Type: models.ContentTypeAnswer}, "contentType must be one of"},
		{"bad audience", testBody{Question: "q", Audience: "kids"}, "audience must be one of"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.body)
			if tt.wantErr == "" {
				require.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.NotEmpty(t, GetValidationErrorDetails(err))
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	t.Run("unknown fields rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"question":"q","tenant":"x"}`))

		err := DecodeJSON(req, &testBody{})
		require.ErrorIs(t, err, ErrInvalidBody)
	})

	t.Run("decoded body is validated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"audience":"patient"}`))

		err := DecodeJSON(req, &testBody{})
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrInvalidBody)

		rec := httptest.NewRecorder()
		RespondValidationError(rec, err)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), `"location":"question"`)
	})
}

func TestDecodeQueryParams(t *testing.T) {
	t.Run("custom types", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?contentType=faq&audience=provider&limit=3", nil)

		var q testQuery
		require.NoError(t, ValidateAndDecodeQueryParams(req, &q))

		assert.Equal(t, models.ContentTypeFAQ, q.Type)
		assert.Equal(t, models.AudienceProvider, q.Audience)
		assert.Equal(t, 3, q.Limit)
	})

	t.Run("invalid content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?contentType=poem", nil)

		require.Error(t, DecodeQueryParams(req, &testQuery{}))
	})

	t.Run("limit out of range", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/?limit=11", nil)

		err := ValidateAndDecodeQueryParams(req, &testQuery{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "limit must be less than or equal to 10")
	})
}
