package anthropic

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxlabels/labelhub/internal/huberrors"
	"github.com/rxlabels/labelhub/internal/models"
)

func TestClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "Taltz (ixekizumab)"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL))

	resp, err := c.Complete(context.Background(), models.CompletionRequest{SystemPrompt: "s", UserPrompt: "u"})
	require.NoError(t, err)
	assert.Equal(t, "Taltz (ixekizumab)", resp.Text)
	assert.Equal(t, 16, resp.TokensUsed)
}

func TestClient_CompleteErrors(t *testing.T) {
	t.Run("empty prompt rejected", func(t *testing.T) {
		_, err := NewClient("k").Complete(context.Background(), models.CompletionRequest{})
		require.ErrorIs(t, err, huberrors.ErrProviderRejected)
	})

	t.Run("overloaded maps to unavailable", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(529)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
		}))
		defer srv.Close()

		_, err := NewClient("k", WithBaseURL(srv.URL)).Complete(context.Background(),
			models.CompletionRequest{UserPrompt: "u"})
		require.Error(t, err)
		assert.ErrorIs(t, err, huberrors.ErrProviderUnavailable)
		assert.True(t, huberrors.IsTransient(err))
	})
}
