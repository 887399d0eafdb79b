package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiesic/attrcat/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// newTestServer serves /v1/embeddings. handler returns a status code and a body.
func newTestServer(t *testing.T, handler func(req embeddingRequest) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func okResponse(req embeddingRequest) (int, any) {
	data := make([]map[string]any, len(req.Input))
	for i := range req.Input {
		data[i] = map[string]any{
			"object":    "embedding",
			"index":     i,
			"embedding": []float32{float32(i), 1, 0},
		}
	}
	return http.StatusOK, map[string]any{"object": "list", "data": data, "model": req.Model}
}

func errorResponse(status int, msg string) func(embeddingRequest) (int, any) {
	return func(embeddingRequest) (int, any) {
		return status, map[string]any{"error": map[string]any{"message": msg}}
	}
}

func newTestEmbedder(t *testing.T, srv *httptest.Server) ai.Embedder {
	t.Helper()
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost(srv.URL),
		ai.WithEmbeddingModel("test-model"),
		ai.WithDimensions(3),
	)
	e, err := NewEmbedder(cfg)
	require.NoError(t, err)
	return e
}

func TestEmbedder_EmbedText(t *testing.T) {
	var seen embeddingRequest
	srv := newTestServer(t, func(req embeddingRequest) (int, any) {
		seen = req
		return okResponse(req)
	})
	e := newTestEmbedder(t, srv)

	vec, err := e.EmbedText(context.Background(), "name: Customer\ndomain: Retail")
	require.NoError(t, err)

	assert.Equal(t, []float32{0, 1, 0}, vec)
	assert.Equal(t, "test-model", seen.Model)
	assert.Equal(t, []string{"name: Customer domain: Retail"}, seen.Input)
	assert.Equal(t, 3, e.Dimensions())
}

func TestEmbedder_EmbedTexts(t *testing.T) {
	srv := newTestServer(t, okResponse)
	e := newTestEmbedder(t, srv)

	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	require.Len(t, vecs, 3)
	assert.Equal(t, []float32{2, 1, 0}, vecs[2])
}

func TestEmbedder_ShortResponseIsPermanent(t *testing.T) {
	srv := newTestServer(t, func(req embeddingRequest) (int, any) {
		req.Input = req.Input[:1]
		return okResponse(req)
	})
	e := newTestEmbedder(t, srv)

	_, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.False(t, ai.IsTransient(err))
}

func TestEmbedder_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		message   string
		transient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, message: "Rate limit reached for requests", transient: true},
		{name: "service unavailable", status: http.StatusServiceUnavailable, message: "service unavailable", transient: true},
		{name: "bad api key", status: http.StatusUnauthorized, message: "Incorrect API key provided", transient: false},
		{name: "invalid request", status: http.StatusBadRequest, message: "invalid request: input is empty", transient: false},
		{name: "context too long", status: http.StatusBadRequest, message: "maximum context length is 8192 tokens", transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, errorResponse(tt.status, tt.message))
			e := newTestEmbedder(t, srv)

			_, err := e.EmbedText(context.Background(), "name: Customer")
			require.Error(t, err)

			var perr *ai.ProviderError
			require.ErrorAs(t, err, &perr, fmt.Sprintf("got %T: %v", err, err))
			assert.Equal(t, tt.transient, ai.IsTransient(err))
		})
	}
}

func TestEmbedder_CanceledContextIsPermanent(t *testing.T) {
	srv := newTestServer(t, okResponse)
	e := newTestEmbedder(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.EmbedText(ctx, "name: Customer")
	require.Error(t, err)
	assert.False(t, ai.IsTransient(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewProvider(t *testing.T) {
	srv := newTestServer(t, okResponse)

	t.Run("valid config", func(t *testing.T) {
		p, err := NewProvider(ai.NewConfig(ai.WithEmbeddingHost(srv.URL), ai.WithDimensions(3)))
		require.NoError(t, err)
		defer p.Close()

		assert.Equal(t, 3, p.Embedder().Dimensions())
		assert.Nil(t, p.Answerer(), "answers are off without a chat model")
	})

	t.Run("with chat model", func(t *testing.T) {
		p, err := NewProvider(ai.NewConfig(ai.WithEmbeddingHost(srv.URL), ai.WithDimensions(3), ai.WithChatModel("chat")))
		require.NoError(t, err)
		defer p.Close()

		assert.NotNil(t, p.Answerer())
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewProvider(&ai.Config{})
		require.Error(t, err)
	})
}
