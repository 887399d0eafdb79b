package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/poiesic/attrcat/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
	Temperature float64 `json:"temperature"`
}

// newChatServer serves /v1/chat/completions. handler returns a status code and a body.
func newChatServer(t *testing.T, handler func(req chatRequest) (int, any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		var req chatRequest
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

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "test-chat",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	}
}

func newTestAnswerer(t *testing.T, srv *httptest.Server) ai.Answerer {
	t.Helper()
	cfg := ai.NewConfig(
		ai.WithEmbeddingHost("http://unused:1"),
		ai.WithChatHost(srv.URL),
		ai.WithChatModel("test-chat"),
	)
	a, err := NewAnswerer(cfg)
	require.NoError(t, err)
	return a
}

func TestAnswerer_Answer(t *testing.T) {
	var seen chatRequest
	srv := newChatServer(t, func(req chatRequest) (int, any) {
		seen = req
		return http.StatusOK, chatResponse("  Order Total is owned by Finance.\n")
	})
	a := newTestAnswerer(t, srv)

	answer, err := a.Answer(context.Background(), "Who owns order total?",
		[]string{"name: Order Total\ndomain: Finance", "name: Customer\ndomain: Retail"})
	require.NoError(t, err)
	assert.Equal(t, "Order Total is owned by Finance.", answer)

	assert.Equal(t, "test-chat", seen.Model)
	assert.InDelta(t, 0.1, seen.Temperature, 1e-9)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, answerSystemPrompt, seen.Messages[0].Content)
	assert.Equal(t, "user", seen.Messages[1].Role)
	assert.Contains(t, seen.Messages[1].Content, "name: Order Total\ndomain: Finance\n\nname: Customer")
	assert.Contains(t, seen.Messages[1].Content, "Question: Who owns order total?")
}

func TestAnswerer_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		message   string
		transient bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, message: "Rate limit reached for requests", transient: true},
		{name: "bad api key", status: http.StatusUnauthorized, message: "Incorrect API key provided", transient: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newChatServer(t, func(chatRequest) (int, any) {
				return tt.status, map[string]any{"error": map[string]any{"message": tt.message}}
			})
			a := newTestAnswerer(t, srv)

			_, err := a.Answer(context.Background(), "q", nil)
			require.Error(t, err)
			var perr *ai.ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.transient, ai.IsTransient(err))
		})
	}
}

func TestAnswerer_EmptyChoicesIsTransient(t *testing.T) {
	srv := newChatServer(t, func(chatRequest) (int, any) {
		return http.StatusOK, map[string]any{"id": "x", "object": "chat.completion", "choices": []any{}}
	})
	a := newTestAnswerer(t, srv)

	_, err := a.Answer(context.Background(), "q", nil)
	require.Error(t, err)
	assert.True(t, ai.IsTransient(err))
}

func TestNewAnswerer_RequiresChatModel(t *testing.T) {
	_, err := NewAnswerer(ai.NewConfig())
	assert.Error(t, err)
}

func TestBuildAnswerPrompt(t *testing.T) {
	prompt := buildAnswerPrompt(" What is it? ", nil)
	assert.Equal(t, "Context:\n--- START CONTEXT ---\n"+noContext+"\n--- END CONTEXT ---\n\nQuestion: What is it?\n\nAnswer:", prompt)
}
