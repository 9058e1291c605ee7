package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"remote", &RemoteServiceError{Provider: "x", Status: 502}, true},
		{"wrapped remote", fmt.Errorf("call: %w", &RemoteServiceError{Provider: "x", Status: 429}), true},
		{"timeout", fmt.Errorf("x: %w", ErrTimeout), true},
		{"other", errors.New("bad request shape"), false},
		{"canceled", context.Canceled, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Retryable(tc.err))
		})
	}
}

func TestOllama_ChatOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.False(t, req.Stream)
		assert.Len(t, req.Messages, 2)
		_ = json.NewEncoder(w).Encode(ollamaChatResp{Message: Message{Role: RoleAssistant, Content: "pong"}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "tiny")
	out, err := p.Chat(context.Background(), []Message{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "ping"}})
	require.NoError(t, err)
	assert.Equal(t, "pong", out)
}

func TestOllama_StatusBecomesRemoteServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("overloaded"))
	}))
	defer srv.Close()

	_, err := NewOllamaProvider(srv.URL, "tiny").Chat(context.Background(), nil)
	var rse *RemoteServiceError
	require.ErrorAs(t, err, &rse)
	assert.Equal(t, http.StatusServiceUnavailable, rse.Status)
	assert.Equal(t, "overloaded", rse.Body)
}

func TestOpenRouter_DeadlineBecomesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewOpenRouterProvider(srv.URL, "key", "auto", "", "").Chat(ctx, []Message{{Role: RoleUser, Content: "hi"}})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestOpenAI_ErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIProvider("key", srv.URL, "moonshot-v1-8k").Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	var rse *RemoteServiceError
	require.ErrorAs(t, err, &rse)
	assert.Equal(t, http.StatusTooManyRequests, rse.Status)
	assert.True(t, Retryable(err))
}

func TestRegistry_RoutesByLowercasedName(t *testing.T) {
	reg := NewDefaultRegistry(Settings{OllamaModel: "llama3:latest", OpenRouterModel: "openrouter/auto"})
	assert.Equal(t, []string{"ollama", "openai", "openrouter"}, reg.Names())

	p, err := reg.Get(context.Background(), " Ollama ", "")
	require.NoError(t, err)
	op, ok := p.(*OllamaProvider)
	require.True(t, ok)
	assert.Equal(t, "llama3:latest", op.Model)

	_, err = reg.Get(context.Background(), "nope", "")
	assert.Error(t, err)
}
