package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/article-engine/internal/model"
)

func newTestOpenAIAdapter(t *testing.T, handler http.HandlerFunc, opts ...func(*model.ProviderConfig)) *openAIAdapter {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	cfg := model.ProviderConfig{
		Name:            "groq",
		Kind:            model.ProviderOpenAI,
		Model:           "llama3-70b-8192",
		BaseURL:         ts.URL,
		APIKey:          "test-key",
		MaxOutputTokens: 4096,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return newOpenAIAdapter(cfg, newOpenAIChat(cfg))
}

func TestOpenAIAdapter_Generate(t *testing.T) {
	a := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body struct {
			Model       string   `json:"model"`
			MaxTokens   int64    `json:"max_tokens"`
			Temperature *float64 `json:"temperature"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "llama3-70b-8192", body.Model)
		assert.Equal(t, int64(4096), body.MaxTokens)
		assert.Nil(t, body.Temperature)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, "be precise", body.Messages[0].Content)
		assert.Equal(t, "user", body.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "llama3-70b-8192",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "<article>hi</article>"},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30},
		})
	})

	c, err := a.Generate(context.Background(), "write", "be precise")
	require.NoError(t, err)
	assert.Equal(t, "<article>hi</article>", c.Text)
	assert.Equal(t, int64(30), c.TokensUsed)
	assert.Equal(t, "llama3-70b-8192", c.Model)
}

func TestOpenAIAdapter_Temperature(t *testing.T) {
	a := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Temperature *float64 `json:"temperature"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.NotNil(t, body.Temperature)
		assert.InDelta(t, 0.4, *body.Temperature, 1e-9)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":      "chatcmpl-2",
			"object":  "chat.completion",
			"created": 1,
			"model":   "llama3-70b-8192",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "ok"},
			}},
		})
	}, func(cfg *model.ProviderConfig) {
		temp := 0.4
		cfg.Temperature = &temp
	})

	_, err := a.Generate(context.Background(), "write", "")
	require.NoError(t, err)
}

func TestOpenAIAdapter_HTTPError(t *testing.T) {
	a := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"error": map[string]any{"message": "rate limit reached", "type": "rate_limit"},
		})
	})

	_, err := a.Generate(context.Background(), "write", "")
	require.Error(t, err)

	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "groq", pe.Provider)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
}

func TestOpenAIAdapter_NoChoices(t *testing.T) {
	a := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id": "chatcmpl-2", "object": "chat.completion", "created": 1, "model": "m",
			"choices": []map[string]any{},
		})
	})

	_, err := a.Generate(context.Background(), "write", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty completion")
}

func TestOpenAIAdapter_ContentFilter(t *testing.T) {
	a := newTestOpenAIAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id": "chatcmpl-3", "object": "chat.completion", "created": 1, "model": "m",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "content_filter",
				"message":       map[string]any{"role": "assistant", "content": "partial"},
			}},
		})
	})

	_, err := a.Generate(context.Background(), "write", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content filter")
}
