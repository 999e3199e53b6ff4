package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/internal/resilience"
)

func TestNew_ClosedKinds(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		cfg     model.ProviderConfig
		wantErr string
	}{
		{"anthropic", model.ProviderConfig{Name: "claude", Kind: model.ProviderAnthropic, Model: "claude-sonnet-4-5-20250929", APIKey: "k"}, ""},
		{"openai compatible", model.ProviderConfig{Name: "groq", Kind: model.ProviderOpenAI, Model: "llama3-70b-8192", BaseURL: "https://api.groq.com/openai/v1", APIKey: "k"}, ""},
		{"gemini", model.ProviderConfig{Name: "gemini", Kind: model.ProviderGemini, Model: "gemini-2.0-flash", APIKey: "k"}, ""},
		{"unknown kind", model.ProviderConfig{Name: "x", Kind: "cohere", Model: "m"}, "unsupported kind"},
		{"missing name", model.ProviderConfig{Kind: model.ProviderOpenAI, Model: "m"}, "name is required"},
		{"missing model", model.ProviderConfig{Name: "x", Kind: model.ProviderOpenAI}, "model is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(ctx, tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cfg.Name, a.Name())
		})
	}
}

func TestNewAll_SkipsDisabled(t *testing.T) {
	adapters, err := NewAll(context.Background(), []model.ProviderConfig{
		{Name: "groq", Kind: model.ProviderOpenAI, Model: "llama3-70b-8192", APIKey: "k"},
		{Name: "mistral", Kind: model.ProviderOpenAI, Model: "mistral-large-latest", APIKey: "k", Disabled: true},
	})
	require.NoError(t, err)
	require.Len(t, adapters, 1)
	assert.Equal(t, "groq", adapters[0].Name())
}

func TestError_Format(t *testing.T) {
	withStatus := newError("groq", 429, errors.New("rate limited"))
	assert.Equal(t, "provider groq: HTTP 429: rate limited", withStatus.Error())
	assert.Equal(t, 429, withStatus.HTTPStatus())

	transport := newError("groq", 0, errors.New("connection reset"))
	assert.Equal(t, "provider groq: connection reset", transport.Error())

	assert.Equal(t, "provider gemini: empty completion", emptyCompletion("gemini").Error())
}

func TestError_TransientClassification(t *testing.T) {
	assert.True(t, resilience.IsTransient(newError("groq", 503, errors.New("unavailable"))))
	assert.False(t, resilience.IsTransient(newError("groq", 401, errors.New("bad key"))))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := newError("groq", 500, cause)
	assert.ErrorIs(t, err, cause)

	var pe *Error
	require.ErrorAs(t, error(err), &pe)
	assert.Equal(t, "groq", pe.Provider)
}

func TestMaxTokens_Default(t *testing.T) {
	assert.Equal(t, DefaultMaxOutputTokens, maxTokens(model.ProviderConfig{}))
	assert.Equal(t, int64(2048), maxTokens(model.ProviderConfig{MaxOutputTokens: 2048}))
}
