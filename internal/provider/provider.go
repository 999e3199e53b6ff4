// Package provider adapts upstream LLM APIs to a single generate contract.
// The set of variants is closed: anthropic, openai (and OpenAI-compatible
// endpoints) and gemini.
package provider

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/pkg/anthropic"
)

// DefaultMaxOutputTokens caps a completion when the config leaves it unset.
const DefaultMaxOutputTokens = int64(8192)

// Completion is the text an upstream produced and the tokens it billed.
type Completion struct {
	Text       string
	TokensUsed int64
	Model      string
}

// Adapter generates text from one upstream LLM.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, prompt, system string) (*Completion, error)
}

// Error is a failed upstream call. StatusCode is the HTTP status when the
// upstream answered, 0 for transport failures and malformed responses.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: HTTP %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus exposes the upstream status for transient-error classification.
func (e *Error) HTTPStatus() int { return e.StatusCode }

func newError(provider string, status int, err error) *Error {
	return &Error{Provider: provider, StatusCode: status, Message: err.Error(), Err: err}
}

func emptyCompletion(provider string) *Error {
	return &Error{Provider: provider, Message: "empty completion"}
}

// New constructs the adapter for cfg.Kind.
func New(ctx context.Context, cfg model.ProviderConfig) (Adapter, error) {
	if cfg.Name == "" {
		return nil, eris.New("provider: name is required")
	}
	if cfg.Model == "" {
		return nil, eris.Errorf("provider: %s: model is required", cfg.Name)
	}

	switch cfg.Kind {
	case model.ProviderAnthropic:
		return newAnthropicAdapter(cfg, anthropic.NewClient(cfg.APIKey, cfg.BaseURL)), nil
	case model.ProviderOpenAI:
		return newOpenAIAdapter(cfg, newOpenAIChat(cfg)), nil
	case model.ProviderGemini:
		models, err := newGeminiModels(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return newGeminiAdapter(cfg, models), nil
	default:
		return nil, eris.Errorf("provider: %s: unsupported kind %q", cfg.Name, cfg.Kind)
	}
}

// NewAll constructs adapters for every config, skipping disabled entries.
func NewAll(ctx context.Context, cfgs []model.ProviderConfig) ([]Adapter, error) {
	out := make([]Adapter, 0, len(cfgs))
	for _, cfg := range cfgs {
		if cfg.Disabled {
			continue
		}
		a, err := New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func maxTokens(cfg model.ProviderConfig) int64 {
	if cfg.MaxOutputTokens > 0 {
		return cfg.MaxOutputTokens
	}
	return DefaultMaxOutputTokens
}
