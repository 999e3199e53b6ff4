package provider

import (
	"context"
	"strings"

	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/pkg/anthropic"
)

type anthropicAdapter struct {
	name      string
	model     string
	maxTokens int64
	temp      *float64
	client    anthropic.Client
}

func newAnthropicAdapter(cfg model.ProviderConfig, client anthropic.Client) *anthropicAdapter {
	return &anthropicAdapter{
		name:      cfg.Name,
		model:     cfg.Model,
		maxTokens: maxTokens(cfg),
		temp:      cfg.Temperature,
		client:    client,
	}
}

func (a *anthropicAdapter) Name() string { return a.name }

func (a *anthropicAdapter) Generate(ctx context.Context, prompt, system string) (*Completion, error) {
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		System:      anthropic.BuildCachedSystemBlocks(system, ""),
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: a.temp,
	})
	if err != nil {
		return nil, newError(a.name, anthropic.StatusCode(err), err)
	}

	resp.Usage.LogCost(a.model, a.name)

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, emptyCompletion(a.name)
	}
	return &Completion{Text: text, TokensUsed: resp.Usage.Total(), Model: resp.Model}, nil
}
