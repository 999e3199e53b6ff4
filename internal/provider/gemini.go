package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"google.golang.org/genai"

	"github.com/sells-group/article-engine/internal/model"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type geminiAdapter struct {
	name      string
	model     string
	maxTokens int32
	temp      *float32
	models    contentGenerator
}

func newGeminiModels(ctx context.Context, cfg model.ProviderConfig) (contentGenerator, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrapf(err, "provider: %s: create genai client", cfg.Name)
	}
	return client.Models, nil
}

func newGeminiAdapter(cfg model.ProviderConfig, models contentGenerator) *geminiAdapter {
	mt := maxTokens(cfg)
	if mt > int64(^uint32(0)>>1) {
		mt = int64(^uint32(0) >> 1)
	}
	a := &geminiAdapter{
		name:      cfg.Name,
		model:     cfg.Model,
		maxTokens: int32(mt),
		models:    models,
	}
	if cfg.Temperature != nil {
		a.temp = genai.Ptr(float32(*cfg.Temperature))
	}
	return a
}

func (a *geminiAdapter) Name() string { return a.name }

func (a *geminiAdapter) Generate(ctx context.Context, prompt, system string) (*Completion, error) {
	config := &genai.GenerateContentConfig{MaxOutputTokens: a.maxTokens, Temperature: a.temp}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := a.models.GenerateContent(ctx, a.model, []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}, config)
	if err != nil {
		status := 0
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			status = apiErr.Code
		}
		return nil, newError(a.name, status, err)
	}
	if resp == nil {
		return nil, emptyCompletion(a.name)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, emptyCompletion(a.name)
	}

	var used int64
	if resp.UsageMetadata != nil {
		used = int64(resp.UsageMetadata.TotalTokenCount)
	}
	return &Completion{Text: text, TokensUsed: used, Model: a.model}, nil
}
