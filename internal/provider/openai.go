package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/sells-group/article-engine/internal/model"
)

type chatCompletionClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type openAIAdapter struct {
	name      string
	model     string
	maxTokens int64
	temp      *float64
	chat      chatCompletionClient
}

// newOpenAIChat builds a chat client for OpenAI or any endpoint speaking the
// same API (OpenRouter, Groq, Mistral, DeepSeek). Failover replaces SDK retries.
func newOpenAIChat(cfg model.ProviderConfig) chatCompletionClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	client := openai.NewClient(opts...)
	return &client.Chat.Completions
}

func newOpenAIAdapter(cfg model.ProviderConfig, chat chatCompletionClient) *openAIAdapter {
	return &openAIAdapter{
		name:      cfg.Name,
		model:     cfg.Model,
		maxTokens: maxTokens(cfg),
		temp:      cfg.Temperature,
		chat:      chat,
	}
}

func (a *openAIAdapter) Name() string { return a.name }

func (a *openAIAdapter) Generate(ctx context.Context, prompt, system string) (*Completion, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:     shared.ChatModel(a.model),
		Messages:  messages,
		MaxTokens: openai.Int(a.maxTokens),
	}
	if a.temp != nil {
		params.Temperature = openai.Float(*a.temp)
	}

	completion, err := a.chat.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, newError(a.name, status, err)
	}

	if completion == nil || len(completion.Choices) == 0 {
		return nil, emptyCompletion(a.name)
	}
	choice := completion.Choices[0]
	if refusal := strings.TrimSpace(choice.Message.Refusal); refusal != "" {
		return nil, &Error{Provider: a.name, Message: "refused: " + refusal}
	}
	if strings.EqualFold(strings.TrimSpace(choice.FinishReason), "content_filter") {
		return nil, &Error{Provider: a.name, Message: "blocked by content filter"}
	}

	text := strings.TrimSpace(choice.Message.Content)
	if text == "" {
		return nil, emptyCompletion(a.name)
	}
	return &Completion{Text: text, TokensUsed: completion.Usage.TotalTokens, Model: completion.Model}, nil
}
