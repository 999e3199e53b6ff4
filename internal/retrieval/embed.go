package retrieval

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/rotisserie/eris"
	"google.golang.org/genai"
)

// DefaultGeminiEmbeddingModel is the embedding model used for the index.
const DefaultGeminiEmbeddingModel = "gemini-embedding-001"

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// GeminiEmbedder embeds queries with the Gemini embeddings API.
type GeminiEmbedder struct {
	models     contentEmbedder
	model      string
	dimensions int32
}

// NewGeminiEmbedder creates a query embedder. dimensions of 0 keeps the
// model's native size.
func NewGeminiEmbedder(ctx context.Context, apiKey, model, baseURL string, dimensions int32) (*GeminiEmbedder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, eris.New("retrieval: gemini api key is required")
	}
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: create genai client")
	}
	return newGeminiEmbedder(client.Models, model, dimensions), nil
}

func newGeminiEmbedder(models contentEmbedder, model string, dimensions int32) *GeminiEmbedder {
	if model == "" {
		model = DefaultGeminiEmbeddingModel
	}
	return &GeminiEmbedder{models: models, model: model, dimensions: dimensions}
}

// Embed returns the RETRIEVAL_QUERY embedding of text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_QUERY"}
	if e.dimensions > 0 {
		dims := e.dimensions
		cfg.OutputDimensionality = &dims
	}

	resp, err := e.models.EmbedContent(ctx, e.model, []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: gemini embed")
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, eris.New("retrieval: gemini embed returned no vectors")
	}
	return resp.Embeddings[0].Values, nil
}

type embeddingClient interface {
	New(ctx context.Context, body openai.EmbeddingNewParams, opts ...option.RequestOption) (*openai.CreateEmbeddingResponse, error)
}

// OpenAIEmbedder embeds queries through an OpenAI-compatible embeddings API.
type OpenAIEmbedder struct {
	client embeddingClient
	model  string
}

// NewOpenAIEmbedder creates an embedder. An empty baseURL targets OpenAI.
func NewOpenAIEmbedder(apiKey, model, baseURL string) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, eris.New("retrieval: openai api key is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, eris.New("retrieval: embedding model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIEmbedder{client: &client.Embeddings, model: model}, nil
}

// Embed returns the embedding of text converted to float32.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, eris.Wrap(err, "retrieval: openai embed")
	}
	if resp == nil || len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, eris.New("retrieval: openai embed returned no vectors")
	}

	vector := resp.Data[0].Embedding
	out := make([]float32, len(vector))
	for i, v := range vector {
		out[i] = float32(v)
	}
	return out, nil
}
