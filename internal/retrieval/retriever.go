// Package retrieval looks up source fragments relevant to a generation job.
// Lookups never fail the caller: any error degrades to an empty context.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/article-engine/internal/model"
)

// Defaults applied when a caller passes zero values.
const (
	DefaultLimit     = 8
	DefaultThreshold = 0.5
	DefaultTimeout   = 20 * time.Second
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Match is a raw vector-search hit.
type Match struct {
	ClauseRef  string  `json:"clause_ref"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// Searcher runs a similarity search against a vector index.
type Searcher interface {
	Search(ctx context.Context, vector []float32, threshold float64, limit int) ([]Match, error)
}

// Retriever embeds a query and searches the index under one timeout.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	timeout  time.Duration
}

// New creates a Retriever. A nil embedder or searcher yields a retriever
// that always returns an empty context.
func New(embedder Embedder, searcher Searcher, timeout time.Duration) *Retriever {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Retriever{embedder: embedder, searcher: searcher, timeout: timeout}
}

// Retrieve returns at most limit fragments with relevance >= minRelevance,
// most relevant first.
func (r *Retriever) Retrieve(ctx context.Context, query string, limit int, minRelevance float64) model.RetrievedContext {
	query = strings.TrimSpace(query)
	if r == nil || r.embedder == nil || r.searcher == nil || query == "" {
		return model.RetrievedContext{}
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	minRelevance = clamp01(minRelevance)

	log := zap.L().With(zap.String("query", query))

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		log.Warn("retrieval: embed failed, continuing without context", zap.Error(err))
		return model.RetrievedContext{}
	}
	if len(vector) == 0 {
		log.Warn("retrieval: empty embedding, continuing without context")
		return model.RetrievedContext{}
	}

	matches, err := r.searcher.Search(ctx, vector, minRelevance, limit)
	if err != nil {
		log.Warn("retrieval: search failed, continuing without context", zap.Error(err))
		return model.RetrievedContext{}
	}

	out := rank(matches, limit, minRelevance)
	log.Debug("retrieval: fragments selected", zap.Int("returned", len(matches)), zap.Int("kept", len(out.Fragments)))
	return out
}

// rank clamps scores into [0,1], drops anything under the threshold or
// without text, sorts by relevance descending and truncates to limit.
func rank(matches []Match, limit int, threshold float64) model.RetrievedContext {
	frags := make([]model.Fragment, 0, len(matches))
	for _, m := range matches {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		score := clamp01(m.Similarity)
		if score < threshold {
			continue
		}
		frags = append(frags, model.Fragment{
			SourceRef: strings.TrimSpace(m.ClauseRef),
			Text:      text,
			Relevance: score,
		})
	}

	sort.SliceStable(frags, func(i, j int) bool { return frags[i].Relevance > frags[j].Relevance })
	if len(frags) > limit {
		frags = frags[:limit]
	}
	if len(frags) == 0 {
		return model.RetrievedContext{}
	}
	return model.RetrievedContext{Fragments: frags}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
