package main

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/article-engine/internal/config"
	"github.com/sells-group/article-engine/internal/governor"
	"github.com/sells-group/article-engine/internal/prompt"
	"github.com/sells-group/article-engine/internal/provider"
	"github.com/sells-group/article-engine/internal/queue"
	"github.com/sells-group/article-engine/internal/resilience"
	"github.com/sells-group/article-engine/internal/retrieval"
	"github.com/sells-group/article-engine/internal/router"
	"github.com/sells-group/article-engine/internal/store"
	"github.com/sells-group/article-engine/internal/validate"
)

const defaultOpenAIEmbeddingModel = "text-embedding-3-small"

// engineEnv holds the wired generation pipeline used by the worker and
// generate commands.
type engineEnv struct {
	Store    store.Store // nil when the command runs without a queue
	Governor *governor.Governor
	Router   *router.Router
	Consumer *queue.Consumer
}

// Close releases resources held by the environment.
func (e *engineEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine builds adapters, governor, router, retriever, validation loop
// and consumer from cfg. st may be nil.
func initEngine(ctx context.Context, st store.Store) (*engineEnv, error) {
	providers := cfg.EnabledProviders()

	adapters, err := provider.NewAll(ctx, providers)
	if err != nil {
		return nil, eris.Wrap(err, "init providers")
	}
	gov := governor.New(providers)
	rt, err := router.New(adapters, providers, gov)
	if err != nil {
		return nil, eris.Wrap(err, "init router")
	}
	zap.L().Info("failover order", zap.Strings("providers", rt.Order()))

	retriever, err := buildRetriever(ctx, cfg.Retrieval, cfg.Keys, st)
	if err != nil {
		return nil, err
	}

	tones := prompt.DefaultTones()
	if cfg.Prompt.TonesPath != "" {
		tones, err = prompt.LoadTones(cfg.Prompt.TonesPath)
		if err != nil {
			return nil, eris.Wrap(err, "load tones")
		}
	}

	loop := validate.NewLoop(rt, cfg.Policy, validate.WithAuthor(cfg.Prompt.Author))
	popts := prompt.Options{
		Persona:          cfg.Prompt.Persona,
		Author:           cfg.Prompt.Author,
		MinLength:        cfg.Policy.MinLength,
		DisallowedTokens: cfg.Policy.DisallowedTokens,
	}

	retry := resilience.FromRetryConfig(cfg.Store.WriteRetries, cfg.Store.WriteBackoff, 0)
	retry.OnRetry = resilience.RetryLogger("store", "status write")

	var q store.Queue
	var a store.Artifacts
	if st != nil {
		q, a = st, st
	}

	return &engineEnv{
		Store:    st,
		Governor: gov,
		Router:   rt,
		Consumer: queue.New(q, a, retriever, loop, tones, popts, cfg.Queue, queue.WithStatusRetry(retry)),
	}, nil
}

// buildRetriever wires the configured embedder and searcher. Either set to
// "none" disables retrieval; prompts then carry the fallback context.
func buildRetriever(ctx context.Context, rc config.RetrievalConfig, keys config.KeysConfig, st store.Store) (*retrieval.Retriever, error) {
	if rc.Embedder == "none" || rc.Searcher == "none" {
		zap.L().Info("retrieval disabled")
		return retrieval.New(nil, nil, rc.Timeout), nil
	}

	var embedder retrieval.Embedder
	switch rc.Embedder {
	case "gemini":
		e, err := retrieval.NewGeminiEmbedder(ctx, keys.Gemini, rc.EmbeddingModel, rc.EmbeddingBaseURL, rc.EmbeddingDimensions)
		if err != nil {
			return nil, eris.Wrap(err, "init gemini embedder")
		}
		embedder = e
	case "openai":
		embedModel := rc.EmbeddingModel
		if embedModel == "" || embedModel == retrieval.DefaultGeminiEmbeddingModel {
			embedModel = defaultOpenAIEmbeddingModel
		}
		e, err := retrieval.NewOpenAIEmbedder(keys.OpenAI, embedModel, rc.EmbeddingBaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init openai embedder")
		}
		embedder = e
	default:
		return nil, eris.Errorf("unsupported embedder: %s", rc.Embedder)
	}

	var searcher retrieval.Searcher
	switch rc.Searcher {
	case "rpc":
		opts := []retrieval.RPCOption{retrieval.WithFunction(rc.MatchFunction)}
		if rc.RPCRateLimit > 0 {
			burst := max(1, int(math.Ceil(rc.RPCRateLimit)))
			opts = append(opts, retrieval.WithRateLimit(rc.RPCRateLimit, burst))
		}
		searcher = retrieval.NewRPCSearcher(rc.RPCURL, rc.RPCKey, opts...)
	case "postgres":
		ps, ok := st.(*store.PostgresStore)
		if !ok {
			return nil, eris.New("postgres searcher requires the postgres store")
		}
		s, err := retrieval.NewPostgresSearcher(ps.Pool(), rc.MatchFunction)
		if err != nil {
			return nil, eris.Wrap(err, "init postgres searcher")
		}
		searcher = s
	default:
		return nil, eris.Errorf("unsupported searcher: %s", rc.Searcher)
	}

	zap.L().Info("retrieval enabled", zap.String("embedder", rc.Embedder), zap.String("searcher", rc.Searcher))
	return retrieval.New(embedder, searcher, rc.Timeout), nil
}
