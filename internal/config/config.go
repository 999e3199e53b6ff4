package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/internal/queue"
	"github.com/sells-group/article-engine/internal/store"
	"github.com/sells-group/article-engine/internal/validate"
)

// Config holds the full application configuration.
type Config struct {
	Providers []model.ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Keys      KeysConfig             `yaml:"keys" mapstructure:"keys"`
	Policy    validate.Policy        `yaml:"policy" mapstructure:"policy"`
	Queue     queue.Config           `yaml:"queue" mapstructure:"queue"`
	Retrieval RetrievalConfig        `yaml:"retrieval" mapstructure:"retrieval"`
	Store     StoreConfig            `yaml:"store" mapstructure:"store"`
	Prompt    PromptConfig           `yaml:"prompt" mapstructure:"prompt"`
	Server    ServerConfig           `yaml:"server" mapstructure:"server"`
	Log       LogConfig              `yaml:"log" mapstructure:"log"`
}

// KeysConfig holds vendor API keys. Each key also binds to the vendor's
// conventional environment variable, e.g. GEMINI_API_KEY.
type KeysConfig struct {
	Gemini     string `yaml:"gemini" mapstructure:"gemini"`
	OpenRouter string `yaml:"openrouter" mapstructure:"openrouter"`
	Groq       string `yaml:"groq" mapstructure:"groq"`
	Mistral    string `yaml:"mistral" mapstructure:"mistral"`
	DeepSeek   string `yaml:"deepseek" mapstructure:"deepseek"`
	Anthropic  string `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI     string `yaml:"openai" mapstructure:"openai"`
}

// RetrievalConfig selects the embedder and vector searcher.
type RetrievalConfig struct {
	Embedder            string        `yaml:"embedder" mapstructure:"embedder"` // gemini, openai or none
	EmbeddingModel      string        `yaml:"embedding_model" mapstructure:"embedding_model"`
	EmbeddingDimensions int32         `yaml:"embedding_dimensions" mapstructure:"embedding_dimensions"`
	EmbeddingBaseURL    string        `yaml:"embedding_base_url" mapstructure:"embedding_base_url"`
	Searcher            string        `yaml:"searcher" mapstructure:"searcher"` // rpc, postgres or none
	RPCURL              string        `yaml:"rpc_url" mapstructure:"rpc_url"`
	RPCKey              string        `yaml:"rpc_key" mapstructure:"rpc_key"`
	RPCRateLimit        float64       `yaml:"rpc_rate_limit" mapstructure:"rpc_rate_limit"`
	MatchFunction       string        `yaml:"match_function" mapstructure:"match_function"`
	Timeout             time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string           `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string           `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string           `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	Pool        store.PoolConfig `yaml:"pool" mapstructure:"pool"`

	// Transient-error retry for job status and artifact writes.
	WriteRetries int           `yaml:"write_retries" mapstructure:"write_retries"`
	WriteBackoff time.Duration `yaml:"write_backoff" mapstructure:"write_backoff"`
}

// PromptConfig holds deployment-level prompt settings.
type PromptConfig struct {
	TonesPath string `yaml:"tones_path" mapstructure:"tones_path"`
	Author    string `yaml:"author" mapstructure:"author"`
	Persona   string `yaml:"persona" mapstructure:"persona"`
}

// ServerConfig configures the worker's status listener.
type ServerConfig struct {
	StatusAddr     string   `yaml:"status_addr" mapstructure:"status_addr"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Modes accepted by Validate.
const (
	ModeWorker    = "worker"
	ModeGenerate  = "generate"
	ModeEnqueue   = "enqueue"
	ModeMigrate   = "migrate"
	ModeProviders = "providers"
)

// Default provider endpoints for the OpenAI-compatible vendors.
const (
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	MistralBaseURL    = "https://api.mistral.ai/v1"
	DeepSeekBaseURL   = "https://api.deepseek.com"
)

const defaultProviderTimeout = 120 * time.Second

// Load reads configuration from .env, config.yaml and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ARTICLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	vendorEnv := map[string]string{
		"keys.gemini":        "GEMINI_API_KEY",
		"keys.openrouter":    "OPENROUTER_API_KEY",
		"keys.groq":          "GROQ_API_KEY",
		"keys.mistral":       "MISTRAL_API_KEY",
		"keys.deepseek":      "DEEPSEEK_API_KEY",
		"keys.anthropic":     "ANTHROPIC_API_KEY",
		"keys.openai":        "OPENAI_API_KEY",
		"retrieval.rpc_url":  "SUPABASE_URL",
		"retrieval.rpc_key":  "SUPABASE_SERVICE_ROLE_KEY",
		"store.database_url": "DATABASE_URL",
	}
	for key, env := range vendorEnv {
		prefixed := "ARTICLE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "article-engine.db")
	v.SetDefault("store.write_retries", 3)
	v.SetDefault("store.write_backoff", time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("policy.min_length", validate.DefaultMinLength)
	v.SetDefault("policy.max_attempts", validate.DefaultMaxAttempts)
	v.SetDefault("policy.disallowed_tokens", validate.DefaultDisallowedTokens)
	v.SetDefault("queue.batch_size", queue.DefaultBatchSize)
	v.SetDefault("queue.concurrency", queue.DefaultBatchSize)
	v.SetDefault("queue.poll_interval", queue.DefaultPollInterval)
	v.SetDefault("queue.error_backoff", queue.DefaultErrorBackoff)
	v.SetDefault("queue.status_timeout", queue.DefaultStatusTimeout)
	v.SetDefault("queue.retrieval_size", queue.DefaultRetrievalSize)
	v.SetDefault("queue.min_relevance", queue.DefaultMinRelevance)
	v.SetDefault("retrieval.embedder", "gemini")
	v.SetDefault("retrieval.embedding_model", "gemini-embedding-001")
	v.SetDefault("retrieval.embedding_dimensions", 768)
	v.SetDefault("retrieval.searcher", "rpc")
	v.SetDefault("retrieval.rpc_rate_limit", 5)
	v.SetDefault("retrieval.match_function", "match_constitution")
	v.SetDefault("retrieval.timeout", 20*time.Second)
	v.SetDefault("prompt.author", validate.DefaultAuthor)
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if len(cfg.Providers) == 0 {
		cfg.Providers = DefaultProviders(cfg.Keys)
	}
	for i := range cfg.Providers {
		fillProviderDefaults(&cfg.Providers[i], i, cfg.Keys)
	}

	return &cfg, nil
}

// DefaultProviders returns the built-in failover order, skipping vendors
// without a key: Gemini, OpenRouter, Groq, Mistral, DeepSeek, then Anthropic.
func DefaultProviders(keys KeysConfig) []model.ProviderConfig {
	candidates := []model.ProviderConfig{
		{Name: "gemini", Kind: model.ProviderGemini, Model: "gemini-2.0-flash", APIKey: keys.Gemini,
			RequestsPerMinute: 15, TokensPerMinute: 100000},
		{Name: "openrouter", Kind: model.ProviderOpenAI, Model: "openai/gpt-4o", BaseURL: OpenRouterBaseURL, APIKey: keys.OpenRouter},
		{Name: "groq", Kind: model.ProviderOpenAI, Model: "llama3-70b-8192", BaseURL: GroqBaseURL, APIKey: keys.Groq},
		{Name: "mistral", Kind: model.ProviderOpenAI, Model: "mistral-large-latest", BaseURL: MistralBaseURL, APIKey: keys.Mistral},
		{Name: "deepseek", Kind: model.ProviderOpenAI, Model: "deepseek-chat", BaseURL: DeepSeekBaseURL, APIKey: keys.DeepSeek,
			RequestsPerMinute: 60, TokensPerMinute: 50000},
		{Name: "anthropic", Kind: model.ProviderAnthropic, Model: "claude-sonnet-4-5-20250929", APIKey: keys.Anthropic},
	}

	var out []model.ProviderConfig
	for _, c := range candidates {
		if c.APIKey == "" {
			continue
		}
		c.Priority = len(out) + 1
		out = append(out, c)
	}
	return out
}

// fillProviderDefaults completes an entry from a config file: a missing key
// falls back to the vendor key of the same name, priority to list position.
func fillProviderDefaults(p *model.ProviderConfig, idx int, keys KeysConfig) {
	if p.APIKey == "" {
		p.APIKey = keys.forName(p.Name)
	}
	if p.Priority == 0 {
		p.Priority = idx + 1
	}
	if p.Timeout <= 0 {
		p.Timeout = defaultProviderTimeout
	}
}

func (k KeysConfig) forName(name string) string {
	switch strings.ToLower(name) {
	case "gemini":
		return k.Gemini
	case "openrouter":
		return k.OpenRouter
	case "groq":
		return k.Groq
	case "mistral":
		return k.Mistral
	case "deepseek":
		return k.DeepSeek
	case "anthropic":
		return k.Anthropic
	case "openai":
		return k.OpenAI
	default:
		return ""
	}
}

// EnabledProviders returns the providers that are not disabled.
func (c *Config) EnabledProviders() []model.ProviderConfig {
	var out []model.ProviderConfig
	for _, p := range c.Providers {
		if !p.Disabled {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the settings a command needs. Problems are reported
// together.
func (c *Config) Validate(mode string) error {
	switch mode {
	case ModeWorker, ModeGenerate, ModeEnqueue, ModeMigrate, ModeProviders:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	var errs []string

	needsStore := mode == ModeWorker || mode == ModeEnqueue || mode == ModeMigrate
	needsProviders := mode == ModeWorker || mode == ModeGenerate

	if needsStore {
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				errs = append(errs, "store.sqlite_path is required for the sqlite driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
		}
	}

	if needsProviders {
		enabled := c.EnabledProviders()
		if len(enabled) == 0 {
			errs = append(errs, "at least one provider is required (set GEMINI_API_KEY or configure providers)")
		}
		seen := make(map[string]bool, len(enabled))
		for i, p := range enabled {
			label := p.Name
			if label == "" {
				label = fmt.Sprintf("providers[%d]", i)
				errs = append(errs, label+": name is required")
			}
			if seen[p.Name] {
				errs = append(errs, fmt.Sprintf("%s: duplicate provider name", label))
			}
			seen[p.Name] = true
			if !p.Kind.Valid() {
				errs = append(errs, fmt.Sprintf("%s: unknown kind %q", label, p.Kind))
			}
			if p.Model == "" {
				errs = append(errs, label+": model is required")
			}
			if p.APIKey == "" {
				errs = append(errs, label+": api_key is required")
			}
			if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
				errs = append(errs, label+": temperature must be between 0 and 2")
			}
		}

		if c.Policy.MinLength <= 0 {
			errs = append(errs, "policy.min_length must be > 0")
		}
		if c.Policy.MaxAttempts < 0 {
			errs = append(errs, "policy.max_attempts must be >= 0")
		}
		errs = append(errs, c.validateRetrieval()...)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateRetrieval() []string {
	var errs []string
	r := c.Retrieval

	if !slices.Contains([]string{"gemini", "openai", "none"}, r.Embedder) {
		errs = append(errs, fmt.Sprintf("retrieval.embedder must be gemini, openai or none, got %q", r.Embedder))
	}
	if !slices.Contains([]string{"rpc", "postgres", "none"}, r.Searcher) {
		errs = append(errs, fmt.Sprintf("retrieval.searcher must be rpc, postgres or none, got %q", r.Searcher))
	}
	if r.Embedder == "none" || r.Searcher == "none" {
		return errs
	}

	switch r.Embedder {
	case "gemini":
		if c.Keys.Gemini == "" {
			errs = append(errs, "retrieval.embedder gemini needs keys.gemini")
		}
	case "openai":
		if c.Keys.OpenAI == "" {
			errs = append(errs, "retrieval.embedder openai needs keys.openai")
		}
	}

	switch r.Searcher {
	case "rpc":
		if r.RPCURL == "" || r.RPCKey == "" {
			errs = append(errs, "retrieval.searcher rpc needs retrieval.rpc_url and retrieval.rpc_key")
		}
	case "postgres":
		if c.Store.Driver != "postgres" || c.Store.DatabaseURL == "" {
			errs = append(errs, "retrieval.searcher postgres needs the postgres store")
		}
	}
	return errs
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
