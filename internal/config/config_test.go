package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/article-engine/internal/model"
	"github.com/sells-group/article-engine/internal/validate"
)

// isolate moves into an empty temp dir and blanks every vendor variable so
// the host environment cannot leak into Load.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck

	for _, env := range []string{
		"GEMINI_API_KEY", "OPENROUTER_API_KEY", "GROQ_API_KEY", "MISTRAL_API_KEY",
		"DEEPSEEK_API_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY",
		"SUPABASE_URL", "SUPABASE_SERVICE_ROLE_KEY", "DATABASE_URL",
	} {
		t.Setenv(env, "")
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "article-engine.db", cfg.Store.SQLitePath)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 7500, cfg.Policy.MinLength)
	assert.Equal(t, 3, cfg.Policy.MaxAttempts)
	assert.Equal(t, validate.DefaultDisallowedTokens, cfg.Policy.DisallowedTokens)
	assert.Equal(t, 3, cfg.Queue.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.Queue.ErrorBackoff)
	assert.Equal(t, 8, cfg.Queue.RetrievalSize)
	assert.InDelta(t, 0.5, cfg.Queue.MinRelevance, 0.001)
	assert.Equal(t, "gemini", cfg.Retrieval.Embedder)
	assert.Equal(t, "gemini-embedding-001", cfg.Retrieval.EmbeddingModel)
	assert.Equal(t, "rpc", cfg.Retrieval.Searcher)
	assert.Equal(t, "match_constitution", cfg.Retrieval.MatchFunction)
	assert.Equal(t, 20*time.Second, cfg.Retrieval.Timeout)
	assert.Equal(t, "CEKA", cfg.Prompt.Author)
	assert.Empty(t, cfg.Providers)
}

func TestLoadFromYAML(t *testing.T) {
	dir := isolate(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: /tmp/jobs.db
log:
  level: debug
  format: console
queue:
  batch_size: 5
  poll_interval: 10s
keys:
  groq: gsk-file
providers:
  - name: groq
    kind: openai
    model: llama-3.3-70b-versatile
    base_url: https://api.groq.com/openai/v1
    requests_per_minute: 30
    temperature: 0.4
  - name: local
    kind: openai
    model: qwen
    base_url: http://localhost:11434/v1
    api_key: ollama
    timeout: 5m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/jobs.db", cfg.Store.SQLitePath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 5, cfg.Queue.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Queue.PollInterval)
	// Defaults still apply for unset values
	assert.Equal(t, 30*time.Second, cfg.Queue.ErrorBackoff)

	require.Len(t, cfg.Providers, 2)
	groq := cfg.Providers[0]
	assert.Equal(t, model.ProviderOpenAI, groq.Kind)
	assert.Equal(t, "gsk-file", groq.APIKey)
	assert.Equal(t, 1, groq.Priority)
	assert.Equal(t, 30, groq.RequestsPerMinute)
	assert.Equal(t, 120*time.Second, groq.Timeout)
	require.NotNil(t, groq.Temperature)
	assert.InDelta(t, 0.4, *groq.Temperature, 1e-9)

	local := cfg.Providers[1]
	assert.Equal(t, "ollama", local.APIKey)
	assert.Equal(t, 2, local.Priority)
	assert.Equal(t, 5*time.Minute, local.Timeout)
	assert.Nil(t, local.Temperature)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log:\n  level: debug\n"), 0o644))

	t.Setenv("ARTICLE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadVendorKeysBuildDefaultProviders(t *testing.T) {
	isolate(t)

	t.Setenv("GEMINI_API_KEY", "gem")
	t.Setenv("DEEPSEEK_API_KEY", "ds")
	t.Setenv("ARTICLE_KEYS_GROQ", "gsk")
	t.Setenv("SUPABASE_URL", "https://project.supabase.co")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "gemini", cfg.Providers[0].Name)
	assert.Equal(t, model.ProviderGemini, cfg.Providers[0].Kind)
	assert.Equal(t, "gem", cfg.Providers[0].APIKey)
	assert.Equal(t, "groq", cfg.Providers[1].Name)
	assert.Equal(t, GroqBaseURL, cfg.Providers[1].BaseURL)
	assert.Equal(t, "gsk", cfg.Providers[1].APIKey)
	assert.Equal(t, "deepseek", cfg.Providers[2].Name)
	assert.Equal(t, 60, cfg.Providers[2].RequestsPerMinute)
	for i, p := range cfg.Providers {
		assert.Equal(t, i+1, p.Priority)
		assert.Equal(t, 120*time.Second, p.Timeout)
	}
	assert.Equal(t, "https://project.supabase.co", cfg.Retrieval.RPCURL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ARTICLE_STORE_DRIVER=sqlite\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("ARTICLE_STORE_DRIVER") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestDefaultProviders_Order(t *testing.T) {
	got := DefaultProviders(KeysConfig{
		Gemini: "g", OpenRouter: "o", Groq: "q", Mistral: "m", DeepSeek: "d", Anthropic: "a",
	})
	names := make([]string, len(got))
	for i, p := range got {
		names[i] = p.Name
	}
	assert.Equal(t, []string{"gemini", "openrouter", "groq", "mistral", "deepseek", "anthropic"}, names)
	assert.Equal(t, OpenRouterBaseURL, got[1].BaseURL)
	assert.Equal(t, MistralBaseURL, got[3].BaseURL)
	assert.Equal(t, model.ProviderAnthropic, got[5].Kind)

	assert.Empty(t, DefaultProviders(KeysConfig{}))
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config that passes validation in every mode.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/articles"
	cfg.Providers = DefaultProviders(KeysConfig{Gemini: "g", Groq: "q"})
	cfg.Keys.Gemini = "g"
	cfg.Policy = validate.DefaultPolicy()
	cfg.Retrieval = RetrievalConfig{
		Embedder: "gemini",
		Searcher: "rpc",
		RPCURL:   "https://project.supabase.co",
		RPCKey:   "service-role",
	}
	return cfg
}

func TestValidate_AllModesPass(t *testing.T) {
	cfg := validDefaults()
	for _, mode := range []string{ModeWorker, ModeGenerate, ModeEnqueue, ModeMigrate, ModeProviders} {
		assert.NoError(t, cfg.Validate(mode), mode)
	}
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate(ModeMigrate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	// generate never opens the queue store
	cfg.Retrieval.Searcher = "none"
	assert.NoError(t, cfg.Validate(ModeGenerate))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate(ModeEnqueue)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver must be postgres or sqlite, got "mysql"`)

	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "jobs.db"
	assert.NoError(t, cfg.Validate(ModeEnqueue))
}

func TestValidateProviders(t *testing.T) {
	hot := 2.5
	cfg := validDefaults()
	cfg.Providers = nil

	err := cfg.Validate(ModeWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one provider is required")

	// providers and enqueue do not need a provider
	assert.NoError(t, cfg.Validate(ModeEnqueue))

	cfg.Providers = []model.ProviderConfig{
		{Name: "a", Kind: "grpc", Model: "m", APIKey: "k"},
		{Name: "a", Kind: model.ProviderOpenAI, APIKey: "k"},
		{Name: "b", Kind: model.ProviderOpenAI, Model: "m"},
		{Name: "hot", Kind: model.ProviderOpenAI, Model: "m", APIKey: "k", Temperature: &hot},
		{Name: "off", Disabled: true},
	}
	err = cfg.Validate(ModeGenerate)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `a: unknown kind "grpc"`)
	assert.Contains(t, err.Error(), "a: duplicate provider name")
	assert.Contains(t, err.Error(), "a: model is required")
	assert.Contains(t, err.Error(), "b: api_key is required")
	assert.Contains(t, err.Error(), "hot: temperature must be between 0 and 2")
	assert.NotContains(t, err.Error(), "off:")
}

func TestValidatePolicy(t *testing.T) {
	cfg := validDefaults()
	cfg.Policy.MinLength = 0
	cfg.Policy.MaxAttempts = -1

	err := cfg.Validate(ModeWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy.min_length must be > 0")
	assert.Contains(t, err.Error(), "policy.max_attempts must be >= 0")
}

func TestValidateRetrieval(t *testing.T) {
	cfg := validDefaults()
	cfg.Retrieval.RPCKey = ""
	cfg.Keys.Gemini = ""

	err := cfg.Validate(ModeWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval.searcher rpc needs")
	assert.Contains(t, err.Error(), "retrieval.embedder gemini needs keys.gemini")

	cfg.Retrieval = RetrievalConfig{Embedder: "openai", Searcher: "postgres"}
	cfg.Keys.OpenAI = "sk"
	assert.NoError(t, cfg.Validate(ModeWorker))

	cfg.Store.Driver = "sqlite"
	cfg.Store.SQLitePath = "jobs.db"
	err = cfg.Validate(ModeWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retrieval.searcher postgres needs the postgres store")

	cfg.Retrieval = RetrievalConfig{Embedder: "none", Searcher: "none"}
	assert.NoError(t, cfg.Validate(ModeWorker))

	cfg.Retrieval = RetrievalConfig{Embedder: "cohere", Searcher: "pinecone"}
	err = cfg.Validate(ModeWorker)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `retrieval.embedder must be gemini, openai or none, got "cohere"`)
	assert.Contains(t, err.Error(), `retrieval.searcher must be rpc, postgres or none, got "pinecone"`)
}

func TestEnabledProviders(t *testing.T) {
	cfg := &Config{Providers: []model.ProviderConfig{
		{Name: "a"}, {Name: "b", Disabled: true}, {Name: "c"},
	}}
	got := cfg.EnabledProviders()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "c", got[1].Name)
}

func TestLoadStoreWriteRetryDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Store.WriteRetries)
	assert.Equal(t, time.Second, cfg.Store.WriteBackoff)
}
