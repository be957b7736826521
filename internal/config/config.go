// Package config provides configuration loading and structs for the KB Copilot server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override config values,
// e.g. KBCOPILOT_SERVER_PORT or KBCOPILOT_GENERATION_API_KEY.
const EnvPrefix = "KBCOPILOT"

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Indexing   IndexingConfig   `yaml:"indexing"`
	Search     SearchConfig     `yaml:"search"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout" split_words:"true"`
}

// StorageConfig selects the persistence backend and its paths.
type StorageConfig struct {
	// Driver is one of sqlite, postgres, json, memory.
	Driver           string `yaml:"driver"`
	DatabasePath     string `yaml:"database_path" split_words:"true"`
	DSN              string `yaml:"dsn"`
	JSONPath         string `yaml:"json_path" split_words:"true"`
	KeywordIndexPath string `yaml:"keyword_index_path" split_words:"true"`
}

// EmbeddingConfig selects the embedder. Remote providers fall back to the
// generation API key and base URL when their own are empty.
type EmbeddingConfig struct {
	// Provider is one of hash, gemini, openai.
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size" split_words:"true"`
	APIKey     string `yaml:"api_key" split_words:"true"`
	BaseURL    string `yaml:"base_url" split_words:"true"`
}

// GenerationConfig selects the answer generator.
type GenerationConfig struct {
	// Provider is one of gemini, openai.
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key" split_words:"true"`
	BaseURL  string `yaml:"base_url" split_words:"true"`
}

// IndexingConfig holds chunking and embedding pacing settings.
type IndexingConfig struct {
	ChunkSize    int `yaml:"chunk_size" split_words:"true"`
	ChunkOverlap int `yaml:"chunk_overlap" split_words:"true"`
	// EmbedInterval is the minimum delay between embedding calls. Zero disables pacing.
	EmbedInterval *time.Duration `yaml:"embed_interval" split_words:"true"`
}

// EmbedIntervalOrDefault returns the configured pacing interval; defaults to 100ms when unset.
func (c *IndexingConfig) EmbedIntervalOrDefault() time.Duration {
	if c.EmbedInterval != nil {
		return *c.EmbedInterval
	}
	return DefaultEmbedInterval
}

// SearchConfig holds retrieval settings.
type SearchConfig struct {
	DefaultTopK int `yaml:"default_top_k" split_words:"true"`
	MaxTopK     int `yaml:"max_top_k" split_words:"true"`
	// Fuzziness is the edit distance allowed when looking up documents by keyword.
	// 0 disables typo tolerance; the maximum is 2.
	Fuzziness   int `yaml:"fuzziness"`
}

// IngestConfig holds file ingestion and directory watch settings.
type IngestConfig struct {
	Directories     []string `yaml:"directories"`
	Extensions      []string `yaml:"extensions"`
	DefaultCategory string   `yaml:"default_category" split_words:"true"`
	Watch           bool     `yaml:"watch"`
}

// Load reads the config file at path, applies environment overrides and defaults,
// expands paths and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir, _ := os.Getwd()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
			configDir = filepath.Dir(path)
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := ApplyEnv(&cfg, filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.JSONPath = expandPath(cfg.Storage.JSONPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	for i := range cfg.Ingest.Directories {
		cfg.Ingest.Directories[i] = expandPath(cfg.Ingest.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv loads the given .env files (missing files are ignored) and overlays
// KBCOPILOT_* variables onto cfg. GEMINI_API_KEY and OPENAI_API_KEY fill empty
// API keys for the matching provider.
func ApplyEnv(cfg *Config, envFiles ...string) error {
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return fmt.Errorf("failed to load %s: %w", f, err)
			}
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("failed to apply environment: %w", err)
	}

	if cfg.Generation.APIKey == "" {
		cfg.Generation.APIKey = providerKey(cfg.Generation.Provider)
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = providerKey(cfg.Embedding.Provider)
	}
	return nil
}

func providerKey(provider string) string {
	switch provider {
	case ProviderGemini, "":
		return os.Getenv("GEMINI_API_KEY")
	case ProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

// Validate rejects inconsistent settings. The generation API key is checked
// separately by RequireGeneration since most commands never call the generator.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", ErrInvalid, c.Server.Port)
	}
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.DatabasePath == "" {
			return fmt.Errorf("%w: storage.database_path is required for sqlite", ErrInvalid)
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("%w: storage.dsn is required for postgres", ErrInvalid)
		}
	case DriverJSON:
		if c.Storage.JSONPath == "" {
			return fmt.Errorf("%w: storage.json_path is required for json", ErrInvalid)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%w: unknown storage.driver %q", ErrInvalid, c.Storage.Driver)
	}

	switch c.Embedding.Provider {
	case ProviderHash:
	case ProviderGemini, ProviderOpenAI:
		if c.EmbeddingAPIKey() == "" {
			return fmt.Errorf("%w: embedding provider %s needs an API key", ErrInvalid, c.Embedding.Provider)
		}
	default:
		return fmt.Errorf("%w: unknown embedding.provider %q", ErrInvalid, c.Embedding.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("%w: embedding.dimensions must be positive", ErrInvalid)
	}

	switch c.Generation.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: unknown generation.provider %q", ErrInvalid, c.Generation.Provider)
	}

	if c.Indexing.ChunkSize <= 0 {
		return fmt.Errorf("%w: indexing.chunk_size must be positive", ErrInvalid)
	}
	if c.Indexing.ChunkOverlap < 0 || c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		return fmt.Errorf("%w: indexing.chunk_overlap must be in [0, chunk_size)", ErrInvalid)
	}
	if c.Indexing.EmbedIntervalOrDefault() < 0 {
		return fmt.Errorf("%w: indexing.embed_interval must not be negative", ErrInvalid)
	}
	if c.Search.MaxTopK > 0 && c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("%w: search.default_top_k exceeds max_top_k", ErrInvalid)
	}
	if c.Search.Fuzziness < 0 || c.Search.Fuzziness > MaxFuzziness {
		return fmt.Errorf("%w: search.fuzziness must be in [0, %d]", ErrInvalid, MaxFuzziness)
	}
	return nil
}

// RequireGeneration checks that the generation provider has credentials.
func (c *Config) RequireGeneration() error {
	if c.Generation.APIKey == "" {
		return fmt.Errorf("%w: generation provider %s needs an API key (set %s_GENERATION_API_KEY)",
			ErrInvalid, c.Generation.Provider, EnvPrefix)
	}
	return nil
}

// EmbeddingAPIKey returns the embedding API key, falling back to the generation key
// when both use the same provider.
func (c *Config) EmbeddingAPIKey() string {
	if c.Embedding.APIKey != "" {
		return c.Embedding.APIKey
	}
	if c.Embedding.Provider == c.Generation.Provider {
		return c.Generation.APIKey
	}
	return ""
}

// EmbeddingBaseURL returns the embedding base URL, falling back to the generation one
// when both use the same provider.
func (c *Config) EmbeddingBaseURL() string {
	if c.Embedding.BaseURL != "" {
		return c.Embedding.BaseURL
	}
	if c.Embedding.Provider == c.Generation.Provider {
		return c.Generation.BaseURL
	}
	return ""
}

// Address returns host:port for the HTTP server.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. "~/" paths are relative to the home
// directory; other relative paths are relative to configDir.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
		return path
	}
	return filepath.Join(configDir, path)
}
