package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	Database struct {
		Driver           string `yaml:"driver"`
		ConnectionString string `yaml:"connection_string"`
		SQLitePath       string `yaml:"sqlite_path"`
		MaxConns         int32  `yaml:"max_conns"`
	} `yaml:"database"`
	Ollama struct {
		BaseURL      string `yaml:"base_url"`
		DefaultModel string `yaml:"default_model"`
	} `yaml:"ollama"`
	Embeddings struct {
		Provider  string        `yaml:"provider"`
		TextModel string        `yaml:"text_model"`
		Timeout   time.Duration `yaml:"timeout"`
	} `yaml:"embeddings"`
	Extraction struct {
		Provider         string        `yaml:"provider"`
		Model            string        `yaml:"model"`
		Endpoint         string        `yaml:"endpoint"`
		APIKey           string        `yaml:"api_key"`
		Timeout          time.Duration `yaml:"timeout"`
		MaxContextTokens int           `yaml:"max_context_tokens"`
		// RequireCredential makes the http provider refuse to run without APIKey
		RequireCredential bool `yaml:"require_credential"`
	} `yaml:"extraction"`
	Matching struct {
		RelatedThreshold  float64 `yaml:"related_threshold"`
		DefaultSimilarity float64 `yaml:"default_similarity"`
		SimilarLimit      int     `yaml:"similar_limit"`
	} `yaml:"matching"`
	Locking struct {
		Backend   string        `yaml:"backend"`
		RedisAddr string        `yaml:"redis_addr"`
		TTL       time.Duration `yaml:"ttl"`
	} `yaml:"locking"`
	Graph struct {
		Neo4jURI      string `yaml:"neo4j_uri"`
		Neo4jUser     string `yaml:"neo4j_user"`
		Neo4jPassword string `yaml:"neo4j_password"`
		Neo4jDatabase string `yaml:"neo4j_database"`
	} `yaml:"graph"`
	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Backfill struct {
		Schedule    string `yaml:"schedule"`
		BatchSize   int    `yaml:"batch_size"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"backfill"`
	Logging struct {
		Mode string `yaml:"mode"`
	} `yaml:"logging"`
	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		Exporter    string  `yaml:"exporter"`
		Endpoint    string  `yaml:"endpoint"`
		SampleRatio float64 `yaml:"sample_ratio"`
	} `yaml:"tracing"`
}

// DefaultPath returns ~/.conceptd/config.yaml
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".conceptd", "config.yaml")
}

// Load loads configuration from path (or the default location when path is
// empty), then applies .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save saves configuration to path (or the default location)
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Default returns default configuration
func Default() *Config {
	cfg := &Config{}

	cfg.Database.Driver = "postgres"
	cfg.Database.ConnectionString = "postgres://postgres@localhost/conceptd?sslmode=disable"
	cfg.Database.SQLitePath = filepath.Join(os.Getenv("HOME"), ".conceptd", "conceptd.db")
	cfg.Database.MaxConns = 10
	cfg.Ollama.BaseURL = "http://localhost:11434"
	cfg.Ollama.DefaultModel = ""
	cfg.Embeddings.Provider = "ollama"
	cfg.Embeddings.TextModel = "nomic-embed-text"
	cfg.Embeddings.Timeout = 30 * time.Second
	cfg.Extraction.Provider = "openai"
	cfg.Extraction.Model = "gpt-4o-mini"
	cfg.Extraction.Timeout = 2 * time.Minute
	cfg.Extraction.MaxContextTokens = 12000
	cfg.Matching.RelatedThreshold = 0.7
	cfg.Matching.DefaultSimilarity = 0.5
	cfg.Matching.SimilarLimit = 10
	cfg.Locking.Backend = "memory"
	cfg.Locking.TTL = 10 * time.Minute
	cfg.Graph.Neo4jUser = "neo4j"
	cfg.Server.Addr = ":8080"
	cfg.Server.AllowedOrigins = []string{"http://localhost:1420", "http://localhost:5173"}
	cfg.Backfill.Schedule = "@every 15m"
	cfg.Backfill.BatchSize = 50
	cfg.Backfill.Concurrency = 4
	cfg.Logging.Mode = "development"
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SampleRatio = 1.0

	return cfg
}

// Validate checks enumerations and numeric ranges. The extraction credential
// is not checked here: analysis reports its absence at call time.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	switch c.Embeddings.Provider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("config: unknown embeddings provider %q", c.Embeddings.Provider)
	}
	switch c.Extraction.Provider {
	case "openai", "ollama":
	case "http":
		if c.Extraction.Endpoint == "" {
			return fmt.Errorf("config: extraction.endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("config: unknown extraction provider %q", c.Extraction.Provider)
	}
	switch c.Locking.Backend {
	case "memory":
	case "redis":
		if c.Locking.RedisAddr == "" {
			return fmt.Errorf("config: locking.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown locking backend %q", c.Locking.Backend)
	}
	if c.Matching.RelatedThreshold < 0 || c.Matching.RelatedThreshold > 1 {
		return fmt.Errorf("config: matching.related_threshold must be within [0,1], got %v", c.Matching.RelatedThreshold)
	}
	if c.Matching.DefaultSimilarity < 0 || c.Matching.DefaultSimilarity > 1 {
		return fmt.Errorf("config: matching.default_similarity must be within [0,1], got %v", c.Matching.DefaultSimilarity)
	}
	if c.Extraction.Timeout <= 0 {
		return fmt.Errorf("config: extraction.timeout must be positive")
	}
	if c.Locking.TTL <= 0 {
		return fmt.Errorf("config: locking.ttl must be positive")
	}
	if c.Backfill.Concurrency <= 0 || c.Backfill.BatchSize <= 0 {
		return fmt.Errorf("config: backfill.batch_size and backfill.concurrency must be positive")
	}
	return nil
}

// ExtractionModel returns the model the configured extraction provider
// should prefer. The ollama provider reads ollama.default_model. When that
// is empty a model is chosen from those installed on the server.
func (c *Config) ExtractionModel() string {
	if c.Extraction.Provider == "ollama" {
		return c.Ollama.DefaultModel
	}
	return c.Extraction.Model
}

func (c *Config) applyEnv() {
	if v := env("CONCEPTD_DATABASE_URL"); v != "" {
		c.Database.ConnectionString = v
	}
	if v := env("OPENAI_API_KEY"); v != "" {
		c.Extraction.APIKey = v
	}
	// An explicit extraction key wins over the generic OpenAI one.
	if v := env("CONCEPTD_EXTRACTION_API_KEY"); v != "" {
		c.Extraction.APIKey = v
	}
	if v := env("OLLAMA_BASE_URL"); v != "" {
		c.Ollama.BaseURL = v
	}
	if v := env("REDIS_ADDR"); v != "" {
		c.Locking.RedisAddr = v
	}
	if v := env("NEO4J_URI"); v != "" {
		c.Graph.Neo4jURI = v
	}
	if v := env("NEO4J_USER"); v != "" {
		c.Graph.Neo4jUser = v
	}
	if v := env("NEO4J_PASSWORD"); v != "" {
		c.Graph.Neo4jPassword = v
	}
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
