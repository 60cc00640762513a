package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Auth      AuthConfig      `yaml:"auth"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Worker    WorkerConfig    `yaml:"worker"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64    `yaml:"max_upload_bytes"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig selects the language model used for fact extraction.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai | ollama
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"-"` // env-only, never in YAML
}

// EmbeddingConfig contains embedding provider settings.
type EmbeddingConfig struct {
	APIKey     string `yaml:"-"` // env-only, never in YAML
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	LocalModel string `yaml:"local_model"`
	LocalHost  string `yaml:"local_host"`
}

// AuthConfig contains authentication and knowledge base access settings.
type AuthConfig struct {
	// APIKey is a single env-provided key that maps to owner "default".
	APIKey string `yaml:"-"`
	// APIKeys maps bearer tokens to owner IDs.
	APIKeys map[string]string `yaml:"api_keys"`
	// KnowledgeBases maps a knowledge base ID to the owners allowed to write it.
	// Knowledge bases without an entry are open to any authenticated owner.
	KnowledgeBases map[string][]string `yaml:"knowledge_bases"`
}

// PipelineConfig tunes the ingestion pipeline.
type PipelineConfig struct {
	WindowSize       int      `yaml:"window_size"`
	Overlap          int      `yaml:"overlap"`
	EmbedConcurrency int      `yaml:"embed_concurrency"`
	ExtractTimeout   Duration `yaml:"extract_timeout"`
	EmbedTimeout     Duration `yaml:"embed_timeout"`
}

// JobsConfig contains job status retention settings.
type JobsConfig struct {
	TTL Duration `yaml:"ttl"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	RetryInterval    Duration `yaml:"retry_interval"`
	RetryMaxAttempts int      `yaml:"retry_max_attempts"`
	RetryBatchSize   int      `yaml:"retry_batch_size"`
}

// ArchiveConfig contains source file archive settings.
// Archiving is disabled when Bucket is empty.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"` // env-only, never in YAML
	SecretKey string `yaml:"-"` // env-only, never in YAML
	UseSSL    bool   `yaml:"use_ssl"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Owners returns the bearer token to owner ID mapping, including the
// env-provided key.
func (a AuthConfig) Owners() map[string]string {
	owners := make(map[string]string, len(a.APIKeys)+1)
	for token, owner := range a.APIKeys {
		owners[token] = owner
	}
	if a.APIKey != "" {
		owners[a.APIKey] = "default"
	}
	return owners
}

// CanWrite reports whether owner may ingest into knowledgeBaseID.
func (a AuthConfig) CanWrite(owner, knowledgeBaseID string) bool {
	allowed, ok := a.KnowledgeBases[knowledgeBaseID]
	if !ok {
		return true
	}
	for _, o := range allowed {
		if o == owner {
			return true
		}
	}
	return false
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("DISTILL_CONFIG_PATH", "config/distill.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used by tests and when a path is given explicitly.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabaseConfig resolves only the database settings (defaults, YAML
// file, DISTILL_DB_PATH). CLI commands that read the local store use it so
// they do not need server secrets.
func LoadDatabaseConfig() (DatabaseConfig, error) {
	cfg := newDefaults()
	if err := loadYAMLFile(cfg, getEnv("DISTILL_CONFIG_PATH", "config/distill.yaml")); err != nil {
		return DatabaseConfig{}, err
	}
	if v := os.Getenv("DISTILL_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	return cfg.Database, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(15 * time.Minute),
			ShutdownTimeout: Duration(30 * time.Second),
			MaxUploadBytes:  25 << 20,
		},
		Database: DatabaseConfig{
			Path: "data/distill.db",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			LocalModel: "nomic-embed-text",
			LocalHost:  "http://localhost:11434",
		},
		Pipeline: PipelineConfig{
			WindowSize:       3000,
			Overlap:          200,
			EmbedConcurrency: 1,
			ExtractTimeout:   Duration(2 * time.Minute),
			EmbedTimeout:     Duration(30 * time.Second),
		},
		Jobs: JobsConfig{
			TTL: Duration(30 * time.Minute),
		},
		Worker: WorkerConfig{
			RetryInterval:    Duration(5 * time.Minute),
			RetryMaxAttempts: 10,
			RetryBatchSize:   50,
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			UseSSL: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("DISTILL_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	setDuration("DISTILL_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	setDuration("DISTILL_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	setDuration("DISTILL_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("DISTILL_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// LLM
	if v := os.Getenv("DISTILL_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("DISTILL_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("DISTILL_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}

	// Embedding and LLM share the OpenAI key (industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("DISTILL_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("DISTILL_LOCAL_EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.LocalModel = v
	}
	if v := os.Getenv("DISTILL_LOCAL_EMBEDDING_HOST"); v != "" {
		cfg.Embedding.LocalHost = v
	}

	// Auth
	if v := os.Getenv("DISTILL_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Pipeline
	setInt("DISTILL_WINDOW_SIZE", &cfg.Pipeline.WindowSize)
	setInt("DISTILL_OVERLAP", &cfg.Pipeline.Overlap)
	setInt("DISTILL_EMBED_CONCURRENCY", &cfg.Pipeline.EmbedConcurrency)
	setDuration("DISTILL_EXTRACT_TIMEOUT", &cfg.Pipeline.ExtractTimeout)
	setDuration("DISTILL_EMBED_TIMEOUT", &cfg.Pipeline.EmbedTimeout)

	// Jobs
	setDuration("DISTILL_JOB_TTL", &cfg.Jobs.TTL)

	// Worker
	setDuration("DISTILL_RETRY_INTERVAL", &cfg.Worker.RetryInterval)
	setInt("DISTILL_RETRY_MAX_ATTEMPTS", &cfg.Worker.RetryMaxAttempts)
	setInt("DISTILL_RETRY_BATCH_SIZE", &cfg.Worker.RetryBatchSize)

	// Archive
	if v := os.Getenv("DISTILL_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("DISTILL_S3_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("DISTILL_S3_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("DISTILL_S3_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("DISTILL_S3_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("DISTILL_S3_USE_SSL"); v != "" {
		cfg.Archive.UseSSL = v == "true" || v == "1"
	}

	// Log
	if v := os.Getenv("DISTILL_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DISTILL_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("DISTILL_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that required configuration values are set and
// normalises llm.provider to lower case. In dev mode (DISTILL_DEV_MODE=true), secret validation is skipped.
func (c *Config) validate() error {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("llm.provider must be openai or ollama, got %q", c.LLM.Provider)
	}
	if c.Pipeline.WindowSize <= 0 {
		return errors.New("pipeline.window_size must be positive")
	}
	if c.Pipeline.Overlap < 0 || c.Pipeline.Overlap >= c.Pipeline.WindowSize {
		return errors.New("pipeline.overlap must be between 0 and window_size")
	}
	if c.Pipeline.EmbedConcurrency < 1 {
		return errors.New("pipeline.embed_concurrency must be at least 1")
	}
	if c.Jobs.TTL <= 0 {
		return errors.New("jobs.ttl must be positive")
	}
	if c.Worker.RetryInterval <= 0 {
		return errors.New("worker.retry_interval must be positive")
	}
	if c.Worker.RetryMaxAttempts < 1 {
		return errors.New("worker.retry_max_attempts must be at least 1")
	}
	if c.Worker.RetryBatchSize < 1 {
		return errors.New("worker.retry_batch_size must be at least 1")
	}

	if os.Getenv("DISTILL_DEV_MODE") == "true" {
		return nil
	}

	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if len(c.Auth.Owners()) == 0 {
		return errors.New("DISTILL_API_KEY or auth.api_keys is required")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
