// Package config defines the service configuration. Every section follows
// the same contract: SetDefaults fills zero values, Validate reports
// actionable errors for required fields.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath is consulted when no explicit config path is given.
const EnvConfigPath = "OPENVIKING_CONFIG"

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
	VLM       VLMConfig       `yaml:"vlm" json:"vlm"`
	Queue     QueueConfig     `yaml:"queue" json:"queue"`
	Memory    MemoryConfig    `yaml:"memory" json:"memory"`

	LogLevel         string `yaml:"log_level" json:"log_level"`
	LogOutput        string `yaml:"log_output" json:"log_output"`
	LogFormat        string `yaml:"log_format" json:"log_format"`
	LanguageFallback string `yaml:"language_fallback" json:"language_fallback"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host        string        `yaml:"host" json:"host"`
	Port        int           `yaml:"port" json:"port"`
	APIKey      string        `yaml:"api_key" json:"api_key"`
	CORSOrigins []string      `yaml:"cors_origins" json:"cors_origins"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 1933
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"*"}
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
}

func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Port)
	}
	return nil
}

// StorageConfig configures the backing object store and the vector database.
type StorageConfig struct {
	// Root is the base directory of the local backend.
	Root     string         `yaml:"root" json:"root"`
	VectorDB VectorDBConfig `yaml:"vectordb" json:"vectordb"`
}

func (c *StorageConfig) SetDefaults() {
	if c.Root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Root = filepath.Join(home, ".openviking", "data")
		} else {
			c.Root = ".openviking/data"
		}
	}
	c.VectorDB.SetDefaults()
}

func (c *StorageConfig) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	return c.VectorDB.Validate()
}

// VectorDBConfig selects and configures the vector collection provider.
type VectorDBConfig struct {
	// Provider is one of "memory", "chromem", "qdrant".
	Provider   string `yaml:"provider" json:"provider"`
	Collection string `yaml:"collection" json:"collection"`
	// Path is the persistence directory for the chromem provider.
	Path   string `yaml:"path" json:"path"`
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	APIKey string `yaml:"api_key" json:"api_key"`
	UseTLS bool   `yaml:"use_tls" json:"use_tls"`
}

func (c *VectorDBConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "chromem"
	}
	if c.Collection == "" {
		c.Collection = "context"
	}
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 && c.Provider == "qdrant" {
		c.Port = 6334
	}
}

func (c *VectorDBConfig) Validate() error {
	switch c.Provider {
	case "memory", "chromem", "qdrant":
	default:
		return fmt.Errorf("storage.vectordb.provider must be memory, chromem, or qdrant, got %q", c.Provider)
	}
	if c.Collection == "" {
		return fmt.Errorf("storage.vectordb.collection is required")
	}
	return nil
}

// EmbeddingConfig configures the embedder provider.
type EmbeddingConfig struct {
	// Provider is one of "openai", "mock".
	Provider  string        `yaml:"provider" json:"provider"`
	Model     string        `yaml:"model" json:"model"`
	Dimension int           `yaml:"dimension" json:"dimension"`
	APIKey    string        `yaml:"api_key" json:"api_key"`
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	BatchSize int           `yaml:"batch_size" json:"batch_size"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

func (c *EmbeddingConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Dimension == 0 {
		switch c.Model {
		case "text-embedding-3-large":
			c.Dimension = 3072
		default:
			c.Dimension = 1536
		}
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

func (c *EmbeddingConfig) Validate() error {
	switch c.Provider {
	case "openai":
		if c.APIKey == "" {
			return fmt.Errorf("embedding.api_key is required for the openai provider (set OPENAI_API_KEY and reference it as \"${OPENAI_API_KEY}\")")
		}
	case "mock":
	default:
		return fmt.Errorf("embedding.provider must be openai or mock, got %q", c.Provider)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive, got %d", c.Dimension)
	}
	return nil
}

// VLMConfig configures the language-completion provider.
type VLMConfig struct {
	// Provider is one of "openai", "mock".
	Provider    string        `yaml:"provider" json:"provider"`
	Model       string        `yaml:"model" json:"model"`
	APIKey      string        `yaml:"api_key" json:"api_key"`
	BaseURL     string        `yaml:"base_url" json:"base_url"`
	MaxTokens   int           `yaml:"max_tokens" json:"max_tokens"`
	Temperature float64       `yaml:"temperature" json:"temperature"`
	Timeout     time.Duration `yaml:"timeout" json:"timeout"`
}

func (c *VLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 2048
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
}

func (c *VLMConfig) Validate() error {
	switch c.Provider {
	case "openai":
		if c.APIKey == "" {
			return fmt.Errorf("vlm.api_key is required for the openai provider")
		}
	case "mock":
	default:
		return fmt.Errorf("vlm.provider must be openai or mock, got %q", c.Provider)
	}
	return nil
}

// QueueConfig configures the two processing queues.
type QueueConfig struct {
	Capacity         int `yaml:"capacity" json:"capacity"`
	EmbeddingWorkers int `yaml:"embedding_workers" json:"embedding_workers"`
	SemanticWorkers  int `yaml:"semantic_workers" json:"semantic_workers"`
	MaxAttempts      int `yaml:"max_attempts" json:"max_attempts"`
	MaxErrors        int `yaml:"max_errors" json:"max_errors"`
}

func (c *QueueConfig) SetDefaults() {
	if c.Capacity == 0 {
		c.Capacity = 10000
	}
	if c.EmbeddingWorkers == 0 {
		c.EmbeddingWorkers = 4
	}
	if c.SemanticWorkers == 0 {
		c.SemanticWorkers = 2
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.MaxErrors == 0 {
		c.MaxErrors = 100
	}
}

func (c *QueueConfig) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("queue.capacity must be positive, got %d", c.Capacity)
	}
	if c.EmbeddingWorkers < 1 || c.SemanticWorkers < 1 {
		return fmt.Errorf("queue worker counts must be positive")
	}
	return nil
}

// MemoryConfig tunes long-term memory extraction.
type MemoryConfig struct {
	// DedupThreshold is the cosine similarity above which a candidate is
	// considered a duplicate of an existing memory.
	DedupThreshold float64 `yaml:"dedup_threshold" json:"dedup_threshold"`
	// MinConfidence drops extraction candidates below this confidence.
	MinConfidence float64 `yaml:"min_confidence" json:"min_confidence"`
}

func (c *MemoryConfig) SetDefaults() {
	if c.DedupThreshold == 0 {
		c.DedupThreshold = 0.90
	}
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.5
	}
}

func (c *MemoryConfig) Validate() error {
	if c.DedupThreshold < 0 || c.DedupThreshold > 1 {
		return fmt.Errorf("memory.dedup_threshold must be in [0,1], got %v", c.DedupThreshold)
	}
	return nil
}

// SetDefaults fills defaults on every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.Storage.SetDefaults()
	c.Embedding.SetDefaults()
	c.VLM.SetDefaults()
	c.Queue.SetDefaults()
	c.Memory.SetDefaults()
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "simple"
	}
	if c.LanguageFallback == "" {
		c.LanguageFallback = "en"
	}
}

// Validate validates every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}
	if err := c.Embedding.Validate(); err != nil {
		return err
	}
	if err := c.VLM.Validate(); err != nil {
		return err
	}
	if err := c.Queue.Validate(); err != nil {
		return err
	}
	return c.Memory.Validate()
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// ResolvePath picks the config file location: the explicit path if given,
// then $OPENVIKING_CONFIG, then ~/.openviking/config.yaml.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".openviking", "config.yaml")
}

// Load reads, expands, defaults, and validates a config file. YAML and JSON
// documents are both accepted. A missing file yields the defaults, provided
// they validate.
func Load(path string) (*Config, error) {
	// Best effort: pick up a .env so ${VAR} expansion sees it.
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.Expand(string(data), func(key string) string {
			if v, ok := os.LookupEnv(key); ok {
				return v
			}
			// Leave unknown references intact so validation can name them.
			return "${" + key + "}"
		})
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults only.
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
