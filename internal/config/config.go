// Package config holds the immutable runtime configuration. The struct is
// built once at startup (file + environment overrides) and passed into
// constructors; nothing reads the environment after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	RAG       RAGConfig       `yaml:"rag"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Cache     CacheConfig     `yaml:"cache"`
	Object    ObjectConfig    `yaml:"object_store"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// StorageConfig configures the SQLite-backed stores.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig configures the embedding gateway.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // genai or ollama
	Model          string `yaml:"model"`
	Dim            int    `yaml:"dim"`
	APIKey         string `yaml:"api_key"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	MaxInFlight    int    `yaml:"max_in_flight"`
}

// LLMConfig configures language model access. QAModel answers user-facing
// questions; ReasoningModel handles triage and structured decisions.
type LLMConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	QAModel        string `yaml:"qa_model"`
	ReasoningModel string `yaml:"reasoning_model"`
	VisionModel    string `yaml:"vision_model"`
	Timeout        string `yaml:"timeout"`
	MaxInFlight    int    `yaml:"max_in_flight"`
}

// RAGConfig holds retrieval defaults.
type RAGConfig struct {
	Collection          string  `yaml:"collection"`
	TopK                int     `yaml:"top_k"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	ContextCharBudget   int     `yaml:"context_char_budget"`
	Deduplicate         bool    `yaml:"deduplicate"`
}

// ChunkingConfig holds chunker defaults.
type ChunkingConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	Strategy     string `yaml:"strategy"`
	MinChunkSize int    `yaml:"min_chunk_size"`
}

// CacheConfig configures the embedding cache.
type CacheConfig struct {
	RedisAddr     string `yaml:"redis_addr"` // empty = in-memory cache
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
}

// ObjectConfig configures the artifact object store.
type ObjectConfig struct {
	Endpoint          string `yaml:"endpoint"` // empty = in-memory store
	Region            string `yaml:"region"`
	Bucket            string `yaml:"bucket"`
	AccessKey         string `yaml:"access_key"`
	SecretKey         string `yaml:"secret_key"`
	PresignTTLSeconds int    `yaml:"presign_ttl_seconds"`
}

// MonitorConfig configures the periodic crawl scheduler.
type MonitorConfig struct {
	IntervalHours    int    `yaml:"interval_hours"`
	MaxConcurrent    int    `yaml:"max_concurrent"`
	CrawlTimeout     string `yaml:"crawl_timeout"`
	TargetsFile      string `yaml:"targets_file"`
	RenderWithChrome bool   `yaml:"render_with_chrome"`
}

// ToolsConfig configures tool execution.
type ToolsConfig struct {
	TimeoutMs int `yaml:"timeout_ms"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "uniassist",
		Version: "1.0.0",
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
		Storage: StorageConfig{
			DatabasePath: "data/uniassist.db",
		},
		Embedding: EmbeddingConfig{
			Provider:       "genai",
			Model:          "gemini-embedding-001",
			Dim:            768,
			OllamaEndpoint: "http://localhost:11434",
			MaxInFlight:    8,
		},
		LLM: LLMConfig{
			BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
			QAModel:        "gemini-2.5-flash",
			ReasoningModel: "gemini-2.5-pro",
			VisionModel:    "gemini-2.5-flash",
			Timeout:        "120s",
			MaxInFlight:    8,
		},
		RAG: RAGConfig{
			Collection:          "default",
			TopK:                5,
			SimilarityThreshold: 0.0,
			ContextCharBudget:   12000,
			Deduplicate:         true,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    512,
			ChunkOverlap: 50,
			Strategy:     "recursive",
			MinChunkSize: 20,
		},
		Cache: CacheConfig{
			TTLSeconds: 86400,
		},
		Object: ObjectConfig{
			Region:            "us-east-1",
			Bucket:            "data",
			PresignTTLSeconds: 3600,
		},
		Monitor: MonitorConfig{
			IntervalHours: 6,
			MaxConcurrent: 4,
			CrawlTimeout:  "60s",
			TargetsFile:   "monitor_targets.yaml",
		},
		Tools: ToolsConfig{
			TimeoutMs: 15000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the config file (when path is non-empty), overlays it on the
// defaults, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps recognized environment variables onto the config.
func (c *Config) applyEnvOverrides() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(dst *float64, key string) {
		if v := os.Getenv(key); v != "" {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}

	setStr(&c.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&c.Embedding.Dim, "EMBEDDING_DIM")
	setStr(&c.Embedding.APIKey, "GEMINI_API_KEY")
	setStr(&c.LLM.APIKey, "GEMINI_API_KEY")
	setStr(&c.LLM.QAModel, "LLM_QA_MODEL")
	setStr(&c.LLM.ReasoningModel, "LLM_REASONING_MODEL")
	setInt(&c.RAG.TopK, "RAG_TOP_K")
	setFloat(&c.RAG.SimilarityThreshold, "RAG_SIMILARITY_THRESHOLD")
	setInt(&c.Chunking.ChunkSize, "CHUNK_SIZE")
	setInt(&c.Chunking.ChunkOverlap, "CHUNK_OVERLAP")
	setInt(&c.Monitor.IntervalHours, "MONITOR_INTERVAL_HOURS")
	setInt(&c.Cache.TTLSeconds, "CACHE_TTL_SECONDS")
	setInt(&c.Tools.TimeoutMs, "TOOL_TIMEOUT_MS")
	setStr(&c.Cache.RedisAddr, "REDIS_ADDR")
	setStr(&c.Storage.DatabasePath, "DATABASE_PATH")
	setStr(&c.Object.Endpoint, "S3_ENDPOINT")
	setStr(&c.Object.Bucket, "S3_BUCKET")
	setStr(&c.Object.AccessKey, "S3_ACCESS_KEY")
	setStr(&c.Object.SecretKey, "S3_SECRET_KEY")
}

// Validate rejects configurations the rest of the system cannot honor.
func (c *Config) Validate() error {
	if c.Embedding.Dim < 256 {
		return fmt.Errorf("embedding dim %d below minimum 256", c.Embedding.Dim)
	}
	if c.Chunking.ChunkSize < 100 || c.Chunking.ChunkSize > 4000 {
		return fmt.Errorf("chunk_size %d outside [100,4000]", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunk_overlap %d must be < chunk_size %d", c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.RAG.TopK < 1 || c.RAG.TopK > 20 {
		return fmt.Errorf("top_k %d outside [1,20]", c.RAG.TopK)
	}
	if c.Monitor.IntervalHours < 1 {
		return fmt.Errorf("monitor interval_hours %d must be >= 1", c.Monitor.IntervalHours)
	}
	return nil
}

// LLMTimeout parses the configured LLM timeout, defaulting to 120s.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// CrawlTimeout parses the monitor crawl timeout, defaulting to 60s.
func (c *Config) CrawlTimeout() time.Duration {
	d, err := time.ParseDuration(c.Monitor.CrawlTimeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// ToolTimeout returns the per-tool execution deadline.
func (c *Config) ToolTimeout() time.Duration {
	if c.Tools.TimeoutMs <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Tools.TimeoutMs) * time.Millisecond
}

// CacheTTL returns the embedding cache TTL.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// PresignTTL returns the artifact download URL lifetime.
func (c *Config) PresignTTL() time.Duration {
	if c.Object.PresignTTLSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(c.Object.PresignTTLSeconds) * time.Second
}
