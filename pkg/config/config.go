// Package config loads and validates the pipeline configuration from a
// config file (yaml/toml via viper) and INGESTOBOT_* environment
// variables. All collaborators are constructed from the validated Config
// up front; nothing reads configuration lazily.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Document action modes.
const (
	ActionAdd       = "add"
	ActionRemove    = "remove"
	ActionRemoveAll = "remove_all"
)

// Storage modes for input and artifacts.
const (
	ModeLocal       = "local"
	ModeObjectStore = "object-store"
)

type Config struct {
	Input       InputConfig       `mapstructure:"input" json:"input"`
	Artifacts   ArtifactsConfig   `mapstructure:"artifacts" json:"artifacts"`
	Extraction  ExtractionConfig  `mapstructure:"extraction" json:"extraction"`
	Media       MediaConfig       `mapstructure:"media" json:"media"`
	Table       TableConfig       `mapstructure:"table" json:"table"`
	Chunking    ChunkingConfig    `mapstructure:"chunking" json:"chunking"`
	Embeddings  EmbeddingsConfig  `mapstructure:"embeddings" json:"embeddings"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store" json:"vector_store"`
	Action      ActionConfig      `mapstructure:"action" json:"action"`
	Performance PerformanceConfig `mapstructure:"performance" json:"performance"`
}

type InputConfig struct {
	Mode   string `mapstructure:"mode" json:"mode"`
	Glob   string `mapstructure:"glob" json:"glob,omitempty"`
	Bucket string `mapstructure:"bucket" json:"bucket,omitempty"`
	Prefix string `mapstructure:"prefix" json:"prefix,omitempty"`
	Filter string `mapstructure:"filter" json:"filter,omitempty"`
	Region string `mapstructure:"region" json:"region,omitempty"`
	// Endpoint overrides the S3 endpoint (self-hosted object stores).
	Endpoint string `mapstructure:"endpoint" json:"endpoint,omitempty"`
}

type ArtifactsConfig struct {
	// Mode defaults to the input mode; an explicit value wins.
	Mode     string `mapstructure:"mode" json:"mode"`
	Dir      string `mapstructure:"dir" json:"dir,omitempty"`
	Bucket   string `mapstructure:"bucket" json:"bucket,omitempty"`
	Prefix   string `mapstructure:"prefix" json:"prefix,omitempty"`
	Region   string `mapstructure:"region" json:"region,omitempty"`
	Endpoint string `mapstructure:"endpoint" json:"endpoint,omitempty"`
}

type ExtractionConfig struct {
	// Mode selects the extractor set: text, markitdown, pdf, hybrid.
	Mode                 string `mapstructure:"mode" json:"mode"`
	MaxPageConcurrency   int    `mapstructure:"max_page_concurrency" json:"max_page_concurrency"`
	PartialPageTolerance bool   `mapstructure:"partial_page_tolerance" json:"partial_page_tolerance"`
}

type MediaConfig struct {
	Mode    string `mapstructure:"mode" json:"mode"` // vision | disabled
	Model   string `mapstructure:"model" json:"model,omitempty"`
	BaseURL string `mapstructure:"base_url" json:"base_url,omitempty"`
	APIKey  string `mapstructure:"api_key" json:"-"`
}

type TableConfig struct {
	Render string `mapstructure:"render" json:"render"` // plain | markdown | html
}

type ChunkingConfig struct {
	TargetTokens      int  `mapstructure:"target_tokens" json:"target_tokens"`
	OverlapPercent    int  `mapstructure:"overlap_percent" json:"overlap_percent"`
	CrossPageOverlap  bool `mapstructure:"cross_page_overlap" json:"cross_page_overlap"`
	MaxChars          int  `mapstructure:"max_chars" json:"max_chars"`
	AbsoluteMaxTokens int  `mapstructure:"absolute_max_tokens" json:"absolute_max_tokens,omitempty"`
}

type EmbeddingsConfig struct {
	Provider       string `mapstructure:"provider" json:"provider"` // openai | compat | ollama | local
	Endpoint       string `mapstructure:"endpoint" json:"endpoint,omitempty"`
	APIKey         string `mapstructure:"api_key" json:"-"`
	Model          string `mapstructure:"model" json:"model"`
	Dimensions     int    `mapstructure:"dimensions" json:"dimensions"`
	MaxSeqLength   int    `mapstructure:"max_seq_length" json:"max_seq_length"`
	BatchSize      int    `mapstructure:"batch_size" json:"batch_size"`
	BatchTokens    int    `mapstructure:"batch_tokens" json:"batch_tokens"`
	Integrated     bool   `mapstructure:"integrated_vectorization" json:"integrated_vectorization"`
	MaxConcurrency int    `mapstructure:"max_concurrency" json:"max_concurrency"`
}

type VectorStoreConfig struct {
	Provider        string `mapstructure:"provider" json:"provider"` // qdrant | sqlite
	URL             string `mapstructure:"url" json:"url,omitempty"`
	Collection      string `mapstructure:"collection" json:"collection,omitempty"`
	DBPath          string `mapstructure:"db_path" json:"db_path,omitempty"`
	Dimensions      int    `mapstructure:"dimensions" json:"dimensions"`
	UploadBatchSize int    `mapstructure:"upload_batch_size" json:"upload_batch_size"`
}

type ActionConfig struct {
	DocumentAction   string `mapstructure:"document_action" json:"document_action"`
	CleanupArtifacts bool   `mapstructure:"cleanup_artifacts" json:"cleanup_artifacts"`
}

type PerformanceConfig struct {
	MaxWorkers int `mapstructure:"max_workers" json:"max_workers"`
}

// Load reads the config file at path (or ./ingestobot.yaml when empty),
// applies defaults and environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("ingestobot")
		v.AddConfigPath(".")
	}

	setDefaults(v)
	v.SetEnvPrefix("INGESTOBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// No config file is fine; defaults plus env apply.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDerived()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input.mode", ModeLocal)
	v.SetDefault("input.glob", "./data/*")

	v.SetDefault("artifacts.dir", "./artifacts")

	v.SetDefault("extraction.mode", "hybrid")
	v.SetDefault("extraction.max_page_concurrency", 10)
	v.SetDefault("extraction.partial_page_tolerance", true)

	v.SetDefault("media.mode", "disabled")

	v.SetDefault("table.render", "markdown")

	v.SetDefault("chunking.target_tokens", 500)
	v.SetDefault("chunking.overlap_percent", 10)
	v.SetDefault("chunking.cross_page_overlap", true)
	v.SetDefault("chunking.max_chars", 2000)

	v.SetDefault("embeddings.provider", "local")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.dimensions", 768)
	v.SetDefault("embeddings.max_seq_length", 8191)
	v.SetDefault("embeddings.batch_size", 64)
	v.SetDefault("embeddings.batch_tokens", 100000)
	v.SetDefault("embeddings.max_concurrency", 10)

	v.SetDefault("vector_store.provider", "sqlite")
	v.SetDefault("vector_store.collection", "documents")
	v.SetDefault("vector_store.db_path", "./data/index.db")
	v.SetDefault("vector_store.upload_batch_size", 1000)

	v.SetDefault("action.document_action", ActionAdd)
	v.SetDefault("action.cleanup_artifacts", false)

	v.SetDefault("performance.max_workers", 3)
}

// applyDerived fills fields whose defaults depend on other fields.
func (c *Config) applyDerived() {
	if c.Artifacts.Mode == "" {
		c.Artifacts.Mode = c.Input.Mode
	}
	if c.VectorStore.Dimensions == 0 {
		c.VectorStore.Dimensions = c.Embeddings.Dimensions
	}
	if c.Artifacts.Region == "" {
		c.Artifacts.Region = c.Input.Region
	}
	if c.Artifacts.Endpoint == "" {
		c.Artifacts.Endpoint = c.Input.Endpoint
	}
}

func (c *Config) Validate() error {
	switch c.Input.Mode {
	case ModeLocal:
		if c.Input.Glob == "" {
			return fmt.Errorf("input.glob cannot be empty in local mode")
		}
	case ModeObjectStore:
		if c.Input.Bucket == "" {
			return fmt.Errorf("input.bucket cannot be empty in object-store mode")
		}
	default:
		return fmt.Errorf("invalid input.mode: %s", c.Input.Mode)
	}

	switch c.Artifacts.Mode {
	case ModeLocal:
		if c.Artifacts.Dir == "" {
			return fmt.Errorf("artifacts.dir cannot be empty in local mode")
		}
	case ModeObjectStore:
		if c.Artifacts.Bucket == "" {
			return fmt.Errorf("artifacts.bucket cannot be empty in object-store mode")
		}
	default:
		return fmt.Errorf("invalid artifacts.mode: %s", c.Artifacts.Mode)
	}

	validExtraction := map[string]bool{"text": true, "pdf": true, "markitdown": true, "hybrid": true}
	if !validExtraction[c.Extraction.Mode] {
		return fmt.Errorf("invalid extraction.mode: %s", c.Extraction.Mode)
	}
	if c.Extraction.MaxPageConcurrency <= 0 {
		return fmt.Errorf("extraction.max_page_concurrency must be positive: %d", c.Extraction.MaxPageConcurrency)
	}

	if c.Media.Mode != "vision" && c.Media.Mode != "disabled" {
		return fmt.Errorf("invalid media.mode: %s", c.Media.Mode)
	}
	if c.Media.Mode == "vision" && c.Media.Model == "" {
		return fmt.Errorf("media.model cannot be empty in vision mode")
	}

	validRender := map[string]bool{"plain": true, "markdown": true, "html": true}
	if !validRender[c.Table.Render] {
		return fmt.Errorf("invalid table.render: %s", c.Table.Render)
	}

	if c.Chunking.TargetTokens <= 0 {
		return fmt.Errorf("chunking.target_tokens must be positive: %d", c.Chunking.TargetTokens)
	}
	if c.Chunking.OverlapPercent < 0 || c.Chunking.OverlapPercent >= 50 {
		return fmt.Errorf("chunking.overlap_percent must be in [0, 50): %d", c.Chunking.OverlapPercent)
	}
	if c.Chunking.MaxChars <= 0 {
		return fmt.Errorf("chunking.max_chars must be positive: %d", c.Chunking.MaxChars)
	}

	validEmbed := map[string]bool{"openai": true, "compat": true, "ollama": true, "local": true}
	if !validEmbed[c.Embeddings.Provider] {
		return fmt.Errorf("invalid embeddings.provider: %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive: %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.MaxConcurrency <= 0 {
		return fmt.Errorf("embeddings.max_concurrency must be positive: %d", c.Embeddings.MaxConcurrency)
	}

	switch c.VectorStore.Provider {
	case "qdrant":
		if c.VectorStore.URL == "" {
			return fmt.Errorf("vector_store.url cannot be empty for qdrant")
		}
		if c.Embeddings.Integrated {
			return fmt.Errorf("integrated vectorization is not supported by the qdrant store")
		}
	case "sqlite":
		if c.VectorStore.DBPath == "" {
			return fmt.Errorf("vector_store.db_path cannot be empty for sqlite")
		}
	default:
		return fmt.Errorf("invalid vector_store.provider: %s", c.VectorStore.Provider)
	}
	if c.VectorStore.UploadBatchSize <= 0 || c.VectorStore.UploadBatchSize > 1000 {
		return fmt.Errorf("vector_store.upload_batch_size must be in (0, 1000]: %d", c.VectorStore.UploadBatchSize)
	}

	validActions := map[string]bool{ActionAdd: true, ActionRemove: true, ActionRemoveAll: true}
	if !validActions[c.Action.DocumentAction] {
		return fmt.Errorf("invalid action.document_action: %s", c.Action.DocumentAction)
	}

	if c.Performance.MaxWorkers <= 0 {
		return fmt.Errorf("performance.max_workers must be positive: %d", c.Performance.MaxWorkers)
	}

	return nil
}

// Fingerprint is a stable digest of the effective configuration, recorded
// on every run summary. Secret fields are excluded via their json tags.
func (c *Config) Fingerprint() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
