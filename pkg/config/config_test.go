package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{
		Input:      InputConfig{Mode: ModeLocal, Glob: "./data/*"},
		Artifacts:  ArtifactsConfig{Mode: ModeLocal, Dir: "./artifacts"},
		Extraction: ExtractionConfig{Mode: "hybrid", MaxPageConcurrency: 10, PartialPageTolerance: true},
		Media:      MediaConfig{Mode: "disabled"},
		Table:      TableConfig{Render: "markdown"},
		Chunking: ChunkingConfig{
			TargetTokens:   500,
			OverlapPercent: 10,
			MaxChars:       2000,
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "local",
			Model:          "text-embedding-3-small",
			Dimensions:     768,
			MaxConcurrency: 10,
		},
		VectorStore: VectorStoreConfig{
			Provider:        "sqlite",
			DBPath:          "./data/index.db",
			Dimensions:      768,
			UploadBatchSize: 1000,
		},
		Action:      ActionConfig{DocumentAction: ActionAdd},
		Performance: PerformanceConfig{MaxWorkers: 3},
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty glob in local mode", func(c *Config) { c.Input.Glob = "" }, "input.glob"},
		{"object-store input without bucket", func(c *Config) { c.Input.Mode = ModeObjectStore }, "input.bucket"},
		{"bad input mode", func(c *Config) { c.Input.Mode = "ftp" }, "input.mode"},
		{"artifacts without dir", func(c *Config) { c.Artifacts.Dir = "" }, "artifacts.dir"},
		{"bad extraction mode", func(c *Config) { c.Extraction.Mode = "ocr" }, "extraction.mode"},
		{"zero page concurrency", func(c *Config) { c.Extraction.MaxPageConcurrency = 0 }, "max_page_concurrency"},
		{"vision without model", func(c *Config) { c.Media.Mode = "vision" }, "media.model"},
		{"bad table render", func(c *Config) { c.Table.Render = "csv" }, "table.render"},
		{"zero target tokens", func(c *Config) { c.Chunking.TargetTokens = 0 }, "target_tokens"},
		{"overlap too large", func(c *Config) { c.Chunking.OverlapPercent = 50 }, "overlap_percent"},
		{"negative overlap", func(c *Config) { c.Chunking.OverlapPercent = -1 }, "overlap_percent"},
		{"bad embeddings provider", func(c *Config) { c.Embeddings.Provider = "cohere" }, "embeddings.provider"},
		{"zero embed concurrency", func(c *Config) { c.Embeddings.MaxConcurrency = 0 }, "max_concurrency"},
		{"qdrant without url", func(c *Config) {
			c.VectorStore.Provider = "qdrant"
			c.VectorStore.URL = ""
		}, "vector_store.url"},
		{"qdrant with integrated vectorization", func(c *Config) {
			c.VectorStore.Provider = "qdrant"
			c.VectorStore.URL = "http://localhost:6334"
			c.Embeddings.Integrated = true
		}, "integrated vectorization"},
		{"oversized upload batch", func(c *Config) { c.VectorStore.UploadBatchSize = 1001 }, "upload_batch_size"},
		{"bad document action", func(c *Config) { c.Action.DocumentAction = "reindex" }, "document_action"},
		{"zero workers", func(c *Config) { c.Performance.MaxWorkers = 0 }, "max_workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Input.Mode != ModeLocal {
		t.Errorf("input.mode = %q, want %q", cfg.Input.Mode, ModeLocal)
	}
	if cfg.Artifacts.Mode != ModeLocal {
		t.Errorf("artifacts.mode should inherit input.mode, got %q", cfg.Artifacts.Mode)
	}
	if cfg.Chunking.TargetTokens != 500 {
		t.Errorf("chunking.target_tokens = %d, want 500", cfg.Chunking.TargetTokens)
	}
	if cfg.VectorStore.Dimensions != cfg.Embeddings.Dimensions {
		t.Errorf("vector_store.dimensions should default to embeddings.dimensions, got %d vs %d",
			cfg.VectorStore.Dimensions, cfg.Embeddings.Dimensions)
	}
	if cfg.Action.DocumentAction != ActionAdd {
		t.Errorf("action.document_action = %q, want %q", cfg.Action.DocumentAction, ActionAdd)
	}
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ingestobot.yaml")
	body := `
input:
  mode: local
  glob: "./docs/*.pdf"
chunking:
  target_tokens: 256
  overlap_percent: 20
embeddings:
  provider: local
  dimensions: 384
action:
  document_action: remove
  cleanup_artifacts: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Input.Glob != "./docs/*.pdf" {
		t.Errorf("input.glob = %q", cfg.Input.Glob)
	}
	if cfg.Chunking.TargetTokens != 256 || cfg.Chunking.OverlapPercent != 20 {
		t.Errorf("chunking = %+v", cfg.Chunking)
	}
	if cfg.VectorStore.Dimensions != 384 {
		t.Errorf("vector_store.dimensions should follow embeddings.dimensions, got %d", cfg.VectorStore.Dimensions)
	}
	if cfg.Action.DocumentAction != ActionRemove || !cfg.Action.CleanupArtifacts {
		t.Errorf("action = %+v", cfg.Action)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load("/nonexistent/ingestobot.yaml"); err == nil {
		t.Fatal("Load() with a missing explicit path should fail")
	}
}

func TestFingerprint(t *testing.T) {
	a := validConfig()
	b := validConfig()
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("identical configs must fingerprint identically")
	}

	b.Chunking.TargetTokens = 400
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("different configs must fingerprint differently")
	}

	c := validConfig()
	c.Embeddings.APIKey = "sk-secret"
	if a.Fingerprint() != c.Fingerprint() {
		t.Error("secrets must not influence the fingerprint")
	}
}
