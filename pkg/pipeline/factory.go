package pipeline

import (
	"context"
	"fmt"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/artifact"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/chunker"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/config"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/embedder"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/extractor"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/media"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/source"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/table"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/token"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/vectorstore"
)

// New builds a fully wired orchestrator from validated configuration.
// Every collaborator is constructed and probed up front; credential and
// connectivity errors surface here, before any document is read.
func New(ctx context.Context, cfg *config.Config) (*Orchestrator, error) {
	counter, err := buildCounter(cfg)
	if err != nil {
		return nil, err
	}

	emb, err := embedder.New(embedder.Options{
		Provider:    cfg.Embeddings.Provider,
		Endpoint:    cfg.Embeddings.Endpoint,
		APIKey:      cfg.Embeddings.APIKey,
		Model:       cfg.Embeddings.Model,
		Dimensions:  cfg.Embeddings.Dimensions,
		MaxSeq:      cfg.Embeddings.MaxSeqLength,
		BatchSize:   cfg.Embeddings.BatchSize,
		BatchTokens: cfg.Embeddings.BatchTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("build embedder: %w", err)
	}
	if hc, ok := emb.(embedder.HealthChecker); ok {
		if err := hc.Health(ctx); err != nil {
			return nil, fmt.Errorf("embedder health probe: %w", err)
		}
	}

	if cfg.VectorStore.Dimensions != emb.Dimensions() {
		return nil, domain.Errorf(domain.KindDimensionMismatch, "pipeline.New",
			"vector store expects %d dimensions, embedder produces %d",
			cfg.VectorStore.Dimensions, emb.Dimensions())
	}

	store, err := buildStore(ctx, cfg, emb)
	if err != nil {
		return nil, err
	}

	src, err := buildSource(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	artifacts, err := buildArtifacts(ctx, cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	renderer, err := table.NewRenderer(cfg.Table.Render)
	if err != nil {
		store.Close()
		return nil, err
	}

	describer, err := buildDescriber(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	registry, err := extractor.RegistryForMode(cfg.Extraction.Mode)
	if err != nil {
		store.Close()
		return nil, err
	}

	ch, err := chunker.New(counter, chunker.Options{
		TargetTokens:      cfg.Chunking.TargetTokens,
		OverlapPercent:    cfg.Chunking.OverlapPercent,
		MaxChars:          cfg.Chunking.MaxChars,
		CrossPageOverlap:  cfg.Chunking.CrossPageOverlap,
		MaxSeqLength:      emb.MaxSeqLength(),
		AbsoluteMaxTokens: cfg.Chunking.AbsoluteMaxTokens,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build chunker: %w", err)
	}

	return NewOrchestrator(cfg, Deps{
		Source:    src,
		Artifacts: artifacts,
		Registry:  registry,
		Renderer:  renderer,
		Describer: describer,
		Embedder:  emb,
		Store:     store,
		Counter:   counter,
		Chunker:   ch,
	}), nil
}

// buildCounter picks the token counter. Remote providers count with the
// model's real encoder; the local provider has no encoder, so a rune
// heuristic stands in.
func buildCounter(cfg *config.Config) (domain.TokenCounter, error) {
	if cfg.Embeddings.Provider == "local" {
		return token.NewHeuristicCounter(), nil
	}
	counter, err := token.NewCounter(cfg.Embeddings.Model)
	if err != nil {
		return nil, fmt.Errorf("build token counter: %w", err)
	}
	return counter, nil
}

func buildStore(ctx context.Context, cfg *config.Config, emb domain.EmbeddingsProvider) (domain.VectorStore, error) {
	switch cfg.VectorStore.Provider {
	case "qdrant":
		return vectorstore.NewQdrant(ctx, cfg.VectorStore.URL, cfg.VectorStore.Collection,
			cfg.VectorStore.Dimensions, cfg.VectorStore.UploadBatchSize)
	case "sqlite":
		var storeEmb domain.EmbeddingsProvider
		if cfg.Embeddings.Integrated {
			storeEmb = emb
		}
		return vectorstore.NewSQLite(cfg.VectorStore.DBPath, cfg.VectorStore.Dimensions, storeEmb)
	}
	return nil, fmt.Errorf("unknown vector store provider: %s", cfg.VectorStore.Provider)
}

func buildSource(ctx context.Context, cfg *config.Config) (domain.InputSource, error) {
	switch cfg.Input.Mode {
	case config.ModeLocal:
		return source.NewLocal(cfg.Input.Glob, cfg.Input.Filter)
	case config.ModeObjectStore:
		return source.NewS3(ctx, source.S3Options{
			Bucket:   cfg.Input.Bucket,
			Prefix:   cfg.Input.Prefix,
			Filter:   cfg.Input.Filter,
			Region:   cfg.Input.Region,
			Endpoint: cfg.Input.Endpoint,
		})
	}
	return nil, fmt.Errorf("unknown input mode: %s", cfg.Input.Mode)
}

func buildArtifacts(ctx context.Context, cfg *config.Config) (domain.ArtifactStore, error) {
	switch cfg.Artifacts.Mode {
	case config.ModeLocal:
		return artifact.NewLocal(cfg.Artifacts.Dir)
	case config.ModeObjectStore:
		return artifact.NewS3(ctx, cfg.Artifacts.Bucket, cfg.Artifacts.Prefix,
			cfg.Artifacts.Region, cfg.Artifacts.Endpoint)
	}
	return nil, fmt.Errorf("unknown artifacts mode: %s", cfg.Artifacts.Mode)
}

func buildDescriber(cfg *config.Config) (domain.MediaDescriber, error) {
	switch cfg.Media.Mode {
	case "vision":
		return media.NewVision(cfg.Media.Model, cfg.Media.BaseURL, cfg.Media.APIKey)
	case "disabled":
		return media.Disabled{}, nil
	}
	return nil, fmt.Errorf("unknown media mode: %s", cfg.Media.Mode)
}
