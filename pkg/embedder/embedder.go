// Package embedder provides the embedding providers: openai, any
// OpenAI-compatible endpoint, ollama, and a deterministic local provider
// for offline runs and tests.
package embedder

import (
	"context"
	"fmt"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// Options carries the provider-independent embedding settings.
type Options struct {
	Provider    string
	Endpoint    string
	APIKey      string
	Model       string
	Dimensions  int
	MaxSeq      int
	BatchSize   int
	BatchTokens int
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxSeq <= 0 {
		out.MaxSeq = 8191
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 64
	}
	if out.BatchTokens <= 0 {
		out.BatchTokens = 100000
	}
	return out
}

// limits implements the size-reporting half of the provider interface.
type limits struct {
	model       string
	dims        int
	maxSeq      int
	batchSize   int
	batchTokens int
}

// newLimits applies the option defaults, so providers built through the
// exported constructors report the same limits as those built by New.
func newLimits(o Options) limits {
	o = o.withDefaults()
	return limits{
		model:       o.Model,
		dims:        o.Dimensions,
		maxSeq:      o.MaxSeq,
		batchSize:   o.BatchSize,
		batchTokens: o.BatchTokens,
	}
}

func (l limits) ModelName() string   { return l.model }
func (l limits) Dimensions() int     { return l.dims }
func (l limits) MaxSeqLength() int   { return l.maxSeq }
func (l limits) MaxBatchSize() int   { return l.batchSize }
func (l limits) MaxBatchTokens() int { return l.batchTokens }

// HealthChecker is implemented by providers that can probe their backend.
// The factory probes once at construction so credential and connectivity
// problems surface before any document is read.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// New builds the provider named by opts.Provider.
func New(opts Options) (domain.EmbeddingsProvider, error) {
	o := opts.withDefaults()
	switch o.Provider {
	case "openai":
		return NewOpenAI(o)
	case "compat":
		return NewCompat(o)
	case "ollama":
		return NewOllama(o)
	case "local":
		return NewLocal(o)
	}
	return nil, fmt.Errorf("unknown embeddings provider: %s", o.Provider)
}
