package embedder

import (
	"context"
	"fmt"

	ollama "github.com/liliang-cn/ollama-go"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// Ollama embeds through a local ollama server. The endpoint comes from
// the standard OLLAMA_HOST environment when unset in config.
type Ollama struct {
	limits
	client *ollama.Client
}

func NewOllama(opts Options) (*Ollama, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("ollama embedder requires a model")
	}
	client, err := ollama.NewClient()
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &Ollama{limits: newLimits(opts), client: client}, nil
}

func (e *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, "embedder.Ollama.Embed", text, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *Ollama) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return e.embed(ctx, "embedder.Ollama.EmbedBatch", texts, len(texts))
}

func (e *Ollama) embed(ctx context.Context, op string, input any, want int) ([][]float32, error) {
	resp, err := e.client.Embed(ctx, &ollama.EmbedRequest{
		Model: e.model,
		Input: input,
	})
	if err != nil {
		return nil, domain.E(domain.KindTransientNetwork, op, err)
	}
	if len(resp.Embeddings) != want {
		return nil, domain.Errorf(domain.KindEmbeddingShape, op,
			"got %d vectors for %d inputs", len(resp.Embeddings), want)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, raw := range resp.Embeddings {
		if len(raw) != e.dims {
			return nil, domain.Errorf(domain.KindEmbeddingShape, op,
				"vector %d has %d dimensions, expected %d", i, len(raw), e.dims)
		}
		vec := make([]float32, len(raw))
		for j, v := range raw {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

func (e *Ollama) Health(ctx context.Context) error {
	if _, err := e.client.Version(ctx); err != nil {
		return domain.E(domain.KindTransientNetwork, "embedder.Ollama.Health", err)
	}
	return nil
}
