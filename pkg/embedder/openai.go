package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// OpenAI embeds through the OpenAI embeddings API or any compatible
// endpoint.
type OpenAI struct {
	limits
	client openai.Client
	// requestDims asks text-embedding-3 models for shortened vectors;
	// zero means the model's native size.
	requestDims int
}

func NewOpenAI(opts Options) (*OpenAI, error) {
	if opts.Model == "" {
		return nil, fmt.Errorf("openai embedder requires a model")
	}
	if opts.APIKey == "" {
		return nil, domain.Errorf(domain.KindCredentialInvalid, "embedder.NewOpenAI",
			"openai embedder requires an api key")
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.Endpoint))
	}
	e := &OpenAI{
		limits: newLimits(opts),
		client: openai.NewClient(clientOpts...),
	}
	if supportsDimensionsParam(opts.Model) {
		e.requestDims = opts.Dimensions
	}
	return e, nil
}

// NewCompat targets a self-hosted OpenAI-compatible server; the endpoint
// is mandatory and the api key is whatever the server expects (possibly
// a placeholder).
func NewCompat(opts Options) (*OpenAI, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("compat embedder requires an endpoint")
	}
	if opts.APIKey == "" {
		opts.APIKey = "unused"
	}
	return NewOpenAI(opts)
}

func supportsDimensionsParam(model string) bool {
	switch model {
	case "text-embedding-3-small", "text-embedding-3-large":
		return true
	}
	return false
}

func (e *OpenAI) params(input openai.EmbeddingNewParamsInputUnion) openai.EmbeddingNewParams {
	p := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: input,
	}
	if e.requestDims > 0 {
		p.Dimensions = openai.Int(int64(e.requestDims))
	}
	return p
}

func (e *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	const op = "embedder.OpenAI.Embed"
	resp, err := e.client.Embeddings.New(ctx, e.params(openai.EmbeddingNewParamsInputUnion{
		OfString: openai.String(text),
	}))
	if err != nil {
		return nil, classify(op, err)
	}
	if len(resp.Data) == 0 {
		return nil, domain.Errorf(domain.KindEmbeddingShape, op, "no embedding data returned")
	}
	return e.checkVector(op, resp.Data[0].Embedding)
}

func (e *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	const op = "embedder.OpenAI.EmbedBatch"
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.Embeddings.New(ctx, e.params(openai.EmbeddingNewParamsInputUnion{
		OfArrayOfStrings: texts,
	}))
	if err != nil {
		return nil, classify(op, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, domain.Errorf(domain.KindEmbeddingShape, op,
			"got %d vectors for %d inputs", len(resp.Data), len(texts))
	}

	// The API reports each vector's input position; order by index rather
	// than trusting response order.
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) {
			return nil, domain.Errorf(domain.KindEmbeddingShape, op,
				"vector index %d out of range for %d inputs", d.Index, len(texts))
		}
		vec, err := e.checkVector(op, d.Embedding)
		if err != nil {
			return nil, err
		}
		out[d.Index] = vec
	}
	for i, v := range out {
		if v == nil {
			return nil, domain.Errorf(domain.KindEmbeddingShape, op, "missing vector for input %d", i)
		}
	}
	return out, nil
}

func (e *OpenAI) checkVector(op string, raw []float64) ([]float32, error) {
	if len(raw) != e.dims {
		return nil, domain.Errorf(domain.KindEmbeddingShape, op,
			"vector has %d dimensions, expected %d", len(raw), e.dims)
	}
	vec := make([]float32, len(raw))
	for i, v := range raw {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Health embeds a probe string, surfacing credential and connectivity
// problems at construction time.
func (e *OpenAI) Health(ctx context.Context) error {
	_, err := e.Embed(ctx, "ping")
	return err
}

func classify(op string, err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return domain.E(domain.KindRateLimited, op, err)
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return domain.E(domain.KindCredentialInvalid, op, err)
		case apierr.StatusCode >= 500:
			return domain.E(domain.KindTransientNetwork, op, err)
		}
		return domain.E(domain.KindEmbeddingShape, op, err)
	}
	return domain.E(domain.KindTransientNetwork, op, err)
}
