// Package media fills in figure descriptions. The vision describer calls
// an OpenAI-compatible multimodal model; the disabled describer leaves
// figures untouched so chunking degrades to captions only.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/shared"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/log"
)

const systemPrompt = "You describe figures from documents for a search index. " +
	"Describe the figure's content and any data it conveys in two or three " +
	"factual sentences. Do not speculate beyond what is visible."

// contextChars bounds how much surrounding page text rides along as
// grounding for the description.
const contextChars = 600

// Vision describes figures with a multimodal chat model. Calls are made
// one figure at a time; the orchestrator serializes documents through the
// vision semaphore.
type Vision struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

func NewVision(model, baseURL, apiKey string) (*Vision, error) {
	if model == "" {
		return nil, fmt.Errorf("vision describer requires a model")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Vision{
		client: openai.NewClient(opts...),
		model:  model,
		logger: log.WithComponent("media"),
	}, nil
}

func (v *Vision) Describe(ctx context.Context, images []*domain.ExtractedImage, pageText string) error {
	snippet := pageText
	if len(snippet) > contextChars {
		snippet = snippet[:contextChars]
	}

	for _, img := range images {
		if img.Description != "" {
			continue
		}
		url := imageURL(img)
		if url == "" {
			continue
		}

		prompt := "Describe this figure."
		if img.Caption != "" {
			prompt = fmt.Sprintf("Describe this figure. Its caption reads: %q.", img.Caption)
		}
		if snippet != "" {
			prompt += "\n\nSurrounding page text:\n" + snippet
		}

		parts := []openai.ChatCompletionContentPartUnionParam{
			openai.TextContentPart(prompt),
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
		}
		completion, err := v.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: shared.ChatModel(v.model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(systemPrompt),
				openai.UserMessage(parts),
			},
		})
		if err != nil {
			return classify("media.Vision.Describe", err)
		}
		if len(completion.Choices) == 0 {
			return domain.Errorf(domain.KindTransientNetwork, "media.Vision.Describe",
				"no choices for figure %s", img.FigureID)
		}
		img.Description = strings.TrimSpace(completion.Choices[0].Message.Content)
		v.logger.Debug("figure described", "figure_id", img.FigureID, "chars", len(img.Description))
	}
	return nil
}

func imageURL(img *domain.ExtractedImage) string {
	if len(img.ImageBytes) > 0 {
		return "data:image/png;base64," + base64.StdEncoding.EncodeToString(img.ImageBytes)
	}
	return img.FigureURL
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
		return domain.E(domain.KindExtractionFailed, op, err)
	}
	// Connection-level failures have no API error payload.
	return domain.E(domain.KindTransientNetwork, op, err)
}

// Disabled leaves descriptions empty. Figures then contribute only their
// captions to chunk text.
type Disabled struct{}

func (Disabled) Describe(ctx context.Context, images []*domain.ExtractedImage, pageText string) error {
	return nil
}
