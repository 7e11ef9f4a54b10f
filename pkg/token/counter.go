// Package token provides model-aware token counting for the chunker and
// the embedding batcher, backed by tiktoken with a heuristic fallback.
package token

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const fallbackEncoding = "cl100k_base"

var (
	encMu    sync.Mutex
	encCache = map[string]*tiktoken.Tiktoken{}
)

// encodingFor resolves the encoder for a model, caching it process-wide.
// The on-disk BPE cache inside tiktoken is read-only after first load.
func encodingFor(model string) (*tiktoken.Tiktoken, error) {
	encMu.Lock()
	defer encMu.Unlock()

	if enc, ok := encCache[model]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncoding)
		if err != nil {
			return nil, err
		}
	}
	encCache[model] = enc
	return enc, nil
}

// Counter counts tokens with the encoder of a specific model.
type Counter struct {
	enc *tiktoken.Tiktoken
}

// NewCounter builds a counter for the given embedding model. Unknown
// models fall back to the cl100k_base encoding.
func NewCounter(model string) (*Counter, error) {
	enc, err := encodingFor(model)
	if err != nil {
		return nil, err
	}
	return &Counter{enc: enc}, nil
}

func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCounter estimates tokens from rune count when no encoder is
// available (offline runs, the local embedder). Roughly four characters
// per token for Latin text.
type HeuristicCounter struct {
	Ratio float64
}

func NewHeuristicCounter() *HeuristicCounter { return &HeuristicCounter{Ratio: 0.25} }

func (c *HeuristicCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(utf8.RuneCountInString(text)) * c.Ratio)
	if n == 0 {
		n = 1
	}
	return n
}

// WordCounter counts whitespace-separated words. It is exact and additive,
// which makes chunker behavior fully deterministic; used throughout the
// test suites.
type WordCounter struct{}

func (WordCounter) Count(text string) int { return len(strings.Fields(text)) }
