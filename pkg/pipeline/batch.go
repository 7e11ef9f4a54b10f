package pipeline

import "github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"

// embedBatch is a contiguous slice of chunks headed for one EmbedBatch
// call. start is the index of the first chunk in the document's chunk
// list, so vectors land back in input order no matter which batch
// finishes first.
type embedBatch struct {
	start  int
	texts  []string
	tokens int
}

// formBatches groups chunks in order, respecting the provider's batch
// size and token budget. A single chunk over the token budget travels
// alone; the provider's sequence limit was already enforced by chunking.
func formBatches(chunks []domain.ChunkDocument, maxSize, maxTokens int) []embedBatch {
	if maxSize <= 0 {
		maxSize = 1
	}
	var batches []embedBatch
	cur := embedBatch{start: 0}
	for i, chunk := range chunks {
		overSize := len(cur.texts) >= maxSize
		overTokens := maxTokens > 0 && len(cur.texts) > 0 && cur.tokens+chunk.TokenCount > maxTokens
		if overSize || overTokens {
			batches = append(batches, cur)
			cur = embedBatch{start: i}
		}
		cur.texts = append(cur.texts, chunk.Text)
		cur.tokens += chunk.TokenCount
	}
	if len(cur.texts) > 0 {
		batches = append(batches, cur)
	}
	return batches
}
