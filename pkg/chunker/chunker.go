// Package chunker converts enriched extracted pages into an ordered list
// of chunk documents under an adaptive token budget. Tables and figures
// are atomic: each is replaced inline by a sentinel span that is never
// split across chunks.
package chunker

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/log"
)

// Options configures the chunker. MaxSeqLength comes from the embeddings
// provider (or the env fallback when the provider does not report one).
type Options struct {
	TargetTokens      int
	OverlapPercent    int
	MaxChars          int
	CrossPageOverlap  bool
	MaxSeqLength      int
	AbsoluteMaxTokens int // explicit override of the effective budget
}

// safetyMargin is the share of the sequence length reserved for prompt
// scaffolding and tokenizer drift between our counter and the provider's.
const safetyMargin = 0.15

// Chunker is safe for concurrent use; all state is set at construction.
type Chunker struct {
	counter       domain.TokenCounter
	opts          Options
	effectiveMax  int
	overlapTokens int
	// adaptiveNote is non-empty when the requested target exceeded the
	// model's safe limit and was clamped.
	adaptiveNote string
}

func New(counter domain.TokenCounter, opts Options) (*Chunker, error) {
	if counter == nil {
		return nil, fmt.Errorf("chunker requires a token counter")
	}
	if opts.TargetTokens <= 0 {
		return nil, fmt.Errorf("target_tokens must be positive: %d", opts.TargetTokens)
	}
	if opts.MaxSeqLength <= 0 {
		return nil, fmt.Errorf("max_seq_length must be positive: %d", opts.MaxSeqLength)
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = 2000
	}

	c := &Chunker{counter: counter, opts: opts}

	safeLimit := int(math.Floor(float64(opts.MaxSeqLength) * (1 - safetyMargin - float64(opts.OverlapPercent)/100)))
	c.effectiveMax = opts.TargetTokens
	if c.effectiveMax > safeLimit {
		c.adaptiveNote = fmt.Sprintf(
			"target_tokens %d exceeds safe limit %d for max_seq_length %d; using %d",
			opts.TargetTokens, safeLimit, opts.MaxSeqLength, safeLimit)
		log.WithComponent("chunker").Warn("adaptive token budget engaged",
			"target_tokens", opts.TargetTokens,
			"safe_limit", safeLimit,
			"max_seq_length", opts.MaxSeqLength)
		c.effectiveMax = safeLimit
	}
	if opts.AbsoluteMaxTokens > 0 && opts.AbsoluteMaxTokens < c.effectiveMax {
		c.effectiveMax = opts.AbsoluteMaxTokens
	}
	if c.effectiveMax <= 0 {
		return nil, fmt.Errorf("effective token budget is not positive (max_seq_length %d too small)", opts.MaxSeqLength)
	}

	c.overlapTokens = int(math.Round(float64(c.effectiveMax) * float64(opts.OverlapPercent) / 100))
	return c, nil
}

func (c *Chunker) EffectiveMaxTokens() int { return c.effectiveMax }
func (c *Chunker) OverlapTokens() int      { return c.overlapTokens }

// AdaptiveNote returns the clamp warning, or "" when the target fit.
func (c *Chunker) AdaptiveNote() string { return c.adaptiveNote }

// Result is the output of chunking one document.
type Result struct {
	Chunks   []domain.ChunkDocument
	Warnings []string
}

// span is one unit of the enriched page: either a text atom or an atomic
// sentinel standing in for a table or figure.
type span struct {
	text     string
	tokens   int
	sentinel bool
	tableID  string
	figureID string
}

// chunk accumulates spans. The carried overlap prefix sits outside the
// body budget; the safety margin in the effective budget reserves room
// for it.
type chunk struct {
	prefix       string
	parts        []string
	bodyTokens   int
	tableIDs     []string
	figureIDs    []string
	endsWithText bool
	trailingText string
	oversize     bool
}

func (ck *chunk) empty() bool { return len(ck.parts) == 0 }

func (ck *chunk) add(s span) {
	ck.parts = append(ck.parts, s.text)
	ck.bodyTokens += s.tokens
	if s.sentinel {
		if s.tableID != "" {
			ck.tableIDs = append(ck.tableIDs, s.tableID)
		}
		if s.figureID != "" {
			ck.figureIDs = append(ck.figureIDs, s.figureID)
		}
		ck.endsWithText = false
		ck.trailingText = ""
	} else {
		if ck.endsWithText && ck.trailingText != "" {
			ck.trailingText = ck.trailingText + " " + s.text
		} else {
			ck.trailingText = s.text
		}
		ck.endsWithText = true
	}
}

func (ck *chunk) body() string { return strings.Join(ck.parts, "\n\n") }

func (ck *chunk) text() string {
	if ck.prefix == "" {
		return ck.body()
	}
	return ck.prefix + " " + ck.body()
}

// ChunkDocument splits all pages of a document. pageMeta resolves the
// PageMetadata for a page number. Identical inputs produce identical
// chunk sequences.
func (c *Chunker) ChunkDocument(doc domain.DocumentMetadata, pages []domain.ExtractedPage, pageMeta func(pageNum int) domain.PageMetadata) (*Result, error) {
	res := &Result{}
	if c.adaptiveNote != "" {
		res.Warnings = append(res.Warnings, c.adaptiveNote)
	}

	carry := "" // cross-page overlap seed
	for _, page := range pages {
		spans := c.pageSpans(&page)
		chunks, warnings := c.pack(spans, carry)
		res.Warnings = append(res.Warnings, warnings...)

		meta := pageMeta(page.PageNum)
		for k, ck := range chunks {
			text := ck.text()
			if strings.TrimSpace(text) == "" {
				continue
			}
			cd := domain.ChunkDocument{
				Document:   doc,
				Page:       meta,
				ChunkID:    domain.ChunkID(doc.Sourcefile, page.PageNum, k+1),
				Text:       text,
				TokenCount: c.counter.Count(text),
				TableIDs:   ck.tableIDs,
				FigureIDs:  ck.figureIDs,
			}
			if !ck.oversize && ck.bodyTokens > c.effectiveMax+c.overlapTokens {
				return nil, domain.Errorf(domain.KindIntegrityChunkOversize, "chunker.ChunkDocument",
					"chunk %s has %d body tokens, budget %d", cd.ChunkID, ck.bodyTokens, c.effectiveMax)
			}
			res.Chunks = append(res.Chunks, cd)
		}

		carry = ""
		if c.opts.CrossPageOverlap && c.overlapTokens > 0 && len(chunks) > 0 {
			last := chunks[len(chunks)-1]
			// Overlap never crosses a sentinel boundary.
			if last.endsWithText {
				carry = c.overlapTail(last.trailingText)
			}
		}
	}
	return res, nil
}

// pageSpans builds the enriched span sequence for one page: text runs
// interleaved with table/figure sentinels at their anchored offsets.
func (c *Chunker) pageSpans(page *domain.ExtractedPage) []span {
	type anchor struct {
		offset  int
		order   int
		text    string
		tableID string
		figID   string
	}

	var anchors []anchor
	for i, t := range page.Tables {
		text := t.RenderedText
		if strings.TrimSpace(text) == "" {
			continue
		}
		anchors = append(anchors, anchor{offset: t.Offset, order: i, text: text, tableID: t.TableID})
	}
	for i, img := range page.Images {
		text := figureText(img)
		if text == "" {
			continue
		}
		anchors = append(anchors, anchor{offset: img.Offset, order: len(page.Tables) + i, text: text, figID: img.FigureID})
	}
	sort.SliceStable(anchors, func(i, j int) bool {
		if anchors[i].offset != anchors[j].offset {
			return anchors[i].offset < anchors[j].offset
		}
		return anchors[i].order < anchors[j].order
	})

	var spans []span
	pos := 0
	text := page.Text
	emitText := func(runEnd int) {
		if runEnd > len(text) {
			runEnd = len(text)
		}
		if pos < runEnd {
			spans = append(spans, c.atomize(text[pos:runEnd])...)
		}
	}
	for _, a := range anchors {
		off := a.offset
		if off < pos {
			off = pos
		}
		emitText(off)
		if off > pos {
			pos = off
		}
		tokens := c.counter.Count(a.text)
		spans = append(spans, span{text: a.text, tokens: tokens, sentinel: true, tableID: a.tableID, figureID: a.figID})
	}
	emitText(len(text))
	return spans
}

func figureText(img *domain.ExtractedImage) string {
	desc := strings.TrimSpace(img.Description)
	caption := strings.TrimSpace(img.Caption)
	switch {
	case desc == "" && caption == "":
		return ""
	case desc == "":
		return caption
	case caption == "":
		return desc
	default:
		return caption + "\n" + desc
	}
}

// atomize splits a text run at semantic boundaries: paragraphs first,
// sentences when a paragraph exceeds the budget, words when a sentence
// does. Words are never split.
func (c *Chunker) atomize(text string) []span {
	var out []span
	for _, para := range splitParagraphs(text) {
		if c.fits(para) {
			out = append(out, span{text: para, tokens: c.counter.Count(para)})
			continue
		}
		for _, sent := range splitSentences(para) {
			if c.fits(sent) {
				out = append(out, span{text: sent, tokens: c.counter.Count(sent)})
				continue
			}
			out = append(out, c.packWords(sent)...)
		}
	}
	return out
}

func (c *Chunker) fits(s string) bool {
	return c.counter.Count(s) <= c.effectiveMax && len(s) <= c.opts.MaxChars
}

// packWords groups words of an over-budget sentence into budget-sized
// atoms. A single word that alone exceeds the budget stays whole and
// yields an oversize atom.
func (c *Chunker) packWords(sent string) []span {
	words := strings.Fields(sent)
	var out []span
	var cur []string
	curTokens := 0
	curChars := 0
	flush := func() {
		if len(cur) == 0 {
			return
		}
		text := strings.Join(cur, " ")
		out = append(out, span{text: text, tokens: c.counter.Count(text)})
		cur, curTokens, curChars = nil, 0, 0
	}
	for _, w := range words {
		wt := c.counter.Count(w)
		if len(cur) > 0 && (curTokens+wt > c.effectiveMax || curChars+len(w)+1 > c.opts.MaxChars) {
			flush()
		}
		cur = append(cur, w)
		curTokens += wt
		curChars += len(w) + 1
	}
	flush()
	return out
}

// pack greedily fills chunks with spans. seed is the cross-page overlap
// prefix for the first chunk; it is dropped when the first span is a
// sentinel.
func (c *Chunker) pack(spans []span, seed string) ([]*chunk, []string) {
	var chunks []*chunk
	var warnings []string

	cur := &chunk{}
	pendingPrefix := seed

	emit := func() {
		if !cur.empty() {
			chunks = append(chunks, cur)
		}
		cur = &chunk{}
	}

	for _, s := range spans {
		if cur.empty() && pendingPrefix != "" && !s.sentinel {
			cur.prefix = pendingPrefix
		}
		if cur.empty() {
			pendingPrefix = ""
		}

		if cur.bodyTokens+s.tokens <= c.effectiveMax && !(s.tokens > c.effectiveMax) {
			cur.add(s)
			continue
		}

		// Close the current chunk, carrying overlap only across a
		// text-to-text boundary.
		if !cur.empty() {
			if cur.endsWithText && !s.sentinel && c.overlapTokens > 0 {
				pendingPrefix = c.overlapTail(cur.trailingText)
			} else {
				pendingPrefix = ""
			}
			emit()
		}

		if s.tokens > c.effectiveMax {
			// Oversize atomic span forms its own chunk.
			over := &chunk{oversize: true}
			over.add(s)
			chunks = append(chunks, over)
			what := "text run"
			if s.tableID != "" {
				what = "table " + s.tableID
			} else if s.figureID != "" {
				what = "figure " + s.figureID
			}
			warnings = append(warnings, fmt.Sprintf("oversize chunk: %s is %d tokens, budget %d", what, s.tokens, c.effectiveMax))
			pendingPrefix = ""
			continue
		}

		if pendingPrefix != "" && !s.sentinel {
			cur.prefix = pendingPrefix
		}
		pendingPrefix = ""
		cur.add(s)
	}
	emit()

	return c.mergeOrphan(chunks), warnings
}

// mergeOrphan folds a trailing fragment back into the previous chunk when
// it is smaller than the orphan threshold. The merge may spend the
// reserved overlap margin: the fragment's carried prefix is dropped, so
// the combined chunk still fits the model window.
func (c *Chunker) mergeOrphan(chunks []*chunk) []*chunk {
	if len(chunks) < 2 {
		return chunks
	}
	last := chunks[len(chunks)-1]
	prev := chunks[len(chunks)-2]

	threshold := c.overlapTokens
	if t := int(math.Round(0.2 * float64(c.effectiveMax))); t > threshold {
		threshold = t
	}
	if last.bodyTokens >= threshold || last.oversize || prev.oversize {
		return chunks
	}
	if prev.bodyTokens+last.bodyTokens > c.effectiveMax+c.overlapTokens {
		return chunks
	}

	prev.parts = append(prev.parts, last.parts...)
	prev.bodyTokens += last.bodyTokens
	prev.tableIDs = append(prev.tableIDs, last.tableIDs...)
	prev.figureIDs = append(prev.figureIDs, last.figureIDs...)
	prev.endsWithText = last.endsWithText
	prev.trailingText = last.trailingText
	return chunks[:len(chunks)-1]
}

// overlapTail returns the trailing overlap-budget tokens of text. Whole
// words are taken from the end; when the final word alone exceeds the
// budget (pathological unbroken runs) a character suffix is used.
func (c *Chunker) overlapTail(text string) string {
	if c.overlapTokens <= 0 || text == "" {
		return ""
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return ""
	}

	var tail []string
	total := 0
	for i := len(words) - 1; i >= 0 && total < c.overlapTokens; i-- {
		tail = append([]string{words[i]}, tail...)
		total = c.counter.Count(strings.Join(tail, " "))
	}
	if len(tail) == 1 && c.counter.Count(tail[0]) > c.overlapTokens {
		return c.charSuffix(tail[0])
	}
	return strings.Join(tail, " ")
}

// charSuffix finds the shortest rune suffix of w counting at least the
// overlap budget.
func (c *Chunker) charSuffix(w string) string {
	runes := []rune(w)
	lo, hi := 1, len(runes)
	for lo < hi {
		mid := (lo + hi) / 2
		if c.counter.Count(string(runes[len(runes)-mid:])) >= c.overlapTokens {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return string(runes[len(runes)-lo:])
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences breaks a paragraph after terminal punctuation followed
// by whitespace, covering Latin and CJK terminators.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		cur.WriteRune(r)
		if isSentenceEnd(r) {
			atEnd := i+1 >= len(runes)
			if atEnd || unicode.IsSpace(runes[i+1]) || isCJK(r) {
				s := strings.TrimSpace(cur.String())
				if s != "" {
					out = append(out, s)
				}
				cur.Reset()
				for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
					i++
				}
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '。' || r == '！' || r == '？'
}

func isCJK(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}
