package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// quarterCounter counts one token per four runes, additive enough for
// deterministic assertions.
type quarterCounter struct{}

func (quarterCounter) Count(s string) int { return utf8.RuneCountInString(s) / 4 }

// wordCounter counts whitespace-separated words.
type wordCounter struct{}

func (wordCounter) Count(s string) int { return len(strings.Fields(s)) }

// mapCounter returns fixed counts for known strings and falls back to
// word counting.
type mapCounter map[string]int

func (m mapCounter) Count(s string) int {
	if n, ok := m[s]; ok {
		return n
	}
	return len(strings.Fields(s))
}

func pageMetaFor(sourcefile string) func(int) domain.PageMetadata {
	return func(n int) domain.PageMetadata {
		return domain.PageMetadata{PageNum: n, Sourcepage: domain.Sourcepage(sourcefile, n)}
	}
}

func textPages(texts ...string) []domain.ExtractedPage {
	pages := make([]domain.ExtractedPage, len(texts))
	for i, t := range texts {
		pages[i] = domain.ExtractedPage{PageNum: i + 1, Text: t}
	}
	return pages
}

func TestChunkDocument_OneChunkPerPage(t *testing.T) {
	c, err := New(quarterCounter{}, Options{
		TargetTokens: 50,
		MaxSeqLength: 1024,
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.EffectiveMaxTokens() != 50 {
		t.Fatalf("effective budget = %d, want 50", c.EffectiveMaxTokens())
	}
	if c.AdaptiveNote() != "" {
		t.Fatalf("unexpected adaptive note: %q", c.AdaptiveNote())
	}

	doc := domain.DocumentMetadata{Sourcefile: "f"}
	pages := textPages(
		strings.Repeat("A", 200),
		strings.Repeat("B", 200),
		strings.Repeat("C", 200),
	)
	res, err := c.ChunkDocument(doc, pages, pageMetaFor("f"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(res.Chunks))
	}
	wantIDs := []string{"f_p1_c1", "f_p2_c1", "f_p3_c1"}
	for i, ck := range res.Chunks {
		if ck.ChunkID != wantIDs[i] {
			t.Errorf("chunk %d id = %q, want %q", i, ck.ChunkID, wantIDs[i])
		}
		if ck.TokenCount != 50 {
			t.Errorf("chunk %d tokens = %d, want 50", i, ck.TokenCount)
		}
		if ck.Page.PageNum != i+1 {
			t.Errorf("chunk %d page = %d, want %d", i, ck.Page.PageNum, i+1)
		}
	}
}

func TestChunkDocument_CrossPageOverlap(t *testing.T) {
	c, err := New(quarterCounter{}, Options{
		TargetTokens:     50,
		OverlapPercent:   20,
		MaxSeqLength:     1024,
		CrossPageOverlap: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if c.OverlapTokens() != 10 {
		t.Fatalf("overlap tokens = %d, want 10", c.OverlapTokens())
	}

	doc := domain.DocumentMetadata{Sourcefile: "f"}
	pages := textPages(
		strings.Repeat("A", 200),
		strings.Repeat("B", 200),
		strings.Repeat("C", 200),
	)
	res, err := c.ChunkDocument(doc, pages, pageMetaFor("f"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(res.Chunks))
	}

	if got := res.Chunks[0].Text; got != strings.Repeat("A", 200) {
		t.Errorf("chunk 1 text changed: %q", got)
	}
	// 10 tokens of overlap = 40 characters under the quarter counter.
	if got := res.Chunks[1].Text; !strings.HasPrefix(got, strings.Repeat("A", 40)+" ") {
		t.Errorf("chunk 2 does not start with chunk 1's trailing overlap: %.60q", got)
	}
	if !strings.HasSuffix(res.Chunks[1].Text, strings.Repeat("B", 200)) {
		t.Errorf("chunk 2 body altered")
	}
	if got := res.Chunks[2].Text; !strings.HasPrefix(got, strings.Repeat("B", 40)+" ") {
		t.Errorf("chunk 3 does not start with chunk 2's trailing overlap: %.60q", got)
	}
}

func TestNew_AdaptiveBudgetClamp(t *testing.T) {
	c, err := New(wordCounter{}, Options{
		TargetTokens:   750,
		OverlapPercent: 10,
		MaxSeqLength:   256,
	})
	if err != nil {
		t.Fatal(err)
	}
	// floor(256 * (1 - 0.15 - 0.10)) = 192.
	if c.EffectiveMaxTokens() != 192 {
		t.Fatalf("effective budget = %d, want 192", c.EffectiveMaxTokens())
	}
	if c.AdaptiveNote() == "" {
		t.Fatal("expected an adaptive clamp note")
	}

	// A long flat document must never yield a chunk past the model's
	// usable window (85% of max_seq_length).
	words := make([]string, 0, 2000)
	for i := 0; i < 2000; i++ {
		words = append(words, "lorem")
	}
	doc := domain.DocumentMetadata{Sourcefile: "big"}
	pages := textPages(strings.Join(words, " ") + ".")
	res, err := c.ChunkDocument(doc, pages, pageMetaFor("big"))
	if err != nil {
		t.Fatal(err)
	}
	noteCount := 0
	for _, w := range res.Warnings {
		if strings.Contains(w, "safe limit") {
			noteCount++
		}
	}
	if noteCount != 1 {
		t.Errorf("clamp warning emitted %d times, want 1", noteCount)
	}
	ceiling := 256 * 85 / 100
	for _, ck := range res.Chunks {
		if ck.TokenCount > ceiling {
			t.Errorf("chunk %s has %d tokens, past usable window %d", ck.ChunkID, ck.TokenCount, ceiling)
		}
	}
	if len(res.Chunks) < 10 {
		t.Errorf("expected many chunks for 2000 words, got %d", len(res.Chunks))
	}
}

func TestChunkDocument_TableAtomicity(t *testing.T) {
	counter := mapCounter{
		"intro":            10,
		"outro":            10,
		"rendered table T": 80,
	}
	c, err := New(counter, Options{
		TargetTokens: 60,
		MaxSeqLength: 1024,
	})
	if err != nil {
		t.Fatal(err)
	}

	text := "intro\n\noutro"
	pages := []domain.ExtractedPage{{
		PageNum: 1,
		Text:    text,
		Tables: []*domain.ExtractedTable{{
			TableID:      "T1",
			RenderedText: "rendered table T",
			Offset:       7, // after "intro\n\n"
		}},
	}}
	doc := domain.DocumentMetadata{Sourcefile: "f"}
	res, err := c.ChunkDocument(doc, pages, pageMetaFor("f"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %+v", len(res.Chunks), res.Chunks)
	}
	if res.Chunks[0].Text != "intro" {
		t.Errorf("chunk 1 = %q, want %q", res.Chunks[0].Text, "intro")
	}
	if res.Chunks[1].Text != "rendered table T" {
		t.Errorf("chunk 2 = %q, want the table alone", res.Chunks[1].Text)
	}
	if len(res.Chunks[1].TableIDs) != 1 || res.Chunks[1].TableIDs[0] != "T1" {
		t.Errorf("chunk 2 table refs = %v, want [T1]", res.Chunks[1].TableIDs)
	}
	if res.Chunks[2].Text != "outro" {
		t.Errorf("chunk 3 = %q, want %q", res.Chunks[2].Text, "outro")
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "oversize") {
		t.Errorf("warnings = %v, want one oversize warning for the table", res.Warnings)
	}
}

func TestChunkDocument_FigureSentinel(t *testing.T) {
	c, err := New(wordCounter{}, Options{
		TargetTokens: 100,
		MaxSeqLength: 1024,
	})
	if err != nil {
		t.Fatal(err)
	}

	text := "Before the figure.\n\nAfter the figure."
	pages := []domain.ExtractedPage{{
		PageNum: 1,
		Text:    text,
		Images: []*domain.ExtractedImage{{
			FigureID:    "fig1",
			Caption:     "Figure 1",
			Description: "a bar chart of quarterly revenue",
			Offset:      20, // after the first paragraph
		}},
	}}
	res, err := c.ChunkDocument(domain.DocumentMetadata{Sourcefile: "f"}, pages, pageMetaFor("f"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(res.Chunks))
	}
	ck := res.Chunks[0]
	if !strings.Contains(ck.Text, "a bar chart of quarterly revenue") {
		t.Errorf("figure description missing from chunk text: %q", ck.Text)
	}
	if !strings.Contains(ck.Text, "Figure 1") {
		t.Errorf("figure caption missing from chunk text: %q", ck.Text)
	}
	if len(ck.FigureIDs) != 1 || ck.FigureIDs[0] != "fig1" {
		t.Errorf("figure refs = %v, want [fig1]", ck.FigureIDs)
	}
}

func TestChunkDocument_UndescribedFigureSkipped(t *testing.T) {
	c, err := New(wordCounter{}, Options{TargetTokens: 100, MaxSeqLength: 1024})
	if err != nil {
		t.Fatal(err)
	}
	pages := []domain.ExtractedPage{{
		PageNum: 1,
		Text:    "only text here.",
		Images:  []*domain.ExtractedImage{{FigureID: "fig1", Offset: 0}},
	}}
	res, err := c.ChunkDocument(domain.DocumentMetadata{Sourcefile: "f"}, pages, pageMetaFor("f"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(res.Chunks))
	}
	if len(res.Chunks[0].FigureIDs) != 0 {
		t.Errorf("undescribed figure should not be referenced: %v", res.Chunks[0].FigureIDs)
	}
}

func TestChunkDocument_OrphanMerge(t *testing.T) {
	c, err := New(wordCounter{}, Options{TargetTokens: 10, OverlapPercent: 20, MaxSeqLength: 1024})
	if err != nil {
		t.Fatal(err)
	}

	// A full 10-word paragraph followed by a 1-word tail. The tail is
	// below the orphan threshold (2 tokens) and folds back in, spending
	// the overlap reserve; its carried prefix is dropped.
	text := "a b c d e f g h i j.\n\ntail"
	res, err := c.ChunkDocument(domain.DocumentMetadata{Sourcefile: "f"}, textPages(text), pageMetaFor("f"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Chunks) != 1 {
		t.Fatalf("got %d chunks, want 1 after orphan merge", len(res.Chunks))
	}
	if !strings.HasSuffix(res.Chunks[0].Text, "tail") {
		t.Errorf("orphan not merged into final chunk: %q", res.Chunks[0].Text)
	}
	if strings.Count(res.Chunks[0].Text, "i j.") != 1 {
		t.Errorf("carried prefix not dropped on merge: %q", res.Chunks[0].Text)
	}
}

func normalizeWS(s string) string { return strings.Join(strings.Fields(s), " ") }

func TestChunkDocument_ReconstructsEnrichedText(t *testing.T) {
	c, err := New(wordCounter{}, Options{TargetTokens: 12, MaxSeqLength: 1024})
	if err != nil {
		t.Fatal(err)
	}

	text := "First paragraph about storage engines and their tradeoffs.\n\n" +
		"Second paragraph continues with replication details and quorum rules.\n\n" +
		"Third paragraph closes the chapter with operational guidance notes."
	pages := []domain.ExtractedPage{{
		PageNum: 1,
		Text:    text,
		Tables: []*domain.ExtractedTable{{
			TableID:      "T1",
			RenderedText: "engine\tlatency\nlsm\tlow",
			Offset:       60,
		}},
	}}
	res, err := c.ChunkDocument(domain.DocumentMetadata{Sourcefile: "f"}, pages, pageMetaFor("f"))
	if err != nil {
		t.Fatal(err)
	}

	var parts []string
	for _, ck := range res.Chunks {
		parts = append(parts, ck.Text)
	}
	got := normalizeWS(strings.Join(parts, " "))

	enriched := text[:60] + " engine\tlatency\nlsm\tlow " + text[60:]
	want := normalizeWS(enriched)
	if got != want {
		t.Errorf("reconstructed text mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestChunkDocument_NoOverlapThroughSentinel(t *testing.T) {
	counter := mapCounter{"big table body here": 18}
	c, err := New(counter, Options{
		TargetTokens:     20,
		OverlapPercent:   25,
		MaxSeqLength:     1024,
		CrossPageOverlap: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Page 1 ends with a table sentinel; page 2 must not inherit overlap.
	pages := []domain.ExtractedPage{
		{
			PageNum: 1,
			Text:    "short lead in text",
			Tables: []*domain.ExtractedTable{{
				TableID:      "T1",
				RenderedText: "big table body here",
				Offset:       18,
			}},
		},
		{PageNum: 2, Text: "second page words go here now"},
	}
	res, err := c.ChunkDocument(domain.DocumentMetadata{Sourcefile: "f"}, pages, pageMetaFor("f"))
	if err != nil {
		t.Fatal(err)
	}

	var page2 []domain.ChunkDocument
	for _, ck := range res.Chunks {
		if ck.Page.PageNum == 2 {
			page2 = append(page2, ck)
		}
	}
	if len(page2) == 0 {
		t.Fatal("no chunks for page 2")
	}
	if !strings.HasPrefix(page2[0].Text, "second page") {
		t.Errorf("overlap leaked through sentinel boundary: %q", page2[0].Text)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Options{TargetTokens: 10, MaxSeqLength: 100}); err == nil {
		t.Error("nil counter accepted")
	}
	if _, err := New(wordCounter{}, Options{TargetTokens: 0, MaxSeqLength: 100}); err == nil {
		t.Error("zero target accepted")
	}
	if _, err := New(wordCounter{}, Options{TargetTokens: 10, MaxSeqLength: 0}); err == nil {
		t.Error("zero max_seq_length accepted")
	}
}
