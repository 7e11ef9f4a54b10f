package extractor

import (
	"context"
	"unicode/utf8"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// Text handles plain text and markdown files as a single page.
type Text struct{}

func NewText() *Text { return &Text{} }

func (*Text) Supports(filename string) bool {
	switch ext(filename) {
	case ".txt", ".md", ".markdown":
		return true
	}
	return false
}

func (*Text) Paginated() bool { return false }

func (*Text) PageCount(ctx context.Context, filename string, data []byte) (int, error) {
	return 1, nil
}

func (*Text) ExtractPage(ctx context.Context, filename string, data []byte, pageNum int) (*domain.ExtractedPage, error) {
	if pageNum != 1 {
		return nil, domain.Errorf(domain.KindExtractionFailed, "extractor.Text",
			"%s has a single page, got request for page %d", filename, pageNum)
	}
	if !utf8.Valid(data) {
		return nil, domain.Errorf(domain.KindExtractionFailed, "extractor.Text",
			"%s is not valid UTF-8", filename)
	}
	return &domain.ExtractedPage{PageNum: 1, Text: string(data)}, nil
}
