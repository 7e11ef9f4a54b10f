package extractor

import (
	"context"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// TextProjection satisfies the page-splitter contract by projecting each
// page to its extracted text. Swapping in a native page writer (one-page
// PDFs) only changes this type; the artifact layout stays the same.
type TextProjection struct {
	extractor domain.Extractor
}

func NewTextProjection(e domain.Extractor) *TextProjection {
	return &TextProjection{extractor: e}
}

func (s *TextProjection) SplitPage(ctx context.Context, filename string, data []byte, pageNum int) ([]byte, string, error) {
	page, err := s.extractor.ExtractPage(ctx, filename, data, pageNum)
	if err != nil {
		return nil, "", err
	}
	return []byte(page.Text), "txt", nil
}
