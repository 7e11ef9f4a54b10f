package extractor

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dslipak/pdf"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// PDF extracts page text from PDF bytes. The reader is rebuilt per call
// so that pages are independently extractable and one corrupt page does
// not poison its siblings.
type PDF struct{}

func NewPDF() *PDF { return &PDF{} }

func (*PDF) Supports(filename string) bool { return ext(filename) == ".pdf" }

func (*PDF) Paginated() bool { return true }

func open(filename string, data []byte) (*pdf.Reader, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.E(domain.KindExtractionFailed, "extractor.PDF",
			fmt.Errorf("open %s: %w", filename, err))
	}
	return r, nil
}

func (*PDF) PageCount(ctx context.Context, filename string, data []byte) (int, error) {
	r, err := open(filename, data)
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

func (*PDF) ExtractPage(ctx context.Context, filename string, data []byte, pageNum int) (*domain.ExtractedPage, error) {
	r, err := open(filename, data)
	if err != nil {
		return nil, err
	}
	if pageNum < 1 || pageNum > r.NumPage() {
		return nil, domain.Errorf(domain.KindExtractionFailed, "extractor.PDF",
			"%s: page %d out of range 1..%d", filename, pageNum, r.NumPage())
	}
	p := r.Page(pageNum)
	if p.V.IsNull() {
		return &domain.ExtractedPage{PageNum: pageNum}, nil
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return nil, domain.E(domain.KindExtractionFailed, "extractor.PDF",
			fmt.Errorf("%s page %d: %w", filename, pageNum, err))
	}
	return &domain.ExtractedPage{PageNum: pageNum, Text: text}, nil
}
