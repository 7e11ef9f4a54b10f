package extractor

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"sort"
	"strconv"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// HTML extracts a single page from an HTML document. Tables and images
// are harvested from the DOM before the remainder is converted to
// markdown; each harvested element leaves an anchor whose position in the
// converted text becomes the element's offset.
type HTML struct{}

func NewHTML() *HTML { return &HTML{} }

func (*HTML) Supports(filename string) bool {
	switch ext(filename) {
	case ".html", ".htm":
		return true
	}
	return false
}

func (*HTML) Paginated() bool { return false }

func (*HTML) PageCount(ctx context.Context, filename string, data []byte) (int, error) {
	return 1, nil
}

func (*HTML) ExtractPage(ctx context.Context, filename string, data []byte, pageNum int) (*domain.ExtractedPage, error) {
	const op = "extractor.HTML"
	if pageNum != 1 {
		return nil, domain.Errorf(domain.KindExtractionFailed, op,
			"%s has a single page, got request for page %d", filename, pageNum)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, domain.E(domain.KindExtractionFailed, op, fmt.Errorf("parse %s: %w", filename, err))
	}

	// Anchor tokens must survive markdown conversion verbatim; a checksum
	// of the input keeps them from colliding with document text.
	prefix := fmt.Sprintf("xa%08xa", crc32.ChecksumIEEE(data))

	type anchor struct {
		token string
		table *domain.ExtractedTable
		image *domain.ExtractedImage
	}
	var anchors []anchor

	doc.Find("table").Each(func(i int, sel *goquery.Selection) {
		if sel.ParentsFiltered("table").Length() > 0 {
			return // nested tables stay inside the outer grid
		}
		t := &domain.ExtractedTable{
			TableID: fmt.Sprintf("table-%d", len(anchors)+1),
			Caption: strings.TrimSpace(sel.Find("caption").First().Text()),
			Rows:    harvestRows(sel),
		}
		a := anchor{token: fmt.Sprintf("%stbl%d", prefix, i), table: t}
		anchors = append(anchors, a)
		sel.ReplaceWithHtml("<p>" + a.token + "</p>")
	})

	figNum := 0
	doc.Find("img").Each(func(i int, sel *goquery.Selection) {
		src := strings.TrimSpace(sel.AttrOr("src", ""))
		if src == "" || strings.HasPrefix(src, "data:") {
			sel.Remove()
			return
		}
		figNum++
		caption := strings.TrimSpace(sel.Closest("figure").Find("figcaption").First().Text())
		if caption == "" {
			caption = strings.TrimSpace(sel.AttrOr("alt", ""))
		}
		img := &domain.ExtractedImage{
			PageNum:   1,
			FigureID:  fmt.Sprintf("figure-%d", figNum),
			Caption:   caption,
			FigureURL: src,
		}
		a := anchor{token: fmt.Sprintf("%simg%d", prefix, i), image: img}
		anchors = append(anchors, a)
		sel.ReplaceWithHtml("<p>" + a.token + "</p>")
	})

	body, err := doc.Find("body").Html()
	if err != nil {
		return nil, domain.E(domain.KindExtractionFailed, op, fmt.Errorf("serialize %s: %w", filename, err))
	}
	text, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		return nil, domain.E(domain.KindExtractionFailed, op, fmt.Errorf("convert %s: %w", filename, err))
	}

	page := &domain.ExtractedPage{PageNum: 1}
	place := func(a anchor, offset int) {
		if a.table != nil {
			a.table.Offset = offset
			page.Tables = append(page.Tables, a.table)
		} else {
			a.image.Offset = offset
			page.Images = append(page.Images, a.image)
		}
	}

	// Locate every anchor in the converted text before removing any, then
	// excise left to right so each recorded offset is a position in the
	// final text regardless of harvest order.
	type located struct {
		a   anchor
		pos int
	}
	var found []located
	var missing []anchor
	for _, a := range anchors {
		if idx := strings.Index(text, a.token); idx >= 0 {
			found = append(found, located{a: a, pos: idx})
		} else {
			missing = append(missing, a)
		}
	}
	sort.Slice(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	var b strings.Builder
	last, removed := 0, 0
	for _, l := range found {
		b.WriteString(text[last:l.pos])
		last = l.pos + len(l.a.token)
		place(l.a, l.pos-removed)
		removed += len(l.a.token)
	}
	b.WriteString(text[last:])
	page.Text = b.String()
	for _, a := range missing {
		place(a, len(page.Text))
	}
	return page, nil
}

// harvestRows reads the grid out of a table selection. Merged cells keep
// their spans; covered positions are not materialized.
func harvestRows(sel *goquery.Selection) [][]domain.TableCell {
	var rows [][]domain.TableCell
	sel.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.ParentsFiltered("table").First().Get(0) != sel.Get(0) {
			return // row belongs to a nested table
		}
		var row []domain.TableCell
		tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			row = append(row, domain.TableCell{
				Text:    strings.TrimSpace(cell.Text()),
				RowSpan: spanAttr(cell, "rowspan"),
				ColSpan: spanAttr(cell, "colspan"),
			})
		})
		if len(row) > 0 {
			rows = append(rows, row)
		}
	})
	return rows
}

func spanAttr(sel *goquery.Selection, name string) int {
	n, err := strconv.Atoi(sel.AttrOr(name, "1"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
