// Package table renders extracted table grids to text. Rendering is a
// pure function over the grid; merged cells appear once at their origin.
package table

import (
	"fmt"
	"html"
	"strings"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// Render modes.
const (
	ModePlain    = "plain"
	ModeMarkdown = "markdown"
	ModeHTML     = "html"
)

// Renderer renders tables in a fixed mode chosen from config.
type Renderer struct {
	mode string
}

func NewRenderer(mode string) (*Renderer, error) {
	switch mode {
	case ModePlain, ModeMarkdown, ModeHTML:
		return &Renderer{mode: mode}, nil
	default:
		return nil, fmt.Errorf("unknown table render mode: %s", mode)
	}
}

func (r *Renderer) Render(t *domain.ExtractedTable) (string, error) {
	switch r.mode {
	case ModePlain:
		return renderPlain(t), nil
	case ModeMarkdown:
		return renderMarkdown(t), nil
	case ModeHTML:
		return renderHTML(t), nil
	}
	return "", fmt.Errorf("unknown table render mode: %s", r.mode)
}

// RenderFallback is the best-effort plain rendering used when the
// configured mode fails for a particular table.
func RenderFallback(t *domain.ExtractedTable) string {
	return renderPlain(t)
}

// expand lays the grid out into a full matrix. A merged cell's text lands
// at its origin; every other position it covers holds the empty string.
func expand(t *domain.ExtractedTable) [][]string {
	// Column count is discovered while placing cells.
	type pending struct{ rowsLeft, col, span int }

	var matrix [][]string
	var carry []pending

	for _, row := range t.Rows {
		line := []string{}
		occupied := map[int]bool{}
		var nextCarry []pending
		for _, p := range carry {
			for c := p.col; c < p.col+p.span; c++ {
				occupied[c] = true
			}
			if p.rowsLeft > 1 {
				nextCarry = append(nextCarry, pending{p.rowsLeft - 1, p.col, p.span})
			}
		}

		col := 0
		place := func(s string) {
			for occupied[col] {
				for len(line) <= col {
					line = append(line, "")
				}
				col++
			}
			for len(line) <= col {
				line = append(line, "")
			}
			line[col] = s
		}

		for _, cell := range row {
			place(cell.Text)
			colSpan := cell.ColSpan
			if colSpan < 1 {
				colSpan = 1
			}
			rowSpan := cell.RowSpan
			if rowSpan < 1 {
				rowSpan = 1
			}
			if rowSpan > 1 {
				nextCarry = append(nextCarry, pending{rowSpan - 1, col, colSpan})
			}
			col += colSpan
			for len(line) < col {
				line = append(line, "")
			}
		}
		// Trailing positions blocked by rowspans from above.
		for occupied[col] {
			line = append(line, "")
			col++
		}

		matrix = append(matrix, line)
		carry = nextCarry
	}

	// Pad rows to uniform width.
	width := 0
	for _, row := range matrix {
		if len(row) > width {
			width = len(row)
		}
	}
	for i, row := range matrix {
		for len(row) < width {
			row = append(row, "")
		}
		matrix[i] = row
	}
	return matrix
}

func renderPlain(t *domain.ExtractedTable) string {
	var b strings.Builder
	if t.Caption != "" {
		b.WriteString(t.Caption)
		b.WriteString("\n")
	}
	for _, row := range expand(t) {
		b.WriteString(strings.Join(row, "\t"))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderMarkdown(t *domain.ExtractedTable) string {
	matrix := expand(t)
	if len(matrix) == 0 {
		return t.Caption
	}

	var b strings.Builder
	if t.Caption != "" {
		b.WriteString(t.Caption)
		b.WriteString("\n\n")
	}

	writeRow := func(cells []string) {
		b.WriteString("|")
		for _, c := range cells {
			b.WriteString(" ")
			b.WriteString(strings.ReplaceAll(c, "|", "\\|"))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	writeRow(matrix[0])
	b.WriteString("|")
	for range matrix[0] {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, row := range matrix[1:] {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderHTML(t *domain.ExtractedTable) string {
	var b strings.Builder
	b.WriteString("<table>")
	if t.Caption != "" {
		b.WriteString("<caption>")
		b.WriteString(html.EscapeString(t.Caption))
		b.WriteString("</caption>")
	}
	for _, row := range t.Rows {
		b.WriteString("<tr>")
		for _, cell := range row {
			b.WriteString("<td")
			if cell.RowSpan > 1 {
				fmt.Fprintf(&b, " rowspan=\"%d\"", cell.RowSpan)
			}
			if cell.ColSpan > 1 {
				fmt.Fprintf(&b, " colspan=\"%d\"", cell.ColSpan)
			}
			b.WriteString(">")
			b.WriteString(html.EscapeString(cell.Text))
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</table>")
	return b.String()
}
