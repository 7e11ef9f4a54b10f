// Package extractor turns raw document bytes into ordered extracted
// pages. Each format has its own extractor; a registry picks the right
// one by filename extension.
package extractor

import (
	"path/filepath"
	"strings"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
)

// Registry resolves the extractor for a file.
type Registry struct {
	extractors []domain.Extractor
}

// NewRegistry builds the default registry covering text, PDF and HTML.
func NewRegistry() *Registry {
	return &Registry{extractors: []domain.Extractor{
		NewText(),
		NewPDF(),
		NewHTML(),
	}}
}

// RegistryForMode builds the registry for an extraction mode: text and
// pdf are single-format, markitdown covers the markup formats, hybrid
// covers everything. Files outside the mode's formats are rejected as
// unsupported.
func RegistryForMode(mode string) (*Registry, error) {
	switch mode {
	case "text":
		return &Registry{extractors: []domain.Extractor{NewText()}}, nil
	case "pdf":
		return &Registry{extractors: []domain.Extractor{NewPDF()}}, nil
	case "markitdown":
		return &Registry{extractors: []domain.Extractor{NewText(), NewHTML()}}, nil
	case "hybrid":
		return NewRegistry(), nil
	}
	return nil, domain.Errorf(domain.KindConfigInvalid, "extractor.RegistryForMode",
		"unknown extraction mode: %s", mode)
}

// Register appends a custom extractor; later registrations win on overlap.
func (r *Registry) Register(e domain.Extractor) {
	r.extractors = append([]domain.Extractor{e}, r.extractors...)
}

// ForFile returns the extractor handling filename, or an
// UnsupportedFormat error.
func (r *Registry) ForFile(filename string) (domain.Extractor, error) {
	for _, e := range r.extractors {
		if e.Supports(filename) {
			return e, nil
		}
	}
	return nil, domain.Errorf(domain.KindUnsupportedFormat, "extractor.ForFile",
		"no extractor for %q", filename)
}

func ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}
