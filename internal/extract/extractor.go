// Package extract parses document files into ordered text sections.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kotaeru/internal/errs"
)

// Extractor parses documents into text sections, one per logical sub-unit:
// a plain text file is one section, a CSV yields one per record, a PDF one
// per page, a spreadsheet one per row, a presentation one per slide.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Sections reads the file at path and returns its text sections.
// Returns errs.ErrUnsupportedType for extensions it cannot handle; callers
// treat that (and any parse error) as a per-document, non-fatal condition.
func (e *Extractor) Sections(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return e.SectionsFromBytes(content, ext)
}

// SectionsFromBytes parses content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) SectionsFromBytes(content []byte, ext string) ([]string, error) {
	switch ext {
	case ".txt", ".md":
		return extractPlain(content)
	case ".csv":
		return extractCSV(content)
	case ".pdf":
		return extractPDF(content)
	case ".xlsx":
		return extractExcel(content)
	case ".docx":
		return extractDOCX(content)
	case ".pptx":
		return extractPPTX(content)
	default:
		return nil, fmt.Errorf("extension %q: %w", ext, errs.ErrUnsupportedType)
	}
}

// nonEmpty filters out whitespace-only sections, preserving order.
func nonEmpty(sections []string) []string {
	out := sections[:0]
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
