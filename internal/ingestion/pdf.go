package ingestion

import (
	"fmt"
	"io"
	"os"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// extractPDF extracts plain text page by page. PDFs carry no reliable
// heading structure, so each page becomes its own section with a
// "Page N" header path.
func extractPDF(r io.Reader) ([]DocSection, error) {
	// The pdf library needs a ReadSeeker with a known size, so spool to
	// a temp file.
	tmp, err := os.CreateTemp("", "ingest-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	f, reader, err := pdflib.Open(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var sections []DocSection
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sections = append(sections, DocSection{
			Headers: fmt.Sprintf("Page %d", i),
			Text:    text,
		})
	}
	return sections, nil
}
