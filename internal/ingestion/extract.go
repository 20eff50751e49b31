// Package ingestion handles document processing: format-aware text
// extraction, section chunking, and the embed-and-upsert pipeline.
package ingestion

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// DocSection is one extracted section of a document: its text plus the
// header path leading to it, e.g. "User Guide > Returns".
type DocSection struct {
	Headers string
	Text    string
}

// HeaderSeparator joins heading titles into a section path.
const HeaderSeparator = " > "

// SupportedExtensions lists file extensions this service can ingest.
var SupportedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".html":     true,
	".htm":      true,
	".pdf":      true,
	".docx":     true,
}

// IsSupportedExtension checks if a filename has a supported extension.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Extract parses a document into sections keyed by header path. The format
// is chosen by file extension.
func Extract(r io.Reader, filename string) ([]DocSection, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return extractText(r)
	case ".md", ".markdown":
		return extractMarkdown(r)
	case ".html", ".htm":
		return extractHTML(r)
	case ".pdf":
		return extractPDF(r)
	case ".docx":
		return extractDOCX(r)
	default:
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(filename))
	}
}

// sectionBuilder accumulates text under the current header path while a
// parser walks its document structure. Headings push and pop the path by
// level; everything else appends to the running section.
type sectionBuilder struct {
	sections []DocSection
	path     []pathEntry
	buf      strings.Builder
}

type pathEntry struct {
	title string
	level int
}

func (b *sectionBuilder) headers() string {
	titles := make([]string, len(b.path))
	for i, e := range b.path {
		titles[i] = e.title
	}
	return strings.Join(titles, HeaderSeparator)
}

// heading closes the current section and adjusts the path for a heading of
// the given level.
func (b *sectionBuilder) heading(level int, title string) {
	b.flush()
	for len(b.path) > 0 && b.path[len(b.path)-1].level >= level {
		b.path = b.path[:len(b.path)-1]
	}
	b.path = append(b.path, pathEntry{title: title, level: level})
}

func (b *sectionBuilder) text(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if b.buf.Len() > 0 {
		b.buf.WriteString("\n\n")
	}
	b.buf.WriteString(t)
}

func (b *sectionBuilder) flush() {
	t := strings.TrimSpace(b.buf.String())
	b.buf.Reset()
	if t == "" {
		return
	}
	b.sections = append(b.sections, DocSection{Headers: b.headers(), Text: t})
}

func (b *sectionBuilder) result() []DocSection {
	b.flush()
	return b.sections
}

// extractText treats blank-line separated paragraphs as one section with no
// header path.
func extractText(r io.Reader) ([]DocSection, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var b sectionBuilder
	var current strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			b.text(current.String())
			current.Reset()
			continue
		}
		if current.Len() > 0 {
			current.WriteString("\n")
		}
		current.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	b.text(current.String())
	return b.result(), nil
}
