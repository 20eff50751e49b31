package ingestion

import (
	"strings"
	"testing"
)

func TestExtractMarkdownHeaderPaths(t *testing.T) {
	input := `# Guide

Intro text.

## Returns

You can return items within 30 days.

### Exceptions

Sale items are final.

## Shipping

We ship worldwide.
`
	sections, err := Extract(strings.NewReader(input), "guide.md")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := []DocSection{
		{Headers: "Guide", Text: "Intro text."},
		{Headers: "Guide > Returns", Text: "You can return items within 30 days."},
		{Headers: "Guide > Returns > Exceptions", Text: "Sale items are final."},
		{Headers: "Guide > Shipping", Text: "We ship worldwide."},
	}
	if len(sections) != len(want) {
		t.Fatalf("got %d sections, want %d: %+v", len(sections), len(want), sections)
	}
	for i, w := range want {
		if sections[i].Headers != w.Headers {
			t.Errorf("section %d headers = %q, want %q", i, sections[i].Headers, w.Headers)
		}
		if !strings.Contains(sections[i].Text, w.Text) {
			t.Errorf("section %d text = %q, want to contain %q", i, sections[i].Text, w.Text)
		}
	}
}

func TestExtractMarkdownSiblingHeadingReplacesPath(t *testing.T) {
	input := `## A

a text

## B

b text
`
	sections, err := Extract(strings.NewReader(input), "doc.md")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(sections))
	}
	if sections[1].Headers != "B" {
		t.Errorf("sibling heading path = %q, want %q", sections[1].Headers, "B")
	}
}

func TestExtractHTML(t *testing.T) {
	input := `<html><head><title>ignored</title><script>junk()</script></head>
<body>
<h1>Manual</h1>
<p>Overview paragraph.</p>
<h2>Setup</h2>
<p>Install the thing.</p>
<p>Run the thing.</p>
</body></html>`

	sections, err := Extract(strings.NewReader(input), "manual.html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(sections) != 2 {
		t.Fatalf("got %d sections, want 2: %+v", len(sections), sections)
	}
	if sections[0].Headers != "Manual" || !strings.Contains(sections[0].Text, "Overview paragraph.") {
		t.Errorf("unexpected first section: %+v", sections[0])
	}
	if sections[1].Headers != "Manual > Setup" {
		t.Errorf("second section headers = %q, want %q", sections[1].Headers, "Manual > Setup")
	}
	if !strings.Contains(sections[1].Text, "Install the thing.") || !strings.Contains(sections[1].Text, "Run the thing.") {
		t.Errorf("second section text = %q", sections[1].Text)
	}
	if strings.Contains(sections[0].Text, "junk") {
		t.Error("script content leaked into extracted text")
	}
}

func TestExtractPlainText(t *testing.T) {
	input := "First paragraph\nstill first.\n\nSecond paragraph.\n"
	sections, err := Extract(strings.NewReader(input), "notes.txt")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(sections) != 1 {
		t.Fatalf("got %d sections, want 1", len(sections))
	}
	if sections[0].Headers != "" {
		t.Errorf("plain text headers = %q, want empty", sections[0].Headers)
	}
	if !strings.Contains(sections[0].Text, "First paragraph") || !strings.Contains(sections[0].Text, "Second paragraph.") {
		t.Errorf("text = %q", sections[0].Text)
	}
}

func TestExtractUnsupportedExtension(t *testing.T) {
	if _, err := Extract(strings.NewReader("x"), "image.png"); err == nil {
		t.Error("expected error for unsupported extension")
	}
	if IsSupportedExtension("image.png") {
		t.Error("png reported as supported")
	}
	if !IsSupportedExtension("doc.md") {
		t.Error("md reported as unsupported")
	}
}
