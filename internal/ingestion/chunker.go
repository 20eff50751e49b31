package ingestion

import (
	"strings"
	"unicode"
)

// ChunkerConfig controls how section text is split into chunks. Sizes are
// in words, used as a cheap token proxy.
type ChunkerConfig struct {
	TargetSize int
	MaxSize    int
	Overlap    int
}

// Chunker splits section text into overlapping chunks along sentence
// boundaries.
type Chunker struct {
	config ChunkerConfig
}

// NewChunker creates a new Chunker with the given configuration
func NewChunker(config ChunkerConfig) *Chunker {
	if config.TargetSize <= 0 {
		config.TargetSize = 256
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 512
	}
	if config.Overlap < 0 {
		config.Overlap = 32
	}
	return &Chunker{config: config}
}

// Chunk splits the text of one section into chunk contents. Chunks follow
// sentence boundaries until the target size, with the tail sentences of
// each chunk repeated at the head of the next for overlap.
func (c *Chunker) Chunk(content string) []string {
	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current []string
	currentWords := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(strings.Join(current, " ")))
		current, currentWords = c.overlapTail(current)
	}

	for _, sentence := range sentences {
		words := len(strings.Fields(sentence))

		// A single sentence beyond the hard cap gets split by words.
		if words > c.config.MaxSize {
			flush()
			current, currentWords = nil, 0
			chunks = append(chunks, c.splitLongSentence(sentence)...)
			continue
		}

		if currentWords+words > c.config.MaxSize && currentWords > 0 {
			flush()
		}

		current = append(current, sentence)
		currentWords += words

		if currentWords >= c.config.TargetSize {
			flush()
		}
	}

	if len(current) > 0 && currentWords > overlapOnly(current, chunks, c.config.Overlap) {
		chunks = append(chunks, strings.TrimSpace(strings.Join(current, " ")))
	}

	return chunks
}

// overlapOnly reports the word count current holds purely as carried-over
// overlap, so a trailing chunk that adds nothing new is not emitted.
func overlapOnly(current []string, chunks []string, overlap int) int {
	if len(chunks) == 0 || overlap <= 0 {
		return 0
	}
	last := chunks[len(chunks)-1]
	joined := strings.TrimSpace(strings.Join(current, " "))
	if joined != "" && strings.HasSuffix(last, joined) {
		return len(strings.Fields(joined))
	}
	return 0
}

// overlapTail returns the trailing sentences to carry into the next chunk.
func (c *Chunker) overlapTail(sentences []string) ([]string, int) {
	if c.config.Overlap <= 0 || len(sentences) == 0 {
		return nil, 0
	}
	var tail []string
	words := 0
	for i := len(sentences) - 1; i >= 0 && words < c.config.Overlap; i-- {
		tail = append([]string{sentences[i]}, tail...)
		words += len(strings.Fields(sentences[i]))
	}
	// Carrying everything forward would emit the same chunk twice.
	if len(tail) == len(sentences) {
		return nil, 0
	}
	return tail, words
}

// splitLongSentence splits an oversized sentence into word windows.
func (c *Chunker) splitLongSentence(sentence string) []string {
	words := strings.Fields(sentence)
	var chunks []string

	step := c.config.TargetSize - c.config.Overlap
	if step <= 0 {
		step = c.config.TargetSize/2 + 1
	}
	for i := 0; i < len(words); i += step {
		end := i + c.config.TargetSize
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
		if end >= len(words) {
			break
		}
	}
	return chunks
}

// splitSentences splits text on . ! ? boundaries followed by whitespace.
// A deliberately simple heuristic; abbreviation handling covers the common
// cases only.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if r == '.' || r == '!' || r == '?' {
			if i+1 >= len(runes) || unicode.IsSpace(runes[i+1]) {
				sentence := strings.TrimSpace(current.String())
				if sentence != "" && !isAbbreviation(sentence) {
					sentences = append(sentences, sentence)
					current.Reset()
				}
			}
		}
	}

	remaining := strings.TrimSpace(current.String())
	if remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}

var abbreviations = []string{
	"mr.", "mrs.", "ms.", "dr.", "prof.", "sr.", "jr.",
	"e.g.", "i.e.", "etc.", "vs.", "inc.", "ltd.", "co.",
}

// isAbbreviation checks if a sentence ends with a common abbreviation
func isAbbreviation(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, abbr := range abbreviations {
		if strings.HasSuffix(lower, abbr) {
			return true
		}
	}
	return false
}
