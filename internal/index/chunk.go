package index

import (
	"strings"

	"github.com/veillehq/veille/internal/config"
)

// Chunker splits canonical text into overlapping chunks. Splitting is
// deterministic: the same text always yields the same chunk sequence.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a Chunker from chunking configuration.
func NewChunker(cfg config.ChunkingConfig) *Chunker {
	return &Chunker{size: cfg.Size, overlap: cfg.Overlap}
}

// unit is one indivisible piece of text plus the separator that preceded it
// in the canonical text. Carrying the separator keeps chunks faithful to the
// original: stripping the overlap prefix off each chunk and concatenating
// the remainders reproduces the canonical text exactly.
type unit struct {
	sep  string
	text string
}

// Split breaks text into chunks of roughly c.size characters. Paragraph
// boundaries are preferred, then sentence boundaries; only a single sentence
// longer than the chunk size is cut mid-sentence. Consecutive chunks share
// c.overlap characters of context.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len([]rune(text)) <= c.size {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder
	currentLen := 0
	for _, u := range c.units(text) {
		unitLen := len([]rune(u.text))
		sepLen := len([]rune(u.sep))
		if currentLen > 0 && currentLen+sepLen+unitLen > c.size {
			chunk := current.String()
			chunks = append(chunks, chunk)
			current.Reset()
			currentLen = 0
			if tail := overlapTail(chunk, c.overlap); tail != "" {
				current.WriteString(tail)
				currentLen = len([]rune(tail))
			}
		}
		if currentLen > 0 {
			current.WriteString(u.sep)
			currentLen += sepLen
		}
		current.WriteString(u.text)
		currentLen += unitLen
	}
	if currentLen > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// units decomposes text into paragraphs, splitting oversized paragraphs
// at sentence boundaries.
func (c *Chunker) units(text string) []unit {
	var units []unit
	sep := ""
	for _, para := range strings.Split(text, "\n\n") {
		if len([]rune(para)) <= c.size {
			units = append(units, unit{sep: sep, text: para})
		} else {
			units = append(units, c.splitLong(sep, para)...)
		}
		sep = "\n\n"
	}
	return units
}

// splitLong breaks an oversized paragraph at sentence boundaries, hard
// cutting only sentences that alone exceed the chunk size. sep is the
// separator that preceded the paragraph; pieces within it are separated
// by single spaces, hard-cut continuations by nothing.
func (c *Chunker) splitLong(sep, para string) []unit {
	var pieces []unit
	var current strings.Builder
	currentLen := 0
	nextSep := sep
	flush := func() {
		if currentLen > 0 {
			pieces = append(pieces, unit{sep: nextSep, text: current.String()})
			current.Reset()
			currentLen = 0
			nextSep = " "
		}
	}

	for _, sent := range splitSentences(para) {
		sentLen := len([]rune(sent))
		if sentLen > c.size {
			flush()
			for i, cut := range hardCut(sent, c.size) {
				cutSep := nextSep
				if i > 0 {
					cutSep = ""
				}
				pieces = append(pieces, unit{sep: cutSep, text: cut})
			}
			nextSep = " "
			continue
		}
		if currentLen > 0 && currentLen+sentLen+1 > c.size {
			flush()
		}
		if currentLen > 0 {
			current.WriteString(" ")
			currentLen++
		}
		current.WriteString(sent)
		currentLen += sentLen
	}
	flush()
	return pieces
}

// splitSentences splits on sentence-final punctuation followed by a space.
// Intentionally naive: canonical text has normalized whitespace, and the
// cost of a wrong boundary is only a slightly uneven chunk.
func splitSentences(s string) []string {
	var sentences []string
	runes := []rune(s)
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
			if runes[i+1] == ' ' {
				sentences = append(sentences, string(runes[start:i+1]))
				start = i + 2
				i++
			}
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

// hardCut slices a string into rune-safe pieces of at most size runes.
func hardCut(s string, size int) []string {
	runes := []rune(s)
	var pieces []string
	for len(runes) > 0 {
		n := min(size, len(runes))
		pieces = append(pieces, string(runes[:n]))
		runes = runes[n:]
	}
	return pieces
}

// overlapTail returns the last n runes of chunk, extended left to the
// nearest word boundary so the overlap never starts mid-word.
func overlapTail(chunk string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(chunk)
	if len(runes) <= n {
		return chunk
	}
	tail := runes[len(runes)-n:]
	if idx := strings.IndexRune(string(tail), ' '); idx >= 0 {
		return strings.TrimSpace(string(tail)[idx:])
	}
	return strings.TrimSpace(string(tail))
}
