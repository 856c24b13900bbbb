// Package chunker splits extracted document text into overlapping, ordered
// segments sized for embedding and prompt budgets. Splitting prefers natural
// boundaries (paragraph, line, sentence, clause, word) and hard-cuts only as
// a last resort.
package chunker

import (
	"strings"
	"unicode/utf8"

	"pharmgpt/internal/models"
)

// Policy controls how a document is segmented. A policy is resolved once per
// document from its extracted length.
type Policy struct {
	ChunkSize  int
	Overlap    int
	Separators []string
}

// DefaultSeparators in descending boundary priority. The empty string is the
// hard-cut fallback.
var DefaultSeparators = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " ", ""}

// Documents shorter than this use the small policy; a single fixed chunk size
// performs poorly across both short notes and long manuals.
const smallDocThreshold = 4000

// PolicyFor picks a chunking policy from the extracted text length.
func PolicyFor(textLen int) Policy {
	if textLen < smallDocThreshold {
		return Policy{ChunkSize: 1500, Overlap: 300, Separators: DefaultSeparators}
	}
	return Policy{ChunkSize: 3000, Overlap: 500, Separators: DefaultSeparators}
}

// Split segments text into chunks with dense zero-based indices. The first
// chunk is an exact prefix of the input, and every later chunk starts with
// the overlap tail of its predecessor, so concatenating the non-overlap
// portions reconstructs the input. Empty text yields no chunks.
func Split(text string, p Policy) []models.Chunk {
	if text == "" {
		return nil
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = 1500
	}
	if p.Overlap < 0 {
		p.Overlap = 0
	}
	if p.Overlap >= p.ChunkSize {
		p.Overlap = p.ChunkSize / 2
	}
	if len(p.Separators) == 0 {
		p.Separators = DefaultSeparators
	}

	if len(text) <= p.ChunkSize {
		return []models.Chunk{{Index: 0, Content: text}}
	}

	pieces := splitPieces(text, p.Separators, p.ChunkSize)

	var contents []string
	cur := ""
	seedLen := 0 // bytes of cur that are overlap carried from the previous chunk
	for _, piece := range pieces {
		if len(cur) > seedLen && len(cur)+len(piece) > p.ChunkSize {
			contents = append(contents, cur)
			cur = overlapTail(cur, p.Overlap)
			seedLen = len(cur)
		}
		cur += piece
	}
	if len(cur) > seedLen {
		contents = append(contents, cur)
	}

	chunks := make([]models.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = models.Chunk{Index: i, Content: c}
	}
	return chunks
}

// splitPieces breaks text into atomic pieces no longer than size, trying each
// separator in order and keeping separators attached to the preceding piece
// so concatenation of the pieces is the original text.
func splitPieces(text string, seps []string, size int) []string {
	if len(text) <= size {
		return []string{text}
	}
	if len(seps) == 0 {
		seps = []string{""}
	}
	sep, rest := seps[0], seps[1:]

	if sep == "" {
		// Hard cut at rune boundaries.
		var out []string
		for len(text) > size {
			cut := size
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = size
			}
			out = append(out, text[:cut])
			text = text[cut:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}

	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		return splitPieces(text, rest, size)
	}
	var out []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if len(part) <= size {
			out = append(out, part)
		} else {
			out = append(out, splitPieces(part, rest, size)...)
		}
	}
	return out
}

// overlapTail returns the last n bytes of s, extended back to a rune boundary.
func overlapTail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	i := len(s) - n
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[i:]
}
