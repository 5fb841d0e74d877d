package ingest

import (
	"strings"
	"unicode/utf8"
)

// separators is the split cascade: paragraphs first, then lines, then
// words, then hard cuts.
var separators = []string{"\n\n", "\n", " ", ""}

// Splitter cuts document text into chunks of roughly ChunkSize bytes,
// preferring paragraph boundaries over line boundaries over word
// boundaries. Overlap bytes of trailing context are carried from one chunk
// into the next so meaning does not get severed at chunk edges.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

// Split cuts text into chunks. Empty and whitespace-only input yields nil.
func (s Splitter) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return s.split(text, separators)
}

func (s Splitter) split(text string, seps []string) []string {
	if len(text) <= s.ChunkSize {
		return []string{text}
	}

	// Pick the coarsest separator that actually occurs in the text.
	sep := ""
	rest := seps
	for i, cand := range seps {
		if cand == "" || strings.Contains(text, cand) {
			sep = cand
			rest = seps[i+1:]
			break
		}
	}
	if sep == "" {
		return s.hardCut(text)
	}

	var chunks []string
	var pending []string
	flush := func() {
		if len(pending) > 0 {
			chunks = append(chunks, s.merge(pending, sep)...)
			pending = nil
		}
	}
	for _, piece := range strings.Split(text, sep) {
		if piece == "" {
			continue
		}
		if len(piece) <= s.ChunkSize {
			pending = append(pending, piece)
			continue
		}
		// Too big for one chunk even alone: recurse with finer separators.
		flush()
		chunks = append(chunks, s.split(piece, rest)...)
	}
	flush()
	return chunks
}

// merge greedily joins pieces into chunks of at most ChunkSize bytes,
// seeding each new chunk with the overlap tail of the previous one when
// the tail still leaves room for the next piece.
func (s Splitter) merge(pieces []string, sep string) []string {
	var chunks []string
	var cur strings.Builder
	for _, piece := range pieces {
		need := len(piece)
		if cur.Len() > 0 {
			need += len(sep)
		}
		if cur.Len() > 0 && cur.Len()+need > s.ChunkSize {
			chunk := cur.String()
			chunks = append(chunks, chunk)
			cur.Reset()
			if s.Overlap > 0 {
				seed := tail(chunk, s.Overlap)
				if len(seed)+len(sep)+len(piece) <= s.ChunkSize {
					cur.WriteString(seed)
				}
			}
		}
		if cur.Len() > 0 {
			cur.WriteString(sep)
		}
		cur.WriteString(piece)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// hardCut slices text into fixed windows when no separator is left to cut
// at, stepping by ChunkSize minus Overlap.
func (s Splitter) hardCut(text string) []string {
	step := s.ChunkSize - s.Overlap
	if step <= 0 {
		step = s.ChunkSize
	}
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + s.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// tail returns the last n bytes of text, advanced to the next rune
// boundary so multi-byte characters are never split.
func tail(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(text) <= n {
		return text
	}
	start := len(text) - n
	for start < len(text) && !utf8.RuneStart(text[start]) {
		start++
	}
	return text[start:]
}
