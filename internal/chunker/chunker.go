// Package chunker splits extracted document text into overlapping,
// token-bounded chunks — the retrieval units of the vector index.
//
// Splitting is a pure function: the same input always produces the same
// chunks in document reading order, with ordinals contiguous from 0. Chunk
// boundaries prefer paragraph breaks, then line breaks, then sentence ends,
// then whitespace; a leaf that still exceeds the size limit is cut on fixed
// token windows.
package chunker

import (
	"strings"
	"unicode"
)

// Defaults match the sizing the embedding models are tuned for.
const (
	DefaultSizeTokens    = 1000
	DefaultOverlapTokens = 200
)

// Page is one page of extracted text, 1-based. Extractors that cannot
// report pages hand the whole document to [Chunker.Split] as a single string.
type Page struct {
	Number int
	Text   string
}

// Piece is one chunk emitted by Split, positioned by its zero-based ordinal.
// Page is 0 when the source text carried no page information.
type Piece struct {
	Ordinal int
	Text    string
	Page    int
}

// Chunker is a deterministic token-aware splitter. The zero value is not
// usable; construct with [New].
type Chunker struct {
	sizeTokens    int
	overlapTokens int
}

// New creates a Chunker with the given chunk size and overlap, both counted
// in tokens. Non-positive values fall back to the defaults; overlap is
// clamped below size so chunks always advance.
func New(sizeTokens, overlapTokens int) *Chunker {
	if sizeTokens <= 0 {
		sizeTokens = DefaultSizeTokens
	}
	if overlapTokens < 0 {
		overlapTokens = DefaultOverlapTokens
	}
	if overlapTokens >= sizeTokens {
		overlapTokens = sizeTokens / 2
	}
	return &Chunker{sizeTokens: sizeTokens, overlapTokens: overlapTokens}
}

// Split chunks text into token-bounded pieces in reading order.
// Whitespace-only input produces no pieces.
func (c *Chunker) Split(text string) []Piece {
	return c.split(text, 0, nil, 0)
}

// SplitPages chunks per-page text, carrying the page number onto every piece.
// Ordinals run contiguously across the whole document, not per page.
func (c *Chunker) SplitPages(pages []Page) []Piece {
	var pieces []Piece
	next := 0
	for _, p := range pages {
		pieces = c.split(p.Text, p.Number, pieces, next)
		next = len(pieces)
	}
	return pieces
}

// split appends chunks of text to pieces starting at ordinal next.
func (c *Chunker) split(text string, page int, pieces []Piece, next int) []Piece {
	if strings.TrimSpace(text) == "" {
		return pieces
	}

	segments := c.segment(text, 0)

	// Merge adjacent segments into chunks up to the size limit, then carry
	// the overlap tail into the next chunk.
	var (
		cur       []string
		curTokens int
	)
	flush := func() {
		if curTokens == 0 {
			return
		}
		chunk := strings.TrimSpace(strings.Join(cur, " "))
		if chunk == "" {
			cur, curTokens = nil, 0
			return
		}
		pieces = append(pieces, Piece{Ordinal: next, Text: chunk, Page: page})
		next++

		tail := overlapTail(chunk, c.overlapTokens)
		if tail != "" {
			cur = []string{tail}
			curTokens = CountTokens(tail)
		} else {
			cur, curTokens = nil, 0
		}
	}

	for _, seg := range segments {
		n := CountTokens(seg)
		if curTokens > 0 && curTokens+n > c.sizeTokens {
			flush()
		}
		cur = append(cur, seg)
		curTokens += n
	}
	if curTokens > 0 {
		chunk := strings.TrimSpace(strings.Join(cur, " "))
		// The final buffer may be pure overlap carried from the previous
		// chunk; only emit when it adds new text.
		if chunk != "" && !onlyOverlap(pieces, chunk) {
			pieces = append(pieces, Piece{Ordinal: next, Text: chunk, Page: page})
			next++
		}
	}
	return pieces
}

// separators is the recursive split hierarchy, coarsest first.
var separators = []string{"\n\n", "\n"}

// segment recursively splits text into units that each fit the chunk size.
// depth indexes into separators; past the list, sentence splitting and then
// fixed token windows apply.
func (c *Chunker) segment(text string, depth int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if CountTokens(text) <= c.sizeTokens {
		return []string{text}
	}

	if depth < len(separators) {
		parts := strings.Split(text, separators[depth])
		var out []string
		for _, p := range parts {
			out = append(out, c.segment(p, depth+1)...)
		}
		return out
	}

	// Sentence level.
	sentences := splitSentences(text)
	if len(sentences) > 1 {
		var out []string
		for _, s := range sentences {
			out = append(out, c.segment(s, depth+1)...)
		}
		return out
	}

	// Last resort: fixed token windows over whitespace-split tokens.
	words := strings.Fields(text)
	var out []string
	for start := 0; start < len(words); start += c.sizeTokens {
		end := min(start+c.sizeTokens, len(words))
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}

// splitSentences cuts text after sentence-terminating punctuation followed
// by whitespace. It is intentionally simple; abbreviation handling is not
// needed for chunk sizing.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i := 0; i < len(runes)-1; i++ {
		switch runes[i] {
		case '.', '!', '?':
			if unicode.IsSpace(runes[i+1]) {
				s := strings.TrimSpace(string(runes[start : i+1]))
				if s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
		out = append(out, rest)
	}
	return out
}

// CountTokens is the deterministic token counter used for chunk sizing.
// A token is a maximal run of letters/digits or a single other non-space
// rune, which tracks byte-pair tokenizers closely enough for bounding chunk
// sizes. The rule is fixed per deployment; changing it re-chunks documents
// only on re-ingestion.
func CountTokens(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				count++
				inWord = true
			}
		case unicode.IsSpace(r):
			inWord = false
		default:
			count++
			inWord = false
		}
	}
	return count
}

// overlapTail returns the suffix of chunk holding roughly n tokens,
// cut on a whitespace boundary.
func overlapTail(chunk string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(chunk)
	if len(words) <= n {
		return "" // whole chunk would repeat; skip the overlap
	}
	return strings.Join(words[len(words)-n:], " ")
}

// onlyOverlap reports whether chunk is entirely contained in the tail of the
// previously emitted piece.
func onlyOverlap(pieces []Piece, chunk string) bool {
	if len(pieces) == 0 {
		return false
	}
	return strings.HasSuffix(pieces[len(pieces)-1].Text, chunk)
}
