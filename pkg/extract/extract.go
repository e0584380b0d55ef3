// Package extract defines the text-extraction boundary of the ingestion
// pipeline.
//
// Parsing binary document formats (PDF, DOCX, PPTX) is an external concern;
// the pipeline only needs "bytes + MIME → text (+ optional pages)". The
// plaintext extractor ships in-process; richer extractors plug in behind the
// same interface.
package extract

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Result is the extracted text of one document. When the extractor can
// attribute text to pages, Pages is populated and Text is the concatenation
// in page order; otherwise Pages is nil.
type Result struct {
	Text  string
	Pages []PageText
}

// PageText is the text of a single 1-based page.
type PageText struct {
	Number int
	Text   string
}

// PageCount reports the number of pages, treating page-less results as a
// single page.
func (r Result) PageCount() int {
	if len(r.Pages) == 0 {
		return 1
	}
	return len(r.Pages)
}

// Extractor converts raw document bytes into text.
//
// Implementations must be safe for concurrent use.
type Extractor interface {
	// Extract parses data according to mime. Returns an error when the MIME
	// type is unsupported or the payload cannot be parsed.
	Extract(ctx context.Context, data []byte, mime string) (Result, error)

	// Supports reports whether mime can be handled by this extractor.
	Supports(mime string) bool
}

// Plaintext extracts text/plain, text/markdown and text/csv payloads.
// Form-feed characters (0x0C) delimit pages when present.
type Plaintext struct{}

// NewPlaintext creates the plaintext extractor.
func NewPlaintext() *Plaintext { return &Plaintext{} }

// plainMIMEs lists the MIME types the plaintext extractor accepts. Parameters
// such as "; charset=utf-8" are ignored in the comparison.
var plainMIMEs = []string{"text/plain", "text/markdown", "text/csv"}

// Supports implements [Extractor].
func (*Plaintext) Supports(mime string) bool {
	base := strings.TrimSpace(strings.SplitN(mime, ";", 2)[0])
	for _, m := range plainMIMEs {
		if strings.EqualFold(base, m) {
			return true
		}
	}
	return false
}

// Extract implements [Extractor].
func (p *Plaintext) Extract(_ context.Context, data []byte, mime string) (Result, error) {
	if !p.Supports(mime) {
		return Result{}, fmt.Errorf("extract: unsupported mime type %q", mime)
	}
	if !utf8.Valid(data) {
		return Result{}, fmt.Errorf("extract: payload is not valid UTF-8")
	}

	text := string(data)
	if !strings.ContainsRune(text, '\f') {
		return Result{Text: text}, nil
	}

	var (
		pages []PageText
		parts []string
	)
	for i, page := range strings.Split(text, "\f") {
		pages = append(pages, PageText{Number: i + 1, Text: page})
		parts = append(parts, page)
	}
	return Result{Text: strings.Join(parts, "\n"), Pages: pages}, nil
}

var _ Extractor = (*Plaintext)(nil)
