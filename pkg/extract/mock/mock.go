// Package mock provides a test double for the extract.Extractor interface.
//
// Set the response fields before use; call records can be inspected after
// the test. Safe for concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/pitchforge/pitchforge/pkg/extract"
)

// Call records a single invocation of Extract.
type Call struct {
	Data []byte
	MIME string
}

// Extractor is a mock implementation of extract.Extractor.
type Extractor struct {
	mu sync.Mutex

	// Result is returned by Extract when Err is nil.
	Result extract.Result

	// Err, if non-nil, is returned as the error from Extract.
	Err error

	// SupportsAll makes Supports return true for every MIME type.
	// When false, only MIMEs listed in SupportedMIMEs are accepted.
	SupportsAll bool

	// SupportedMIMEs lists accepted MIME types when SupportsAll is false.
	SupportedMIMEs []string

	// Calls records every invocation of Extract in order.
	Calls []Call
}

// Extract records the call and returns Result, Err.
func (m *Extractor) Extract(_ context.Context, data []byte, mime string) (extract.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := make([]byte, len(data))
	copy(d, data)
	m.Calls = append(m.Calls, Call{Data: d, MIME: mime})
	if m.Err != nil {
		return extract.Result{}, m.Err
	}
	return m.Result, nil
}

// Supports reports whether mime is accepted per the mock configuration.
func (m *Extractor) Supports(mime string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SupportsAll {
		return true
	}
	for _, s := range m.SupportedMIMEs {
		if s == mime {
			return true
		}
	}
	return false
}

var _ extract.Extractor = (*Extractor)(nil)
