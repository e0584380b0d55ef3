// Package fault defines the tagged error taxonomy shared across PitchForge
// components.
//
// Components return a *Error for any condition the API layer must classify
// (validation failures, state conflicts, provider outages); plain wrapped
// errors are used everywhere else. KindOf walks a wrapped chain so callers
// can classify without unwrapping manually.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies an error category with a fixed user-visible name and
// retry semantics.
type Kind string

const (
	// Validation covers malformed or out-of-range caller input. Never retryable.
	Validation Kind = "VALIDATION"

	// Unauthorized means no tenant principal accompanied the call.
	Unauthorized Kind = "UNAUTHORIZED"

	// NotFound means the addressed entity does not exist within the
	// caller's tenant scope.
	NotFound Kind = "NOT_FOUND"

	// StateConflict is a failed compare-and-set on a lifecycle status.
	// Retryable after re-reading the current state.
	StateConflict Kind = "STATE_CONFLICT"

	// SessionBusy means another turn holds the session's lock. Retryable
	// after a short backoff.
	SessionBusy Kind = "SESSION_BUSY"

	// ProviderUnavailable is a transport-level LLM provider failure that
	// survived the retry budget.
	ProviderUnavailable Kind = "PROVIDER_UNAVAILABLE"

	// ProviderInvalid is a provider response that failed schema or shape
	// validation after escalated retries. Not retryable.
	ProviderInvalid Kind = "PROVIDER_INVALID"

	// ExtractionError, EmbeddingError and IndexError are per-document
	// ingestion failures; the document ends FAILED with the kind recorded.
	ExtractionError Kind = "EXTRACTION_ERROR"
	EmbeddingError  Kind = "EMBEDDING_ERROR"
	IndexError      Kind = "INDEX_ERROR"

	// IndexUnavailable is a transient vector index outage. Retrieval
	// degrades to empty context; ingestion fails the document.
	IndexUnavailable Kind = "INDEX_UNAVAILABLE"

	// IndexCorrupt is a fatal per-tenant index failure; it propagates up.
	IndexCorrupt Kind = "INDEX_CORRUPT"

	// Internal is the catch-all for unclassified server-side failures.
	Internal Kind = "INTERNAL"
)

// Error is a classified error. It wraps an optional cause and carries the
// retryability the API layer reports in its error envelope.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with the default retryability for kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Retryable: defaultRetryable(kind)}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap classifies cause under kind, preserving it for errors.Is/As.
// A nil cause returns nil.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Retryable: defaultRetryable(kind), Err: cause}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal
// when the chain carries no classified error. A nil err maps to the empty
// kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Internal
}

// Message returns the user-visible message of the first *Error in err's
// chain, or err.Error() when the chain carries no classified error.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

// IsKind reports whether err's chain contains a classified error of kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// Retryable reports whether err's chain carries a retryable classified
// error. Unclassified errors are not retryable.
func Retryable(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Retryable
}

// defaultRetryable encodes the retry semantics of each kind.
func defaultRetryable(kind Kind) bool {
	switch kind {
	case StateConflict, SessionBusy, ProviderUnavailable, IndexUnavailable:
		return true
	}
	return false
}
