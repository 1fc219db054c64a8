package errors

import (
	"errors"
	"fmt"
	"time"
)

// Error is the structured error type for InsightOS.
// Two Errors are equal under errors.Is when their codes match, so the
// taxonomy sentinels below match any wrapped error of the same kind.
type Error struct {
	// Code is the unique error code (e.g., "ERR_207_UNSUPPORTED_FORMAT").
	Code string

	// Message is the human-readable error message.
	Message string

	Category Category
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable hint for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Cause.Error() != e.Message {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates a new Error with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates an Error from an existing error, reusing its message.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Taxonomy sentinels. Compare with errors.Is.
var (
	ErrUnsupportedFormat  = New(ErrCodeUnsupportedFormat, "unsupported format", nil)
	ErrExtractionFailed   = New(ErrCodeExtractionFailed, "extraction failed", nil)
	ErrInvalidChunkConfig = New(ErrCodeInvalidChunkConfig, "invalid chunk configuration", nil)
	ErrDimensionMismatch  = New(ErrCodeDimensionMismatch, "embedding dimension mismatch", nil)
	ErrStoreUnavailable   = New(ErrCodeStoreUnavailable, "vector store unavailable", nil)
	ErrJobTimeout         = New(ErrCodeJobTimeout, "indexing job timed out", nil)
	ErrIndexLocked        = New(ErrCodeIndexLocked, "index is locked by another writer", nil)
	ErrQueryEmpty         = New(ErrCodeQueryEmpty, "query is empty", nil)
)

// Kind names reported on the status surface.
const (
	KindUnsupportedFormat  = "UnsupportedFormat"
	KindExtractionFailed   = "ExtractionFailed"
	KindInvalidChunkConfig = "InvalidChunkConfig"
	KindDimensionMismatch  = "DimensionMismatch"
	KindStoreUnavailable   = "StoreUnavailable"
	KindJobTimeout         = "JobTimeout"
	KindInternal           = "Internal"
)

var kinds = []struct {
	name     string
	sentinel *Error
}{
	{KindUnsupportedFormat, ErrUnsupportedFormat},
	{KindExtractionFailed, ErrExtractionFailed},
	{KindInvalidChunkConfig, ErrInvalidChunkConfig},
	{KindDimensionMismatch, ErrDimensionMismatch},
	{KindStoreUnavailable, ErrStoreUnavailable},
	{KindJobTimeout, ErrJobTimeout},
}

// KindOf returns the taxonomy kind of err, or "" when err is nil or
// outside the taxonomy.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k.name
		}
	}
	return ""
}

// UnsupportedFormat reports that no reader handles the extension of path.
func UnsupportedFormat(path, ext string) *Error {
	return New(ErrCodeUnsupportedFormat, fmt.Sprintf("no reader registered for %q", ext), nil).
		WithDetail("path", path).
		WithDetail("extension", ext)
}

// ExtractionFailed wraps a reader failure on path.
func ExtractionFailed(path string, cause error) *Error {
	return New(ErrCodeExtractionFailed, "extract "+path, cause).
		WithDetail("path", path)
}

// InvalidChunkConfig reports an unusable chunk size/overlap pair.
func InvalidChunkConfig(size, overlap int) *Error {
	return New(ErrCodeInvalidChunkConfig,
		fmt.Sprintf("chunk size %d with overlap %d: need size > 0 and 0 <= overlap < size", size, overlap), nil).
		WithSuggestion("lower chunking.overlap below chunking.size")
}

// DimensionMismatch reports a vector whose length differs from the
// configured dimension.
func DimensionMismatch(want, got int) *Error {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("expected %d dimensions, got %d", want, got), nil).
		WithSuggestion("rebuild the index with `insightos index --reindex` after changing the embedding model")
}

// StoreUnavailable wraps a storage I/O failure during op.
func StoreUnavailable(op string, cause error) *Error {
	return New(ErrCodeStoreUnavailable, "store "+op, cause)
}

// JobTimeout reports that indexing path exceeded its budget.
func JobTimeout(path string, budget time.Duration) *Error {
	return New(ErrCodeJobTimeout, fmt.Sprintf("indexing %s exceeded %s", path, budget), nil).
		WithDetail("path", path)
}

// IsRetryable reports whether any Error in the chain is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsFatal reports whether err has fatal severity.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the outermost error code, or "".
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
