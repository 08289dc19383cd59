package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown backend or file type.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrRunInProgress indicates a pipeline run is already active for a document.
	ErrRunInProgress = errors.New("pipeline run in progress")

	// ErrLeaseLost indicates another process took over the run lease of a document.
	ErrLeaseLost = errors.New("run lease lost")

	// ErrInvalidTransition indicates a state change the pipeline does not allow.
	ErrInvalidTransition = errors.New("invalid pipeline transition")

	// ErrPageImmutable indicates an attempt to overwrite recognised page text.
	ErrPageImmutable = errors.New("page text is immutable")

	// ErrNotReady indicates the document has no recognised text yet.
	ErrNotReady = errors.New("document has no recognised text")

	// ErrCancelled indicates the pipeline run was cancelled.
	ErrCancelled = errors.New("pipeline run cancelled")

	// ErrTimeout indicates a backend call exceeded its deadline.
	ErrTimeout = errors.New("backend call timed out")

	// ErrLLMUnavailable indicates the LLM service is not configured.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// ErrEmbeddingUnavailable indicates the embedding service is not configured.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrOCRUnavailable indicates no text extraction backend is configured.
	ErrOCRUnavailable = errors.New("text extraction backend unavailable")

	// ErrRateLimited indicates the backend rate limit was exceeded.
	ErrRateLimited = errors.New("rate limited")
)

// Retryable is implemented by errors that know whether a retry may succeed.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err may succeed on a later attempt.
// Timeouts are retryable; unknown errors are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// OCRError is a page-level text extraction failure.
type OCRError struct {
	Code    string
	Message string
	Page    int
	Err     error
}

func (e *OCRError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ocr page %d: %s: %s: %v", e.Page, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("ocr page %d: %s: %s", e.Page, e.Code, e.Message)
}

func (e *OCRError) Unwrap() error { return e.Err }

// Retryable returns true; page failures may be transient.
func (e *OCRError) Retryable() bool { return true }

// ProviderError is an embedding or generation backend failure.
type ProviderError struct {
	Provider string
	Op       string
	Err      error

	// Permanent marks failures a retry cannot fix, such as bad credentials.
	Permanent bool
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable returns true unless the failure is permanent.
func (e *ProviderError) Retryable() bool { return !e.Permanent }

// NewHTTPProviderError classifies a non-2xx provider response. Client
// errors are permanent except 408 and 429; 429 also wraps ErrRateLimited.
func NewHTTPProviderError(provider, op string, status int, body string) *ProviderError {
	err := fmt.Errorf("status %d: %s", status, body)
	if status == 429 {
		err = fmt.Errorf("%w: %w", ErrRateLimited, err)
	}
	return &ProviderError{
		Provider:  provider,
		Op:        op,
		Err:       err,
		Permanent: status >= 400 && status < 500 && status != 408 && status != 429,
	}
}

// ExtractionError is a structured extraction backend failure.
type ExtractionError struct {
	Backend string
	Message string
	Err     error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extraction %s: %s: %v", e.Backend, e.Message, e.Err)
	}
	return fmt.Sprintf("extraction %s: %s", e.Backend, e.Message)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Retryable returns true; the next run replaces any prior record.
func (e *ExtractionError) Retryable() bool { return true }

// IndexConsistencyError reports a query and corpus embedded by different
// models. It is a configuration problem and is never retried.
type IndexConsistencyError struct {
	DocumentID string
	IndexModel string
	QueryModel string
	Detail     string
}

func (e *IndexConsistencyError) Error() string {
	msg := fmt.Sprintf("index for document %s built with %q, query embedder is %q",
		e.DocumentID, e.IndexModel, e.QueryModel)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Retryable returns false.
func (e *IndexConsistencyError) Retryable() bool { return false }
