package answer

import (
	"fmt"
	"strings"
)

// CollectionNotFoundError reports that none of the requested target
// collections exist in the store.
type CollectionNotFoundError struct {
	Collections []string
}

func (e *CollectionNotFoundError) Error() string {
	return fmt.Sprintf("collection(s) not found: %s", strings.Join(e.Collections, ", "))
}

// ExecutionError wraps a document-store failure for a sanitized pipeline.
// The serialized pipeline and collection name are carried for diagnosis; a
// broken pipeline must never be presented as an empty-but-successful
// result.
type ExecutionError struct {
	Collection string
	Pipeline   string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("pipeline execution failed on %s: %v", e.Collection, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// SummarizerDegradedError is non-fatal: it marks that the narrative answer
// came from the templated fallback because the summarizer collaborator
// failed. It is logged, never returned to the caller.
type SummarizerDegradedError struct {
	Err error
}

func (e *SummarizerDegradedError) Error() string {
	return fmt.Sprintf("summarizer degraded: %v", e.Err)
}

func (e *SummarizerDegradedError) Unwrap() error { return e.Err }

// TimeoutError reports that a stage's collaborator call exceeded the
// request deadline. The core never retries; retry policy belongs to the
// caller.
type TimeoutError struct {
	Stage string
	Err   error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Stage, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }
