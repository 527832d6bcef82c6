package core

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable signals that the durable primary store could
// not be written. Callers that also hold in-memory state must keep that
// state consistent and surface this as a return value, never a panic.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrEmbeddingUnavailable signals that no embedding provider is
// configured or the configured one is erroring. Retrieval paths degrade
// to keyword-only behavior instead of propagating it.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// ValidationError rejects malformed input at the boundary: zero
// timestamps, id collisions, content exceeding a bounded block's
// length. A ValidationError means nothing was applied.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for field with a formatted reason.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
