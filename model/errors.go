package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError reports a malformed argument to one of the shape or packing utilities:
// a rank mismatch, an unknown padding type, a missing or malformed custom padding,
// or a missing parameter required by the padding type.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

// validationErrorf creates a ValidationError with a stack trace attached.
func validationErrorf(format string, args ...any) error {
	return errors.WithStack(&ValidationError{msg: fmt.Sprintf(format, args...)})
}

// IsValidationError reports whether err, or any error it wraps, is a *ValidationError.
func IsValidationError(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
