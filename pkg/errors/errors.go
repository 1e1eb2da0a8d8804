// Package errors wraps github.com/pkg/errors with printf-style helpers so
// call sites get stack traces without importing two error packages.
package errors

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// StackTrace is re-exported for callers that inspect stacks.
type StackTrace = errors.StackTrace

// New returns an error with a stack trace. The message may be a printf
// format string.
func New(format string, args ...interface{}) error {
	if len(args) == 0 {
		return errors.New(format)
	}
	return errors.Errorf(format, args...)
}

// Wrap annotates err with a message and a stack trace. Returns nil if err
// is nil. The message may be a printf format string.
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if len(args) == 0 {
		return errors.Wrap(err, format)
	}
	return errors.Wrapf(err, format, args...)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Cause returns the underlying cause of the error, if possible.
func Cause(err error) error {
	return errors.Cause(err)
}

// Sentinel is a constant-compatible error type for package-level sentinels.
type Sentinel string

func (s Sentinel) Error() string {
	return string(s)
}

var _ error = Sentinel("")

// Errorf mirrors fmt.Errorf but attaches a stack trace.
func Errorf(format string, args ...interface{}) error {
	return errors.Errorf(format, args...)
}

// Unwrap returns the result of calling the Unwrap method on err.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}

// WithMessage annotates err without capturing a new stack.
func WithMessage(err error, message string) error {
	return errors.WithMessage(err, message)
}
