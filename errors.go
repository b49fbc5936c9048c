package detach

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Walk errors
	ErrDepthExceeded     = errors.New("recursion depth limit exceeded")
	ErrUnresolvableProxy = errors.New("lazy proxy could not be replaced")
	ErrReflectiveAccess  = errors.New("field or property could not be accessed")
	ErrDetachFailed      = errors.New("session detach failed")

	// Store errors
	ErrNotFound           = errors.New("object not found")
	ErrInvalidData        = errors.New("invalid data format")
	ErrBackendUnavailable = errors.New("backend unavailable")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// IsDepthExceeded checks if a walk was aborted by the depth guard
func IsDepthExceeded(err error) bool {
	return errors.Is(err, ErrDepthExceeded)
}

// IsNotFound checks if an error is a "not found" error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsBackendUnavailable checks if a backend could not be reached
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// IsInvalidConfig checks if an error was caused by bad configuration
func IsInvalidConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

// IsContained reports whether err is one of the conditions a walk logs and
// survives. Only a fatal depth error or a failed session detach ends a call.
func IsContained(err error) bool {
	return errors.Is(err, ErrUnresolvableProxy) || errors.Is(err, ErrReflectiveAccess)
}
