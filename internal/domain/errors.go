package domain

import (
	"fmt"
)

// Error is the error type returned across the SDK boundary. Two errors are
// considered the same kind when their codes match, so errors.Is keeps working
// on copies produced by WithError.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) WithError(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Pre-defined errors
var (
	ErrConfiguration = &Error{
		Code:    "CONFIGURATION_ERROR",
		Message: "Invalid SDK configuration",
	}

	ErrInitialization = &Error{
		Code:    "INITIALIZATION_ERROR",
		Message: "Failed to initialize Neptune SDK",
	}

	ErrIO = &Error{
		Code:    "IO_ERROR",
		Message: "Failed to stage model asset",
	}

	ErrUseAfterRelease = &Error{
		Code:    "USE_AFTER_RELEASE",
		Message: "Engine handle has already been released",
	}

	ErrInvalidBuffer = &Error{
		Code:    "INVALID_BUFFER",
		Message: "Pixel buffer length does not match image dimensions",
	}

	ErrEngine = &Error{
		Code:    "ENGINE_ERROR",
		Message: "Engine failed to process image",
	}
)
