package errors

import (
	"errors"
	"fmt"
)

type ErrorType string

const (
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeStorage     ErrorType = "STORAGE"
	ErrorTypeConsistency ErrorType = "CONSISTENCY"
	ErrorTypeReplay      ErrorType = "REPLAY"
	ErrorTypeValidation  ErrorType = "VALIDATION"
)

type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
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

func NotFound(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeNotFound, Message: fmt.Sprintf(format, args...)}
}

func Storage(message string, err error) *Error {
	return &Error{Type: ErrorTypeStorage, Message: message, Err: err}
}

func Consistency(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeConsistency, Message: fmt.Sprintf(format, args...)}
}

func Replay(message string, err error) *Error {
	return &Error{Type: ErrorTypeReplay, Message: message, Err: err}
}

func Validation(format string, args ...any) *Error {
	return &Error{Type: ErrorTypeValidation, Message: fmt.Sprintf(format, args...)}
}

// IsType reports whether err or anything it wraps carries the given type.
func IsType(err error, t ErrorType) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Type == t {
			return true
		}
		err = e.Err
		if err == nil {
			return false
		}
	}
	return false
}

func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}
