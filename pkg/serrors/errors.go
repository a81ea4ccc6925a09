package serrors

import (
	"errors"
	"fmt"
)

// BaseError is the coded error carried across layers. Code is a stable
// machine-readable kind; LocaleKey is an optional translation key for the
// presentation layer.
type BaseError struct {
	Code      string
	Message   string
	LocaleKey string
	Cause     error
}

func NewError(code, message, localeKey string) *BaseError {
	return &BaseError{Code: code, Message: message, LocaleKey: localeKey}
}

func Wrap(code, message string, cause error) *BaseError {
	return &BaseError{Code: code, Message: message, Cause: cause}
}

func (e *BaseError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *BaseError) Unwrap() error { return e.Cause }

// Is matches on Code so sentinel comparisons survive wrapping.
func (e *BaseError) Is(target error) bool {
	var other *BaseError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// Code extracts the machine-readable code from err, or "" when err carries none.
func Code(err error) string {
	var base *BaseError
	if errors.As(err, &base) {
		return base.Code
	}
	return ""
}

func IsCode(err error, code string) bool {
	return Code(err) == code
}
