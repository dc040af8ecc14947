package faults

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType int

const (
	ErrNotFound ErrorType = iota
	ErrNoContext
	ErrEmptyGeneration
	ErrGenerationFailed
	ErrUpstreamUnavailable
	ErrPartialUnitFailure
	ErrValidation
	ErrStorage
	ErrUnknown
)

// Error is the typed error carried across the pipeline. Every user-visible
// failure must resolve to one of the ErrorType values above with a
// human-readable message attached.
type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(errorType ErrorType, format string, args ...any) *Error {
	return New(errorType, fmt.Sprintf(format, args...))
}

func Wrap(err error, errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   err,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrNotFound:
		return "NotFound"
	case ErrNoContext:
		return "NoContext"
	case ErrEmptyGeneration:
		return "EmptyGeneration"
	case ErrGenerationFailed:
		return "GenerationFailed"
	case ErrUpstreamUnavailable:
		return "UpstreamUnavailable"
	case ErrPartialUnitFailure:
		return "PartialUnitFailure"
	case ErrValidation:
		return "Validation"
	case ErrStorage:
		return "Storage"
	default:
		return "Unknown"
	}
}

// IsType reports whether err (or anything it wraps) is a faults.Error of the
// given type.
func IsType(err error, errorType ErrorType) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Type == errorType
	}
	return false
}
