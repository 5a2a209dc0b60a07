package domain

import (
	"errors"
	"fmt"
)

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}

// CorruptDataError is returned when a stored payload cannot be decoded.
type CorruptDataError struct {
	Key string
	Err error
}

func (e CorruptDataError) Error() string {
	return fmt.Sprintf("corrupt data at %s: %v", e.Key, e.Err)
}

func (e CorruptDataError) Unwrap() error {
	return e.Err
}

func (e CorruptDataError) Is(target error) bool {
	_, ok := target.(CorruptDataError)
	if ok {
		return true
	}
	_, ok = target.(*CorruptDataError)
	return ok
}

// ErrCorruptData is the sentinel for errors.Is matching.
var ErrCorruptData = CorruptDataError{}

// ValidationError reports a malformed request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Is(target error) bool {
	_, ok := target.(ValidationError)
	if ok {
		return true
	}
	_, ok = target.(*ValidationError)
	return ok
}

// ErrValidation is the sentinel for errors.Is matching.
var ErrValidation = ValidationError{}

var (
	// ErrStoreUnavailable wraps any backend/network failure.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrTimeout is returned when a store call exceeds its deadline.
	ErrTimeout = errors.New("store timeout")
	// ErrUnauthorized is returned whenever identity cannot be proven.
	ErrUnauthorized = errors.New("unauthorized")
)

// ErrNotSupported is returned when the configured backend cannot perform an operation.
var ErrNotSupported = errors.New("not supported by the configured backend")
