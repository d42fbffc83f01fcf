package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the registry. Callers compare with errors.Is.
var (
	// ErrNotRegistered is returned when an unregistered principal attempts a gated mutation.
	ErrNotRegistered = errors.New("principal is not registered")
	// ErrAlreadyRegistered is returned on a duplicate registration.
	ErrAlreadyRegistered = errors.New("principal is already registered")
	// ErrFieldTooLarge is returned when a string or list exceeds its configured bound.
	ErrFieldTooLarge = errors.New("field exceeds configured bound")
	// ErrUnknownOperation is returned by dispatch for an unrecognised operation name.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrInvalidArguments is returned when call arguments cannot be decoded.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrIdentifierSpaceExhausted is returned when an allocator has issued every u32.
	ErrIdentifierSpaceExhausted = errors.New("identifier space exhausted")
	// ErrImageNotFound is returned when no image is stored for a content hash.
	ErrImageNotFound = errors.New("image not found")
)

// FieldTooLargeError names the field that exceeded its bound.
type FieldTooLargeError struct {
	Entity EntityType
	Field  string
	Length int
	Max    uint32
}

func (e *FieldTooLargeError) Error() string {
	return fmt.Sprintf("%s.%s: length %d exceeds maximum %d", e.Entity, e.Field, e.Length, e.Max)
}

// Unwrap exposes ErrFieldTooLarge to errors.Is.
func (e *FieldTooLargeError) Unwrap() error {
	return ErrFieldTooLarge
}
