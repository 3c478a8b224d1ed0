package mqterrors

import (
	"errors"
	"fmt"
)

// ErrorType represents the type of pipeline error
type ErrorType string

const (
	// Per-message errors: the message is logged and dropped
	ErrorTypeMalformedPayload   ErrorType = "malformed_payload"
	ErrorTypeMissingSensorID    ErrorType = "missing_sensor_id"
	ErrorTypeInvalidTemperature ErrorType = "invalid_temperature"
	ErrorTypeInvalidTimestamp   ErrorType = "invalid_timestamp"

	// Store errors: the reading is buffered and the pipeline goes offline
	ErrorTypeStoreUnavailable ErrorType = "store_unavailable"
	ErrorTypeStoreError       ErrorType = "store_error"
)

// Error is a typed pipeline error
type Error struct {
	Type    ErrorType
	Message string
	err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.err
}

func newError(t ErrorType, msg string, err error) *Error {
	return &Error{Type: t, Message: msg, err: err}
}

// NewMalformedPayload creates a malformed payload error
func NewMalformedPayload(msg string, err error) *Error {
	return newError(ErrorTypeMalformedPayload, msg, err)
}

// NewMissingSensorID creates a missing sensor id error
func NewMissingSensorID(msg string, err error) *Error {
	return newError(ErrorTypeMissingSensorID, msg, err)
}

// NewInvalidTemperature creates an invalid temperature error
func NewInvalidTemperature(msg string, err error) *Error {
	return newError(ErrorTypeInvalidTemperature, msg, err)
}

// NewInvalidTimestamp creates an invalid timestamp error
func NewInvalidTimestamp(msg string, err error) *Error {
	return newError(ErrorTypeInvalidTimestamp, msg, err)
}

// NewStoreUnavailable creates a store unavailable error (connection-time failure)
func NewStoreUnavailable(msg string, err error) *Error {
	return newError(ErrorTypeStoreUnavailable, msg, err)
}

// NewStoreError creates a store error (driver failure after connecting)
func NewStoreError(msg string, err error) *Error {
	return newError(ErrorTypeStoreError, msg, err)
}

// TypeOf returns the ErrorType carried by err, or "" if err is not a pipeline error
func TypeOf(err error) ErrorType {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Type
	}
	return ""
}

// IsStoreUnavailable checks if an error is a StoreUnavailable error
func IsStoreUnavailable(err error) bool {
	return TypeOf(err) == ErrorTypeStoreUnavailable
}
