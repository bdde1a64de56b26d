// Copyright 2026 © The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling for Loom. Every failure that
// crosses a package boundary carries an ErrorCode so transports can translate
// it without string matching.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode classifies Loom errors for translation and monitoring.
type ErrorCode string

const (
	// CodeInternal indicates a failure during reasoning or streaming. The
	// task state is uncertain and the caller should re-fetch it.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidParams indicates the invocation was malformed. No task was
	// created and no side effects occurred.
	CodeInvalidParams ErrorCode = "INVALID_PARAMS"

	// CodeUnsupportedOperation indicates a feature that is not implemented
	// for the current feature set. Not retryable.
	CodeUnsupportedOperation ErrorCode = "UNSUPPORTED_OPERATION"

	// CodeTaskNotFound indicates the referenced task does not exist.
	CodeTaskNotFound ErrorCode = "TASK_NOT_FOUND"

	// CodeTaskNotCancelable indicates the task is in a state that cannot
	// be cancelled.
	CodeTaskNotCancelable ErrorCode = "TASK_NOT_CANCELABLE"

	// CodePushNotSupported indicates push notifications are not configured.
	CodePushNotSupported ErrorCode = "PUSH_NOTIFICATION_NOT_SUPPORTED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeMemoryError indicates a vector/memory backend error.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"
)

// LoomError is a typed error with structured context. It implements the error
// interface and can be unwrapped with errors.As().
type LoomError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *LoomError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *LoomError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *LoomError) MarshalJSON() ([]byte, error) {
	payload := struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		Err         string         `json:"error,omitempty"`
		Context     map[string]any `json:"context,omitempty"`
		Recoverable bool           `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		payload.Err = e.Err.Error()
	}
	return json.Marshal(payload)
}

// New creates a new LoomError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *LoomError {
	return &LoomError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]any),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *LoomError) WithContext(key string, value any) *LoomError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *LoomError) WithRecoverable(recoverable bool) *LoomError {
	e.Recoverable = recoverable
	return e
}

// AsLoomError converts an error to a LoomError. Unclassified errors are
// wrapped as CodeInternal: nothing propagates as an unclassified fault.
func AsLoomError(err error) *LoomError {
	if err == nil {
		return nil
	}
	var le *LoomError
	if errors.As(err, &le) {
		return le
	}
	return New(CodeInternal, "internal error", err)
}

// CodeOf returns the ErrorCode of err, funneling unclassified errors to
// CodeInternal. Returns "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return AsLoomError(err).Code
}
