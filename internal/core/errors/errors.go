package errors

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeValidationError     ErrorCode = "VALIDATION_ERROR"
	CodeConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"
	CodeConflict            ErrorCode = "CONFLICT"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
	CodePermissionDenied    ErrorCode = "PERMISSION_DENIED"
	CodeTransient           ErrorCode = "TRANSIENT"
	CodeTimeout             ErrorCode = "TIMEOUT"
)

type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
	Context map[string]interface{}
}

const (
	CtxNode      = "node"
	CtxOperation = "operation"
	CtxRule      = "rule"
	CtxRequest   = "request"
)

func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Context) > 0 {
		msg += fmt.Sprintf(" %v", e.Context)
	}
	return msg
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func New(code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg}
}

func Wrap(err error, code ErrorCode, msg string) error {
	return &DomainError{Code: code, Message: msg, Err: err}
}

// Constraint builds the error for a named drag-drop rule failure.
// The message is derived from the rule name so callers can surface it directly.
func Constraint(rule string) error {
	e := &DomainError{Code: CodeConstraintViolation, Message: fmt.Sprintf("constraint %q not satisfied", rule)}
	return e.WithContext(CtxRule, rule)
}

func AddContext(err error, key string, value interface{}) error {
	var de *DomainError
	if errors.As(err, &de) {
		de.WithContext(key, value)
		return de
	}
	return &DomainError{
		Code:    CodeInternal,
		Message: "wrapped error",
		Err:     err,
		Context: map[string]interface{}{key: value},
	}
}

func IsCode(err error, code ErrorCode) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Retryable reports whether the error is worth retrying with backoff.
func Retryable(err error) bool {
	return IsCode(err, CodeTransient)
}
