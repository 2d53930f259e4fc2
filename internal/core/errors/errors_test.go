package errors

import (
	"errors"
	"testing"
)

func TestDomainError(t *testing.T) {
	t.Run("New", func(t *testing.T) {
		err := New(CodeNotFound, "node not found")
		if err.Error() != "[NOT_FOUND] node not found" {
			t.Errorf("expected [NOT_FOUND] node not found, got %s", err.Error())
		}
	})

	t.Run("Wrap", func(t *testing.T) {
		original := errors.New("original error")
		err := Wrap(original, CodeInternal, "internal failure")
		expected := "[INTERNAL_ERROR] internal failure: original error"
		if err.Error() != expected {
			t.Errorf("expected %s, got %s", expected, err.Error())
		}
	})

	t.Run("IsCode", func(t *testing.T) {
		err := New(CodeValidationError, "malformed structure id")
		if !IsCode(err, CodeValidationError) {
			t.Error("expected IsCode to return true for CodeValidationError")
		}
		if IsCode(err, CodeNotFound) {
			t.Error("expected IsCode to return false for CodeNotFound")
		}
	})

	t.Run("IsCodeWithWrapped", func(t *testing.T) {
		inner := New(CodeTransient, "provider unavailable")
		outer := AddContext(inner, CtxOperation, "load_children")
		if !IsCode(outer, CodeTransient) {
			t.Error("expected wrapped error to keep its code")
		}
		if !Retryable(outer) {
			t.Error("expected transient error to be retryable")
		}
	})

	t.Run("Constraint", func(t *testing.T) {
		err := Constraint("no-root-move")
		if !IsCode(err, CodeConstraintViolation) {
			t.Errorf("expected CONSTRAINT_VIOLATION, got %v", err)
		}
		var de *DomainError
		if !errors.As(err, &de) {
			t.Fatal("expected DomainError")
		}
		if de.Context[CtxRule] != "no-root-move" {
			t.Errorf("expected rule context, got %v", de.Context)
		}
	})

	t.Run("AddContextPlainError", func(t *testing.T) {
		err := AddContext(errors.New("boom"), CtxNode, "n42")
		var de *DomainError
		if !errors.As(err, &de) {
			t.Fatal("expected DomainError")
		}
		if de.Code != CodeInternal {
			t.Errorf("expected INTERNAL_ERROR, got %s", de.Code)
		}
	})
}
