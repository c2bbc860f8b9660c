package errs

import (
	"errors"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(Conflict, CodeConcurrencyConflict, "version mismatch")) {
		t.Fatal("Conflict should be retryable")
	}
	if !IsRetryable(New(Transient, "", "db timeout")) {
		t.Fatal("Transient should be retryable")
	}
	if IsRetryable(New(BusinessRule, CodeInsufficientStock, "not enough stock")) {
		t.Fatal("BusinessRule should not be retryable")
	}
	if IsRetryable(errors.New("plain error")) {
		t.Fatal("an uncategorized error should default to non-retryable (Fatal)")
	}
}

func TestIsBusinessError(t *testing.T) {
	if !IsBusinessError(New(BusinessRule, CodeInvalidTransition, "bad transition")) {
		t.Fatal("expected BusinessRule to be a business error")
	}
	if IsBusinessError(New(Transient, "", "timeout")) {
		t.Fatal("Transient must not be classified as a business error")
	}
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	wrapped := Wrap(Transient, "", "dial failed", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatal("expected errors.Is to see through the wrapped cause")
	}
}

func TestKindOfDefaultsToFatal(t *testing.T) {
	if KindOf(errors.New("nope")) != Fatal {
		t.Fatal("expected uncategorized error to classify as Fatal")
	}
}
