package errors

import (
	"context"
	"fmt"
	"testing"
)

func TestCaptureError_Error(t *testing.T) {
	err := &CaptureError{
		Code:    ErrNotFound,
		Status:  404,
		Message: "capture not found",
	}

	expected := "NOT_FOUND: capture not found"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewInvalidRequest(t *testing.T) {
	err := NewInvalidRequest("content is required")

	if err.Code != ErrInvalidRequest {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidRequest)
	}
	if err.Status != 400 {
		t.Errorf("Status = %d, want 400", err.Status)
	}
	if err.Message != "content is required" {
		t.Errorf("Message = %q, want %q", err.Message, "content is required")
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("01ARZ3")

	if err.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", err.Code, ErrNotFound)
	}
	if err.Status != 404 {
		t.Errorf("Status = %d, want 404", err.Status)
	}
	if err.Details["id"] != "01ARZ3" {
		t.Errorf("Details[id] = %v, want %q", err.Details["id"], "01ARZ3")
	}
}

func TestNewDuplicateID(t *testing.T) {
	err := NewDuplicateID("01ARZ3")

	if err.Code != ErrDuplicateID {
		t.Errorf("Code = %q, want %q", err.Code, ErrDuplicateID)
	}
	if err.Status != 409 {
		t.Errorf("Status = %d, want 409", err.Status)
	}
}

func TestNewInvalidTransition(t *testing.T) {
	err := NewInvalidTransition("01ARZ3", "exported", "staged")

	if err.Code != ErrInvalidTransition {
		t.Errorf("Code = %q, want %q", err.Code, ErrInvalidTransition)
	}
	if err.Details["from"] != "exported" || err.Details["to"] != "staged" {
		t.Errorf("Details = %v, want from=exported to=staged", err.Details)
	}
}

func TestNewHashImmutable(t *testing.T) {
	err := NewHashImmutable("01ARZ3", "aa", "bb")

	if err.Code != ErrHashImmutable {
		t.Errorf("Code = %q, want %q", err.Code, ErrHashImmutable)
	}
	if err.Details["attempted"] != "bb" {
		t.Errorf("Details[attempted] = %v, want bb", err.Details["attempted"])
	}
}

func TestNewInternal(t *testing.T) {
	t.Run("with error", func(t *testing.T) {
		err := NewInternal(fmt.Errorf("database connection failed"))

		if err.Code != ErrInternal {
			t.Errorf("Code = %q, want %q", err.Code, ErrInternal)
		}
		if err.Status != 500 {
			t.Errorf("Status = %d, want 500", err.Status)
		}
		if err.Message != "an internal error occurred" {
			t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
		}
		if err.Details["internal_error"] != "database connection failed" {
			t.Errorf("Details[internal_error] = %q, want %q", err.Details["internal_error"], "database connection failed")
		}
	})

	t.Run("with nil", func(t *testing.T) {
		err := NewInternal(nil)
		if err.Details == nil {
			t.Error("Details should not be nil")
		}
	})
}

func TestIs(t *testing.T) {
	t.Run("matching code", func(t *testing.T) {
		if !Is(NewNotFound("x"), ErrNotFound) {
			t.Error("Is() = false, want true")
		}
	})

	t.Run("non-matching code", func(t *testing.T) {
		if Is(NewNotFound("x"), ErrDuplicateID) {
			t.Error("Is() = true, want false")
		}
	})

	t.Run("plain error", func(t *testing.T) {
		if Is(fmt.Errorf("plain error"), ErrNotFound) {
			t.Error("Is() = true, want false for non-CaptureError")
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		wrapped := fmt.Errorf("transition: %w", NewInvalidTransition("x", "a", "b"))
		if !Is(wrapped, ErrInvalidTransition) {
			t.Error("Is() = false, want true for wrapped CaptureError")
		}
	})
}

func TestIsContext(t *testing.T) {
	if !IsContext(fmt.Errorf("op: %w", context.Canceled)) {
		t.Error("IsContext(canceled) = false, want true")
	}
	if !IsContext(context.DeadlineExceeded) {
		t.Error("IsContext(deadline) = false, want true")
	}
	if IsContext(NewInternal(nil)) {
		t.Error("IsContext(internal) = true, want false")
	}
}
