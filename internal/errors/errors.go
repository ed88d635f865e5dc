package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a capture error code.
type ErrorCode string

const (
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"    // 400
	ErrNotFound          ErrorCode = "NOT_FOUND"          // 404
	ErrDuplicateID       ErrorCode = "DUPLICATE_ID"       // 409
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION" // 409
	ErrHashImmutable     ErrorCode = "HASH_IMMUTABLE"     // 409
	ErrHashNotFinalized  ErrorCode = "HASH_NOT_FINALIZED" // 422
	ErrCancelled         ErrorCode = "CANCELLED"          // 499
	ErrInternal          ErrorCode = "INTERNAL"           // 500
)

// CaptureError represents a structured error with code, status, and details.
type CaptureError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *CaptureError {
	return &CaptureError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when a capture cannot be found.
func NewNotFound(id string) *CaptureError {
	return &CaptureError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("capture not found: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewDuplicateID creates a 409 error for an id that already exists.
func NewDuplicateID(id string) *CaptureError {
	return &CaptureError{
		Code:    ErrDuplicateID,
		Status:  409,
		Message: fmt.Sprintf("capture id already exists: %s", id),
		Details: map[string]any{"id": id},
	}
}

// NewInvalidTransition creates a 409 error for an undeclared status edge.
func NewInvalidTransition(id string, from, to string) *CaptureError {
	return &CaptureError{
		Code:    ErrInvalidTransition,
		Status:  409,
		Message: fmt.Sprintf("capture %s cannot move from %s to %s", id, from, to),
		Details: map[string]any{"id": id, "from": from, "to": to},
	}
}

// NewHashImmutable creates a 409 error when a different hash is bound to a
// capture whose hash is already finalized.
func NewHashImmutable(id, existing, attempted string) *CaptureError {
	return &CaptureError{
		Code:    ErrHashImmutable,
		Status:  409,
		Message: fmt.Sprintf("capture %s already has finalized hash %s", id, existing),
		Details: map[string]any{"id": id, "existing": existing, "attempted": attempted},
	}
}

// NewHashNotFinalized creates a 422 error when an operation needs a bound hash.
func NewHashNotFinalized(id string) *CaptureError {
	return &CaptureError{
		Code:    ErrHashNotFinalized,
		Status:  422,
		Message: fmt.Sprintf("capture %s has no finalized content hash", id),
		Details: map[string]any{"id": id},
	}
}

// NewCancelled creates an error for an operation stopped by its context.
func NewCancelled(op string) *CaptureError {
	return &CaptureError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The cause is kept in Details for logging, not in the message.
func NewInternal(err error) *CaptureError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &CaptureError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error (or anything it wraps) is a CaptureError with the given code.
func Is(err error, code ErrorCode) bool {
	var cErr *CaptureError
	if stderrors.As(err, &cErr) {
		return cErr.Code == code
	}
	return false
}

// As is errors.As, re-exported so callers importing this package need not
// also import the standard errors package.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// IsContext reports whether err comes from context cancellation or a deadline.
func IsContext(err error) bool {
	return stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded)
}
