package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Status  int            `json:"-"`
	Err     error          `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetails attaches structured details (conflicting trip id, minutes, ...)
func (e *AppError) WithDetails(details map[string]any) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// NewAppError creates a new AppError
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Common error constructors

// BadRequest creates a 400 validation error; never retried by clients
func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: message,
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

// NotFound creates a 404 error
func NotFound(message string, err error) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: message,
		Status:  http.StatusNotFound,
		Err:     err,
	}
}

// Conflict creates a 409 error with a structured reason code
func Conflict(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  http.StatusConflict,
		Err:     err,
	}
}

// Forbidden creates a 403 error
func Forbidden(message string, err error) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: message,
		Status:  http.StatusForbidden,
		Err:     err,
	}
}

// Internal creates a 500 error
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: message,
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

// Domain-specific errors

var (
	ErrTripNotFound    = NotFound("Trip not found", nil)
	ErrUserNotFound    = NotFound("User not found", nil)
	ErrVehicleNotFound = NotFound("Vehicle not found", nil)
	ErrRiderNotFound   = NotFound("Rider request not found", nil)

	// Schedule conflicts reject the input itself, so they are 400 despite
	// carrying a conflict reason code.
	ErrScheduleConflict  = NewAppError("SCHEDULE_CONFLICT", "Trip schedule conflicts with another commitment", http.StatusBadRequest, nil)
	ErrCapacityExceeded  = Conflict("CAPACITY_EXCEEDED", "Trip has no free seats left", nil)
	ErrDuplicateJoin     = Conflict("DUPLICATE_JOIN", "A join request for this trip already exists", nil)
	ErrInvalidTransition = Conflict("INVALID_TRANSITION", "Trip state does not allow this transition", nil)
	ErrTripNotEditable   = Conflict("TRIP_NOT_EDITABLE", "Trip has already started or ended", nil)

	// ErrConcurrencyConflict surfaces after the engine's single automatic
	// retry of a lost compare-and-swap; the caller should retry the request.
	ErrConcurrencyConflict = Conflict("CONCURRENCY_CONFLICT", "Trip was modified concurrently, please retry", nil)

	ErrWomenOnlyTrip = Forbidden("Trip is restricted to women", nil)
	ErrNotTripDriver = Forbidden("Only the trip driver may perform this action", nil)
)

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError attempts to convert an error to AppError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	// Return generic internal error if not an AppError
	return Internal("An unexpected error occurred", err)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
