package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes shared by the service layer and the HTTP surface.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeForbidden      = "FORBIDDEN"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodePartialFailure = "PARTIAL_FAILURE"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_ERROR"
)

// Localization keys attached to errors the UI shows inline.
const (
	KeyEmptyContent            = "emptyContent"
	KeyMissingName             = "missingGroupName"
	KeyInvalidParticipantCount = "invalidParticipantCount"
	KeyDuplicateRequest        = "duplicateRequest"
	KeyErrorSendMessage        = "errorSendMessage"
	KeyPrivateConversation     = "privateConversation"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Key     string `json:"key,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	// Key is an optional localization key for UI presentation.
	Key string
	Err error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithKey returns a copy of the error carrying the given localization key.
func (e *AppError) WithKey(key string) *AppError {
	cp := *e
	cp.Key = key
	return &cp
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    CodeValidation,
		Message: message,
	}
}

func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    CodeUnauthorized,
		Message: message,
	}
}

// NewForbiddenError never carries the reason; callers log it instead.
func NewForbiddenError() *AppError {
	return &AppError{
		Code:    CodeForbidden,
		Message: "Operation not permitted",
	}
}

func NewConflictError(message string) *AppError {
	return &AppError{
		Code:    CodeConflict,
		Message: message,
	}
}

func NewPartialFailureError(message string, err error) *AppError {
	return &AppError{
		Code:    CodePartialFailure,
		Message: message,
		Err:     err,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// IsCode reports whether err is an AppError with the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// StatusFor maps an error to the HTTP status the API responds with.
func StatusFor(err error) int {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case CodeValidation:
		return fiber.StatusBadRequest
	case CodeUnauthorized:
		return fiber.StatusUnauthorized
	case CodeForbidden:
		return fiber.StatusForbidden
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeConflict:
		return fiber.StatusConflict
	case CodeRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// NewErrorResponse builds the JSON error body for err as sent with status.
func NewErrorResponse(err error, status int) ErrorResponse {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return ErrorResponse{
			Error: "Internal server error",
			Code:  CodeInternal,
		}
	}
	response := ErrorResponse{
		Error: appErr.Message,
		Code:  appErr.Code,
		Key:   appErr.Key,
	}
	// Internal causes stay in the logs.
	if appErr.Err != nil && status < fiber.StatusInternalServerError && status != fiber.StatusForbidden {
		response.Details = appErr.Err.Error()
	}
	return response
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	return c.Status(status).JSON(NewErrorResponse(err, status))
}

// RespondWithAppError picks the status from the error itself.
func RespondWithAppError(c *fiber.Ctx, err error) error {
	return RespondWithError(c, StatusFor(err), err)
}
