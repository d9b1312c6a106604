// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/segment-viewer/backend/internal/flow"
	"github.com/segment-viewer/backend/internal/models"
	"github.com/segment-viewer/backend/internal/session"
	"github.com/segment-viewer/backend/internal/storage"
	"github.com/segment-viewer/backend/internal/viewer"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// showDetails controls whether unexpected errors expose their text.
var showDetails = true

// SetDevelopment toggles detailed error output for unexpected errors.
func SetDevelopment(dev bool) {
	showDetails = dev
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewUploadError creates a 422 for a rejected file, keeping the user-facing
// message and advice.
func NewUploadError(ue *models.UploadError) *APIError {
	code := "UPLOAD_ERROR"
	switch ue.Kind {
	case models.UploadErrorSize:
		code = "UPLOAD_SIZE"
	case models.UploadErrorFormat:
		code = "UPLOAD_FORMAT"
	}
	return &APIError{
		Status:  http.StatusUnprocessableEntity,
		Code:    code,
		Message: ue.Message,
		Details: ue.Details,
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewConflictError creates a 409 Conflict error
func NewConflictError(message string) *APIError {
	return &APIError{
		Status:  http.StatusConflict,
		Code:    "CONFLICT",
		Message: message,
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// toAPIError maps domain errors onto the HTTP taxonomy.
func toAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var ue *models.UploadError
	if errors.As(err, &ue) {
		return NewUploadError(ue)
	}

	switch {
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, flow.ErrClosed):
		return &APIError{Status: http.StatusNotFound, Code: "SESSION_NOT_FOUND", Message: err.Error()}
	case errors.Is(err, storage.ErrHandleNotFound):
		return &APIError{Status: http.StatusNotFound, Code: "HANDLE_NOT_FOUND", Message: err.Error()}
	case errors.Is(err, session.ErrTooManySessions):
		return NewServiceUnavailableError(err.Error())
	case errors.Is(err, flow.ErrInvalidTransition):
		return &APIError{Status: http.StatusConflict, Code: "INVALID_TRANSITION", Message: err.Error()}
	case errors.Is(err, flow.ErrUnknownTier):
		return &APIError{Status: http.StatusBadRequest, Code: "UNKNOWN_TIER", Message: err.Error()}
	case errors.Is(err, viewer.ErrInvalidMode):
		return &APIError{Status: http.StatusBadRequest, Code: "INVALID_MODE", Message: err.Error()}
	case errors.Is(err, viewer.ErrNotBound),
		errors.Is(err, viewer.ErrBlendNotReady),
		errors.Is(err, viewer.ErrNotBlendMode):
		return NewConflictError(err.Error())
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return &APIError{
			Status:  he.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", he.Message),
		}
	}

	apiErr = &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "UNKNOWN_ERROR",
		Message: "An unexpected error occurred",
	}
	if showDetails {
		apiErr.Details = err.Error()
	}
	return apiErr
}

// ErrorHandler middleware for Echo
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	apiErr := toAPIError(err)
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(apiErr.Status)
		return
	}
	_ = c.JSON(apiErr.Status, apiErr)
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
