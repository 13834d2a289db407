package common

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors. Template errors are kept distinct from image
// errors so callers can tell "bad template config" from "bad image".
var (
	ErrTemplateNotFound  = errors.New("template version not found")
	ErrTemplateMalformed = errors.New("template malformed")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrImageTooLarge     = errors.New("image exceeds size limit")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// HTTPStatus maps a pipeline error to the status code the API surfaces.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrTemplateMalformed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrUnsupportedFormat), errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrImageTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// ErrorCode returns the stable machine-readable code for an error.
func ErrorCode(err error) string {
	var app *AppError
	if errors.As(err, &app) {
		return app.Code
	}
	switch {
	case errors.Is(err, ErrTemplateNotFound):
		return "TEMPLATE_NOT_FOUND"
	case errors.Is(err, ErrTemplateMalformed):
		return "TEMPLATE_MALFORMED"
	case errors.Is(err, ErrUnsupportedFormat):
		return "UNSUPPORTED_FORMAT"
	case errors.Is(err, ErrImageTooLarge):
		return "IMAGE_TOO_LARGE"
	case errors.Is(err, ErrInvalidInput):
		return "INVALID_INPUT"
	default:
		return "INTERNAL"
	}
}
