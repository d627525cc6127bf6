package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type AppErrorType string

const (
	ValidationError    AppErrorType = "VALIDATION_ERROR"
	MissingAPIKeyError AppErrorType = "MISSING_API_KEY"
	InvalidAPIKeyError AppErrorType = "INVALID_API_KEY"
	IngestionError     AppErrorType = "INGESTION_ERROR"
	NotFoundError      AppErrorType = "NOT_FOUND_ERROR"
	ConflictError      AppErrorType = "CONFLICT_ERROR"
	ForbiddenError     AppErrorType = "FORBIDDEN_ERROR"
	InternalError      AppErrorType = "INTERNAL_ERROR"
	BadRequestError    AppErrorType = "BAD_REQUEST_ERROR"
	ServiceUnavailable AppErrorType = "SERVICE_UNAVAILABLE_ERROR"
	RateLimitError     AppErrorType = "RATE_LIMIT_ERROR"
)

type AppError struct {
	Err        error        `json:"-"`
	Type       AppErrorType `json:"type"`
	Message    string       `json:"message"`
	Details    string       `json:"details,omitempty"`
	StatusCode int          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s - %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(errorType AppErrorType, message, details string, err error) *AppError {
	appErr := &AppError{
		Type:    errorType,
		Message: message,
		Details: details,
		Err:     err,
	}

	switch errorType {
	case ValidationError, BadRequestError:
		appErr.StatusCode = http.StatusBadRequest
	case MissingAPIKeyError, InvalidAPIKeyError:
		appErr.StatusCode = http.StatusUnauthorized
	case NotFoundError:
		appErr.StatusCode = http.StatusNotFound
	case ConflictError:
		appErr.StatusCode = http.StatusConflict
	case ForbiddenError:
		appErr.StatusCode = http.StatusForbidden
	case ServiceUnavailable:
		appErr.StatusCode = http.StatusServiceUnavailable
	case RateLimitError:
		appErr.StatusCode = http.StatusTooManyRequests
	case IngestionError:
		appErr.StatusCode = http.StatusInternalServerError
	default:
		appErr.StatusCode = http.StatusInternalServerError
	}

	return appErr
}

func NewValidationError(message, details string) *AppError {
	return NewAppError(ValidationError, message, details, nil)
}

func NewMissingAPIKeyError() *AppError {
	return NewAppError(MissingAPIKeyError, "API key required", "", nil)
}

func NewInvalidAPIKeyError(details string) *AppError {
	return NewAppError(InvalidAPIKeyError, "invalid or revoked API key", details, nil)
}

func NewIngestionError(message string, err error) *AppError {
	return NewAppError(IngestionError, message, "", err)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(NotFoundError, resource+" not found", "", nil)
}

func NewConflictError(message string) *AppError {
	return NewAppError(ConflictError, message, "", nil)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(ForbiddenError, message, "", nil)
}

func NewBadRequestError(message, details string) *AppError {
	return NewAppError(BadRequestError, message, details, nil)
}

func NewInternalError(message string, err error) *AppError {
	return NewAppError(InternalError, message, "", err)
}

func NewServiceUnavailableError(message string) *AppError {
	return NewAppError(ServiceUnavailable, message, "", nil)
}

func NewRateLimitError(message string) *AppError {
	return NewAppError(RateLimitError, message, "", nil)
}

func IsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

func GetStatusCode(err error) int {
	if appErr, ok := IsAppError(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func GetErrorType(err error) AppErrorType {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Type
	}
	return InternalError
}

func IsNotFound(err error) bool {
	if appErr, ok := IsAppError(err); ok {
		return appErr.Type == NotFoundError
	}
	return false
}

func WrapValidationError(err error, message string) *AppError {
	return NewAppError(ValidationError, message, err.Error(), err)
}

func WrapInternalError(err error, message string) *AppError {
	return NewAppError(InternalError, message, "", err)
}
