package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeDecode      ErrorType = "decode"
	ErrorTypePreprocess  ErrorType = "preprocess"
	ErrorTypeInference   ErrorType = "inference"
	ErrorTypeLabelLookup ErrorType = "label_lookup"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypeCanceled    ErrorType = "canceled"
	ErrorTypeStartup     ErrorType = "startup"
	ErrorTypeInternal    ErrorType = "internal"
)

// StatusClientClosedRequest is reported when the caller goes away mid-request.
const StatusClientClosedRequest = 499

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Stage      string    `json:"stage,omitempty"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithStage records the pipeline stage the error surfaced in.
func (e *AppError) WithStage(stage string) *AppError {
	e.Stage = stage
	return e
}

// IsClientError reports whether the caller's input caused the failure.
func (e *AppError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500
}

func newAppError(t ErrorType, status int, message string, cause error) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return newAppError(ErrorTypeValidation, http.StatusBadRequest, message, cause)
}

// NewDecodeError creates an error for payloads that are not valid base64 or not an image
func NewDecodeError(message string, cause error) *AppError {
	return newAppError(ErrorTypeDecode, http.StatusBadRequest, message, cause)
}

// NewPreprocessError creates an error for images the preprocessor cannot handle
func NewPreprocessError(message string, cause error) *AppError {
	return newAppError(ErrorTypePreprocess, http.StatusUnprocessableEntity, message, cause)
}

// NewInferenceError creates an error for tensor/model contract violations
func NewInferenceError(message string, cause error) *AppError {
	return newAppError(ErrorTypeInference, http.StatusInternalServerError, message, cause)
}

// NewLabelLookupError creates an error for class indices outside the label table
func NewLabelLookupError(message string, cause error) *AppError {
	return newAppError(ErrorTypeLabelLookup, http.StatusInternalServerError, message, cause)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *AppError {
	return newAppError(ErrorTypeTimeout, http.StatusGatewayTimeout, message, cause)
}

// NewCanceledError creates an error for requests abandoned by the caller
func NewCanceledError(message string, cause error) *AppError {
	return newAppError(ErrorTypeCanceled, StatusClientClosedRequest, message, cause)
}

// NewStartupError creates an error for missing or incompatible model artifacts.
// These are fatal: the process must not serve requests.
func NewStartupError(message string, cause error) *AppError {
	return newAppError(ErrorTypeStartup, http.StatusServiceUnavailable, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return newAppError(ErrorTypeInternal, http.StatusInternalServerError, message, cause)
}

// As extracts the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := As(err); ok {
		return appErr.Type == errorType
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
