package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "VALIDATION_ERROR"
	ErrorTypeConfiguration ErrorType = "CONFIGURATION_ERROR"
	ErrorTypeInput         ErrorType = "INPUT_ERROR"
	ErrorTypeOCR           ErrorType = "OCR_ERROR"
	ErrorTypeAssembly      ErrorType = "ASSEMBLY_ERROR"
	ErrorTypeConflict      ErrorType = "CONFLICT"
	ErrorTypeNetwork       ErrorType = "NETWORK_ERROR"
	ErrorTypeTimeout       ErrorType = "TIMEOUT_ERROR"
	ErrorTypeNotFound      ErrorType = "NOT_FOUND"
	ErrorTypeInternal      ErrorType = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	Stage      string    `json:"stage,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	prefix := string(e.Type)
	if e.Stage != "" {
		prefix = fmt.Sprintf("%s [%s]", e.Type, e.Stage)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithStage returns a copy of the error tagged with the pipeline stage it came from.
func (e *AppError) WithStage(stage string) *AppError {
	cp := *e
	cp.Stage = stage
	return &cp
}

// WithDetails returns a copy of the error carrying extra detail text.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

func newError(t ErrorType, status int, message string, cause error) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message, cause)
}

// NewConfigurationError is returned for invalid job option combinations.
// Jobs rejected with it never start processing.
func NewConfigurationError(message string, cause error) *AppError {
	return newError(ErrorTypeConfiguration, http.StatusBadRequest, message, cause)
}

// NewInputError creates an error for undecodable pages or unsupported sources
func NewInputError(message string, cause error) *AppError {
	return newError(ErrorTypeInput, http.StatusUnprocessableEntity, message, cause)
}

// NewOCRError creates a new text recognition error
func NewOCRError(message string, cause error) *AppError {
	return newError(ErrorTypeOCR, http.StatusBadGateway, message, cause)
}

// NewAssemblyError creates an error for failures writing page artifacts or the merged document
func NewAssemblyError(message string, cause error) *AppError {
	return newError(ErrorTypeAssembly, http.StatusInternalServerError, message, cause)
}

// NewConflictError creates an error for operations not allowed in the current job state
func NewConflictError(message string, cause error) *AppError {
	return newError(ErrorTypeConflict, http.StatusConflict, message, cause)
}

// NewNetworkError creates a new network error
func NewNetworkError(message string, cause error) *AppError {
	return newError(ErrorTypeNetwork, http.StatusBadGateway, message, cause)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *AppError {
	return newError(ErrorTypeTimeout, http.StatusGatewayTimeout, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message, cause)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, cause error) *AppError {
	return newError(ErrorTypeNotFound, http.StatusNotFound, message, cause)
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
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
