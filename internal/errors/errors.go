package errors

import "fmt"

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound         ErrCode = "NOT_FOUND"
	ErrCodeBadRequest       ErrCode = "BAD_REQUEST"
	ErrCodeInternal         ErrCode = "INTERNAL_ERROR"
	ErrCodeConfiguration    ErrCode = "CONFIGURATION_ERROR"
	ErrCodeRemote           ErrCode = "REMOTE_ERROR"
	ErrCodeExhaustedRetries ErrCode = "EXHAUSTED_RETRIES"
	ErrCodePersistence      ErrCode = "PERSISTENCE_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewConfigurationError creates an error for invalid construction parameters.
// Configuration errors are fatal to a batch; it must not start.
func NewConfigurationError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConfiguration,
		Message: message,
	}
}

// NewRemoteError wraps a failure raised by a GitLab API call
func NewRemoteError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeRemote,
		Message: message,
		Err:     err,
	}
}

// NewExhaustedRetriesError is surfaced once retries are exhausted for one
// operation. The operation name and attempt count are kept for diagnostics;
// the last underlying error is wrapped, never swallowed.
func NewExhaustedRetriesError(operation string, attempts int, err error) *AppError {
	return &AppError{
		Code:    ErrCodeExhaustedRetries,
		Message: fmt.Sprintf("%s failed after %d attempts", operation, attempts),
		Err:     err,
	}
}

// NewPersistenceError wraps a failure during a database transaction
func NewPersistenceError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodePersistence,
		Message: message,
		Err:     err,
	}
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == ErrCodeNotFound
	}
	return false
}

// IsConfiguration checks if the error is a configuration error
func IsConfiguration(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == ErrCodeConfiguration
	}
	return false
}

// IsExhaustedRetries checks if the error reports exhausted retries
func IsExhaustedRetries(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == ErrCodeExhaustedRetries
	}
	return false
}

// IsPersistence checks if the error is a persistence error
func IsPersistence(err error) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == ErrCodePersistence
	}
	return false
}
