package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error kinds.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrBadRequest    = errors.New("bad request")
	ErrConflict      = errors.New("resource conflict")
	ErrInternal      = errors.New("internal error")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrTransient     = errors.New("transient upstream failure")
)

// HFCode is the HuggingFace-compatible error code carried in the
// X-Error-Code response header.
type HFCode string

const (
	CodeRepoNotFound     HFCode = "RepoNotFound"
	CodeRepoExists       HFCode = "RepoExists"
	CodeRevisionNotFound HFCode = "RevisionNotFound"
	CodeEntryNotFound    HFCode = "EntryNotFound"
	CodeGatedRepo        HFCode = "GatedRepo"
	CodeBadRequest       HFCode = "BadRequest"
	CodeServerError      HFCode = "ServerError"
)

// AppError represents an application error with HTTP status and HF error code.
type AppError struct {
	Code       HFCode `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new application error.
func NewAppError(code HFCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// RepoNotFound creates an HF RepoNotFound error. Also used to mask private
// repositories from anonymous callers.
func RepoNotFound(repoID string) *AppError {
	return &AppError{
		Code:       CodeRepoNotFound,
		Message:    fmt.Sprintf("Repository %s not found", repoID),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// RepoExists creates an HF RepoExists error.
func RepoExists(repoID string) *AppError {
	return &AppError{
		Code:       CodeRepoExists,
		Message:    fmt.Sprintf("Repository %s already exists", repoID),
		StatusCode: http.StatusBadRequest,
		Err:        ErrConflict,
	}
}

// RevisionNotFound creates an HF RevisionNotFound error.
func RevisionNotFound(revision string) *AppError {
	return &AppError{
		Code:       CodeRevisionNotFound,
		Message:    fmt.Sprintf("Revision %s not found", revision),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// EntryNotFound creates an HF EntryNotFound error.
func EntryNotFound(path string) *AppError {
	return &AppError{
		Code:       CodeEntryNotFound,
		Message:    fmt.Sprintf("Entry %s not found", path),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// GatedRepo creates an HF GatedRepo error.
func GatedRepo(repoID string) *AppError {
	return &AppError{
		Code:       CodeGatedRepo,
		Message:    fmt.Sprintf("Access to repository %s is restricted", repoID),
		StatusCode: http.StatusForbidden,
		Err:        ErrForbidden,
	}
}

// Forbidden creates a 403 for authenticated callers lacking rights.
func Forbidden(message string) *AppError {
	if message == "" {
		message = "access denied"
	}
	return &AppError{
		Code:       CodeRepoNotFound,
		Message:    message,
		StatusCode: http.StatusForbidden,
		Err:        ErrForbidden,
	}
}

// Unauthorized creates a 401 error.
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return &AppError{
		Code:       CodeBadRequest,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// BadRequest creates an HF BadRequest error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       CodeBadRequest,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Err:        ErrBadRequest,
	}
}

// Conflict creates a 409 error (name collision, concurrent commit).
func Conflict(message string) *AppError {
	return &AppError{
		Code:       CodeBadRequest,
		Message:    message,
		StatusCode: http.StatusConflict,
		Err:        ErrConflict,
	}
}

// QuotaExceeded creates a 413 error. The HF client keys off the BadRequest
// code; the message carries the quota detail.
func QuotaExceeded(message string) *AppError {
	return &AppError{
		Code:       CodeBadRequest,
		Message:    message,
		StatusCode: http.StatusRequestEntityTooLarge,
		Err:        ErrQuotaExceeded,
	}
}

// Internal creates an HF ServerError.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       CodeServerError,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// Upstream creates a 502 for exhausted transient retries. The cause stays
// wrapped alongside ErrTransient so callers can still match it with errors.Is.
func Upstream(message string, err error) *AppError {
	cause := error(ErrTransient)
	if err != nil {
		cause = fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return &AppError{
		Code:       CodeServerError,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Err:        cause,
	}
}

// AsAppError extracts an AppError, wrapping unknown errors as internal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal server error", err)
}

// GetStatusCode returns the appropriate HTTP status code for an error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrQuotaExceeded):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
