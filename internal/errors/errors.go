// Package errors maps player and source failures onto typed API errors for
// the control server.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType is the machine readable kind reported to API clients.
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound     ErrorType = "NOT_FOUND"
	ErrorTypeInternal     ErrorType = "INTERNAL_ERROR"
	ErrorTypeConflict     ErrorType = "CONFLICT"
	ErrorTypeTimeout      ErrorType = "TIMEOUT"
	ErrorTypeDevice       ErrorType = "DEVICE_ERROR"
	ErrorTypeInvalidState ErrorType = "INVALID_STATE"
	ErrorTypeClosed       ErrorType = "CLOSED"
)

// AppError is an error that knows how it is presented over HTTP.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return string(e.Type) + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

func New(errType ErrorType, message string, httpStatus int) *AppError {
	return Wrap(nil, errType, message, httpStatus)
}

// Wrap attaches presentation to err. err stays reachable with errors.Is.
func Wrap(err error, errType ErrorType, message string, httpStatus int) *AppError {
	return &AppError{Type: errType, Message: message, HTTPStatus: httpStatus, Err: err}
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, resource+" not found", http.StatusNotFound)
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message, http.StatusInternalServerError)
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message, http.StatusConflict)
}

// NewInvalidStateError reports an operation the session cannot perform in
// its current state, e.g. seeking before the source is open.
func NewInvalidStateError(message string) *AppError {
	return New(ErrorTypeInvalidState, message, http.StatusConflict)
}

// NewClosedError reports an operation on a closed session.
func NewClosedError() *AppError {
	return New(ErrorTypeClosed, "playback session is closed", http.StatusGone)
}

// Rule maps every error matching Target (errors.Is) to an AppError. An
// empty Message keeps the text of the matched error.
type Rule struct {
	Target  error
	Type    ErrorType
	Status  int
	Message string
}

func (r Rule) apply(err error) *AppError {
	msg := r.Message
	if msg == "" {
		msg = err.Error()
	}
	return Wrap(err, r.Type, msg, r.Status)
}

// Classify converts err using the first matching rule. AppErrors pass
// through unchanged and unmatched errors become internal errors.
func Classify(err error, rules []Rule) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := GetAppError(err); ok {
		return appErr
	}
	for _, r := range rules {
		if errors.Is(err, r.Target) {
			return r.apply(err)
		}
	}
	return Wrap(err, ErrorTypeInternal, "An unexpected error occurred", http.StatusInternalServerError)
}

func IsAppError(err error) bool {
	_, ok := GetAppError(err)
	return ok
}

// GetAppError finds the outermost AppError in err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
