package http

import (
	"errors"
	"net/http"
)

// Error codes carried in AppError.Code. Validation failures use
// "ERR_" plus the upper-cased validator tag.
const (
	CodeBadRequest  = "ERR_BAD_REQUEST"
	CodeNotFound    = "ERR_NOT_FOUND"
	CodeConflict    = "ERR_CONFLICT"
	CodeUnavailable = "ERR_UNAVAILABLE"
	CodeInternal    = "ERR_INTERNAL"
	CodeUnknown     = "ERR_UNKNOWN"
)

// AppError is one entry of an error response body. Status picks the HTTP
// status and never reaches the wire.
type AppError struct {
	Code    string                 `json:"code"`
	Field   string                 `json:"field,omitempty"`
	Message string                 `json:"message"`
	Params  map[string]interface{} `json:"params,omitempty"`
	Status  int                    `json:"-"`
	Err     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// WithParam attaches a detail such as the offending pattern name.
func (e *AppError) WithParam(key string, value interface{}) *AppError {
	if e.Params == nil {
		e.Params = map[string]interface{}{}
	}
	e.Params[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

func newError(status int, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Status: status}
}

func BadRequestError(message string) *AppError {
	return newError(http.StatusBadRequest, CodeBadRequest, message)
}

func NotFoundError(message string) *AppError {
	return newError(http.StatusNotFound, CodeNotFound, message)
}

func ConflictError(message string) *AppError {
	return newError(http.StatusConflict, CodeConflict, message)
}

func UnavailableError(message string) *AppError {
	return newError(http.StatusServiceUnavailable, CodeUnavailable, message)
}

func InternalError(message string) *AppError {
	return newError(http.StatusInternalServerError, CodeInternal, message)
}

// StatusOf maps err to an HTTP status, 500 for anything that is not an
// AppError.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
