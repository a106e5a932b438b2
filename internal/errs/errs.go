package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error sentinel values
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("operation not allowed")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrConflict        = errors.New("resource conflict")
	ErrOperationFailed = errors.New("operation failed")
)

// ApiErr is an error with an HTTP status attached. It unwraps to one of the
// sentinels above, so errors.Is(err, ErrNotFound) works through any wrapping.
type ApiErr struct {
	StatusCode int
	err        error
	Details    string
	Field      string
	Cause      error
}

func (e *ApiErr) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.err.Error(), e.Details)
	}
	return e.err.Error()
}

// GetFullError returns the message including the cause chain.
func (e *ApiErr) GetFullError() string {
	msg := e.Error()
	if e.Cause != nil {
		var inner *ApiErr
		if errors.As(e.Cause, &inner) {
			return fmt.Sprintf("%s -> %s", msg, inner.GetFullError())
		}
		return fmt.Sprintf("%s -> %s", msg, e.Cause.Error())
	}
	return msg
}

func (e *ApiErr) Unwrap() error {
	return e.err
}

func NewNotFound(entity string) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusNotFound,
		err:        fmt.Errorf("%s %w", entity, ErrNotFound),
	}
}

func NewForbidden(message string) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusForbidden,
		err:        ErrForbidden,
		Details:    message,
	}
}

func NewMissingRequiredField(field string) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusBadRequest,
		err:        ErrInvalidRequest,
		Details:    fmt.Sprintf("missing required field: %s", field),
		Field:      field,
	}
}

func NewInvalidField(field, reason string) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusBadRequest,
		err:        ErrInvalidRequest,
		Details:    fmt.Sprintf("invalid field %s: %s", field, reason),
		Field:      field,
	}
}

func NewMalformedPayload(cause error) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusBadRequest,
		err:        ErrInvalidRequest,
		Details:    "malformed payload",
		Field:      "payload",
		Cause:      cause,
	}
}

func NewUnauthenticated(message string) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusUnauthorized,
		err:        ErrUnauthenticated,
		Details:    message,
	}
}

func NewConflict(message string) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusConflict,
		err:        ErrConflict,
		Details:    message,
	}
}

// NewOperationFailed hides a storage or driver failure behind a generic error.
func NewOperationFailed(operation string, cause error) *ApiErr {
	return &ApiErr{
		StatusCode: http.StatusInternalServerError,
		err:        ErrOperationFailed,
		Details:    operation,
		Cause:      cause,
	}
}

// IsKnown reports whether err already belongs to the taxonomy.
func IsKnown(err error) bool {
	var apiErr *ApiErr
	return errors.As(err, &apiErr)
}

// StatusCode maps any error onto an HTTP status.
func StatusCode(err error) int {
	var apiErr *ApiErr
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return http.StatusInternalServerError
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

func IsInvalidRequest(err error) bool {
	return errors.Is(err, ErrInvalidRequest)
}

func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
