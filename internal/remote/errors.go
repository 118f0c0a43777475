package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode categorizes remote failures.
type ErrorCode string

const (
	// ErrCodeTransport indicates the request never produced a response.
	ErrCodeTransport ErrorCode = "TRANSPORT"

	// ErrCodeStatus indicates a non-2xx response.
	ErrCodeStatus ErrorCode = "STATUS"

	// ErrCodeDecode indicates a 2xx response with an unreadable body.
	ErrCodeDecode ErrorCode = "DECODE"

	// ErrCodeAnonymous indicates a call attempted without a server identity.
	ErrCodeAnonymous ErrorCode = "ANONYMOUS"
)

// Error is a failed call to the Remote Progress Service.
type Error struct {
	Code ErrorCode

	// Op names the service operation, e.g. "record_time".
	Op string

	// Status is the HTTP status for ErrCodeStatus.
	Status int

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("%s: %s: status %d", e.Code, e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Op)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether retrying the same call may succeed.
// Transport errors, 5xx and 429 are transient; other statuses are not.
func IsTransient(err error) bool {
	var re *Error
	if !errors.As(err, &re) {
		return false
	}
	switch re.Code {
	case ErrCodeTransport:
		return true
	case ErrCodeStatus:
		return re.Status >= http.StatusInternalServerError || re.Status == http.StatusTooManyRequests
	default:
		return false
	}
}

// IsStatus reports whether err is a remote error with the given HTTP status.
func IsStatus(err error, status int) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Code == ErrCodeStatus && re.Status == status
	}
	return false
}
