package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// GenericFailure is shown when the backend gave no usable message.
const GenericFailure = "Something went wrong. Please try again."

// NetworkFailure is shown when the backend could not be reached.
const NetworkFailure = "Unable to reach the irrigation service. Check your connection and try again."

// Error is a response with a 4xx/5xx status.
type Error struct {
	Data   string
	Status int
}

func (e *Error) Error() string {
	if e.Data == "" {
		return fmt.Sprintf("backend returned %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Data)
}

// Message is the backend's own message when it sent one.
func (e *Error) Message() string {
	if msg := decodeMessage([]byte(e.Data)); msg != "" && len(msg) < 512 {
		return msg
	}
	return ""
}

// TransportError is a request that never got a response.
type TransportError struct {
	Err    error
	Method string
	Path   string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

// UserMessage maps an error to text fit for a toast: the server's message
// verbatim when present, fallback otherwise, or a network notice.
func UserMessage(err error, fallback string) string {
	if fallback == "" {
		fallback = GenericFailure
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if msg := apiErr.Message(); msg != "" {
			return msg
		}
		return fallback
	}
	var tErr *TransportError
	if errors.As(err, &tErr) || errors.Is(err, context.DeadlineExceeded) {
		return NetworkFailure
	}
	return fallback
}
