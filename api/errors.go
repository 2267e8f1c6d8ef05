package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// NetworkError is a transport failure: the request could not be sent, the
// connection broke, or the timeout elapsed before a response arrived.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was the request timeout.
func (e *NetworkError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(e.Err, &ne) && ne.Timeout()
}

// APIError is a non-2xx response, or a 2xx response whose body could not
// be used. Message carries the server's "error" field verbatim when one was
// supplied; Err holds the decode failure of an unusable body.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: invalid response (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
}

func (e *APIError) Unwrap() error { return e.Err }

// NotFound reports whether the backend answered 404.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// ValidationError is a local, pre-submission failure. It is produced before
// any request is sent.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s required", strings.Join(e.Fields, " and "))
}

// UserMessage returns the text to show a user for err: the server message
// for an [APIError] that carries one, fallback otherwise.
func UserMessage(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return valErr.Error()
	}
	return fallback
}
