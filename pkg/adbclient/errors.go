package adbclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for API operations.
var (
	// ErrUnauthorized indicates the API rejected or required credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates insufficient permissions.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrServiceUnavailable indicates a server-side failure.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrMalformedResponse indicates the response body could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError describes a non-2xx API response.
type APIError struct {
	// Method is the HTTP method of the failed request.
	Method string

	// URL is the request URL.
	URL string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Detail is the server-provided message, if any.
	Detail string

	// Err is the sentinel classifying the failure.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap returns the classifying sentinel for errors.Is support.
func (e *APIError) Unwrap() error {
	return e.Err
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code >= 500:
		return ErrServiceUnavailable
	default:
		return nil
	}
}

// IsNotFound returns true if err indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized returns true if err indicates missing or rejected credentials.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
