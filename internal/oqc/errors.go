package oqc

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError is returned when the API rejects the access token (HTTP 403).
type AuthError struct {
	StatusCode int
}

func (e *AuthError) Error() string {
	return "Request not authorized, possible invalid API token"
}

// UnavailableError wraps any other transport, HTTP or decoding failure on the
// projects listing.
type UnavailableError struct {
	Cause error
}

func (e *UnavailableError) Error() string {
	return "OpenQualityChecker not available, please try again later"
}

func (e *UnavailableError) Unwrap() error { return e.Cause }

// StatusError is a non-2xx response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// classify maps a raw request error onto the projects-listing taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusForbidden {
		return &AuthError{StatusCode: se.StatusCode}
	}
	return &UnavailableError{Cause: err}
}

// IsAuthError reports whether err is (or wraps) an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsUnavailable reports whether err is (or wraps) an *UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}
