package ovh

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx response from the OVH API, decoded from the
// standard OVH error body.
type APIError struct {
	// The HTTP status code
	StatusCode int

	// The OVH error class, e.g. "Client::Forbidden"
	Code string

	// A message describing the error
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("OVH API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("OVH API error %d: %s", e.StatusCode, e.Message)
}

func statusMatches(err error, match func(statusCode int) bool) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return match(apiErr.StatusCode)
	}
	return false
}

// IsAuthError reports whether err is a 401 or 403 from the OVH API.
// Auth errors are fatal for a task; the operator must fix the keys.
func IsAuthError(err error) bool {
	return statusMatches(err, func(statusCode int) bool {
		return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
	})
}

// IsNotFound reports whether err is a 404 from the OVH API.
func IsNotFound(err error) bool {
	return statusMatches(err, func(statusCode int) bool {
		return statusCode == http.StatusNotFound
	})
}

// IsConflict reports whether err is a 409 from the OVH API.
func IsConflict(err error) bool {
	return statusMatches(err, func(statusCode int) bool {
		return statusCode == http.StatusConflict
	})
}

// IsRateLimited reports whether err is a 429 from the OVH API.
func IsRateLimited(err error) bool {
	return statusMatches(err, func(statusCode int) bool {
		return statusCode == http.StatusTooManyRequests
	})
}

// IsServerError reports whether err is a 5xx from the OVH API.
func IsServerError(err error) bool {
	return statusMatches(err, func(statusCode int) bool {
		return statusCode >= 500
	})
}
