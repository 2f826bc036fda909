// Package rest implements the wire conventions of the HTTP control plane:
// the JSON error envelope and response writers.
package rest

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes. Codes are invariant and intended to be consumed
// programmatically; messages are for display.
const (
	ErrorCodeInternalServerError   = "InternalServerError"
	ErrorCodeInvalidParameter      = "InvalidParameter"
	ErrorCodeInvalidRequestContent = "InvalidRequestContent"
	ErrorCodeNotFound              = "NotFound"
	ErrorCodeConflict              = "Conflict"
	ErrorCodeUnauthorized          = "Unauthorized"
)

// HeaderNameErrorCode carries the symbolic error code alongside the body.
const HeaderNameErrorCode = "X-Error-Code"

// Error is the control plane's error envelope:
//
//	{ "error": "<human message>", "code": "<symbolic>" }
type Error struct {
	// The HTTP status code
	StatusCode int `json:"-"`

	Message string `json:"error"`
	Code    string `json:"code,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// NewError returns a new Error.
func NewError(statusCode int, code, format string, a ...any) *Error {
	return &Error{
		StatusCode: statusCode,
		Code:       code,
		Message:    fmt.Sprintf(format, a...),
	}
}

// WriteError constructs and writes an Error to the given ResponseWriter.
func WriteError(w http.ResponseWriter, statusCode int, code, format string, a ...any) {
	WriteErrorEnvelope(w, NewError(statusCode, code, format, a...))
}

// WriteErrorEnvelope writes an Error to the given ResponseWriter.
func WriteErrorEnvelope(w http.ResponseWriter, err *Error) {
	w.Header()["Content-Type"] = []string{"application/json"}
	w.Header()[HeaderNameErrorCode] = []string{err.Code}
	w.WriteHeader(err.StatusCode)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(err)
}

// WriteInternalServerError writes a generic internal server error to the
// given ResponseWriter.
func WriteInternalServerError(w http.ResponseWriter) {
	WriteError(
		w, http.StatusInternalServerError,
		ErrorCodeInternalServerError,
		"Internal server error.")
}

// WriteUnmarshalError writes an appropriate Error for a JSON decoding
// failure to the given ResponseWriter.
func WriteUnmarshalError(w http.ResponseWriter, err error) {
	switch err := err.(type) {
	case *json.UnmarshalTypeError:
		WriteError(
			w, http.StatusBadRequest,
			ErrorCodeInvalidRequestContent,
			"The type of property %q is invalid.", err.Field)
	case *json.SyntaxError:
		WriteError(
			w, http.StatusBadRequest,
			ErrorCodeInvalidRequestContent,
			"The request content was invalid: %s.", err)
	default:
		WriteError(
			w, http.StatusBadRequest,
			ErrorCodeInvalidRequestContent,
			"The request content was invalid: %s.", err)
	}
}
