package rest

import (
	"encoding/json"
	"net/http"
)

// WriteJSONResponse writes v as a JSON response body with the given status
// code. Returns an error if encoding fails after headers were sent.
func WriteJSONResponse(w http.ResponseWriter, statusCode int, v any) error {
	w.Header()["Content-Type"] = []string{"application/json"}
	w.WriteHeader(statusCode)
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
