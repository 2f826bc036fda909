package frontend

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/woodchen-ink/OVH/internal/api/rest"
)

const (
	// HeaderNameAPIKey carries the shared control-plane secret.
	HeaderNameAPIKey = "X-Api-Key"

	// HeaderNameAccount selects the active account for scope=self
	// requests.
	HeaderNameAccount = "X-Ovh-Account"
)

// whitelistPaths never require the API key: health checks and metrics
// scrapers call without credentials.
var whitelistPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// MiddlewareAuth validates the X-API-Key header against the shared secret.
// The comparison is constant-time over fixed-size digests so neither the
// length nor the content of the secret leaks through timing.
func (f *Frontend) MiddlewareAuth(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	if !f.authEnabled {
		next(w, r)
		return
	}
	if _, ok := whitelistPaths[r.URL.Path]; ok {
		next(w, r)
		return
	}

	presented := sha256.Sum256([]byte(r.Header.Get(HeaderNameAPIKey)))
	expected := sha256.Sum256([]byte(f.apiSecret))
	if subtle.ConstantTimeCompare(presented[:], expected[:]) != 1 {
		rest.WriteError(w, http.StatusUnauthorized, rest.ErrorCodeUnauthorized,
			"Missing or invalid API key.")
		return
	}

	next(w, r)
}
