package frontend

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/woodchen-ink/OVH/internal/api/rest"
)

// MiddlewarePanic converts handler panics into 500 responses.
func MiddlewarePanic(w http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	defer func() {
		if e := recover(); e != nil {
			if logger, ok := r.Context().Value(contextKeyLogger).(*slog.Logger); ok {
				logger.Error(fmt.Sprintf("panic: %#v\n%s\n", e, string(debug.Stack())))
			}
			rest.WriteInternalServerError(w)
		}
	}()

	next(w, r)
}
