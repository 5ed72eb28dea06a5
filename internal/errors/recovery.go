package errors

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/copyleftdev/yagiopt/internal/logging"
)

// RecoveryMiddleware turns a handler panic into a JSON 500 response. The
// panic is logged with its stack through the request logger when one is in
// the context, and through logger otherwise.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log := logger
				if cl, ok := logging.Lookup(r.Context()); ok {
					log = cl.Logger
				}
				log.Error("Recovered from panic", map[string]interface{}{
					"panic": fmt.Sprint(rec),
					"query": r.URL.RawQuery,
					"stack": string(debug.Stack()),
				})
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal server error"}` + "\n"))
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// HTTPStatus maps an error to the status code a handler should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfig, KindInvalidCandidate:
		return http.StatusBadRequest
	case KindResolution, KindInterference, KindJunctionRatio:
		return http.StatusUnprocessableEntity
	case KindCanceled:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
