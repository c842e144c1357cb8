// Package correlation propagates correlation IDs across service boundaries.
package correlation

import (
	"net/http"

	"github.com/google/uuid"

	"custodia/pkg/requestcontext"
)

// Header carries the caller-supplied correlation ID.
const Header = "X-Correlation-ID"

// Middleware reads the correlation ID from the request header, generating one
// when the caller did not supply any, and stores it in the context. The ID is
// echoed on the response so callers can tie recorded entries back to their
// originating request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		ctx := requestcontext.WithCorrelationID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
