package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/fedgate/fedgate/pkg/observability"
)

// RequestIDHeader carries the request id on responses and, when the
// caller supplies one, on requests.
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request an id, binds it with a request-scoped
// logger into the context, and echoes it on the response.
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}

			ctx := observability.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, logger)

			w.Header().Set(RequestIDHeader, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
