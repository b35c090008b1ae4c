package quotacache

import (
	"fmt"
	"net/http"
)

// HTTPMiddleware creates a new middleware function that spends one cached
// token per request, keyed by the request's path and method.
// This function is compatible with both standard net/http and mux handlers.
func HTTPMiddleware(qc *QuotaCache, keyGetter func(r *http.Request) string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userKey := keyGetter(r) // get the unique identifier for the requester

			result, err := qc.ConsumeLocalBucketToken(r.Context(), ConsumeRequest{
				UserID:     userKey,
				Path:       r.URL.Path,
				HTTPMethod: r.Method,
			})
			if err != nil {
				// Only malformed requests reach here; fetch failures come
				// back as a failed result instead.
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			if !result.Success {
				if result.BucketStatus != nil {
					w.Header().Add("RateLimit-Limit", fmt.Sprintf("%v", result.BucketStatus.MaxTokens))
					w.Header().Add("RateLimit-Remaining", fmt.Sprintf("%v", result.BucketStatus.TokensRemaining))
				}
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}

			// Proceed to the next handler if not rate-limited
			next.ServeHTTP(w, r)
		})
	}
}
