package middleware

import (
	"net/http"

	"github.com/kevin07696/subscription-service/pkg/resilience"
	"go.uber.org/zap"
)

// HandlerTimeout bounds request contexts by the handler tier of the
// timeout hierarchy. Requests that already carry a deadline keep it.
func HandlerTimeout(config *resilience.TimeoutConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, hasDeadline := r.Context().Deadline(); hasDeadline {
				logger.Debug("Request already has deadline, respecting parent timeout",
					zap.String("path", r.URL.Path),
				)
				next.ServeHTTP(w, r)
				return
			}

			ctx, cancel := config.HandlerContext(r.Context())
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
