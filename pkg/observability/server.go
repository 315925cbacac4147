package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// NewOpsRouter serves the operational endpoints:
//
//	/metrics  Prometheus scrape
//	/live     process is up
//	/health   dependency report (503 when any pinger fails)
//	/ready    healthy and not draining
func NewOpsRouter(checker *HealthChecker) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if checker == nil {
		checker = NewHealthChecker(nil)
	}
	r.Get("/health", checker.HealthHandler())
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if checker.Draining() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("draining"))
			return
		}
		if checker.Check(r.Context()).Status != statusHealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return r
}

// StartMetricsServer serves NewOpsRouter on port in the background
func StartMetricsServer(port string, checker *HealthChecker, logger *zap.Logger) *http.Server {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           NewOpsRouter(checker),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server error", zap.Error(err))
		}
	}()

	return server
}

// ShutdownMetricsServer stops the metrics server within ctx, or 5s when ctx
// carries no deadline
func ShutdownMetricsServer(ctx context.Context, server *http.Server) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	return server.Shutdown(ctx)
}
