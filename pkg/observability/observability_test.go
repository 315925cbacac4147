package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	checker := NewHealthChecker(map[string]Pinger{
		"database": PingFunc(func(ctx context.Context) error { return nil }),
		"redis":    nil,
	})

	status := checker.Check(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["database"])
	assert.Equal(t, "not configured", status.Checks["redis"])

	rec := httptest.NewRecorder()
	checker.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthChecker_Unhealthy(t *testing.T) {
	checker := NewHealthChecker(map[string]Pinger{
		"database": PingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	})

	rec := httptest.NewRecorder()
	checker.HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, "unhealthy: connection refused", body.Checks["database"])
}

func TestHTTPMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMiddleware)
	r.Get("/subscriptions/{subscriptionID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/subscriptions/{subscriptionID}", http.MethodGet, "404"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/sub_123", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("/subscriptions/{subscriptionID}", http.MethodGet, "404"))
	assert.Equal(t, before+1, after)
}

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(4900), ToCents(decimal.RequireFromString("49.00")))
	assert.Equal(t, int64(6774), ToCents(decimal.RequireFromString("67.735")))
	assert.Equal(t, int64(0), ToCents(decimal.Zero))
}

func TestRecordSchedulerJob(t *testing.T) {
	RecordSchedulerJob("renewals", 2, 1, 1)
	assert.GreaterOrEqual(t, testutil.ToFloat64(schedulerJobItemsTotal.WithLabelValues("renewals", "succeeded")), 2.0)
}

func TestOpsRouter_ReadyFailsWhileDraining(t *testing.T) {
	checker := NewHealthChecker(map[string]Pinger{
		"storage": PingFunc(func(ctx context.Context) error { return nil }),
	})
	router := NewOpsRouter(checker)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	checker.SetDraining()

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "draining", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpsRouter_NotReadyWhenDependencyDown(t *testing.T) {
	router := NewOpsRouter(NewHealthChecker(map[string]Pinger{
		"redis": PingFunc(func(ctx context.Context) error { return errors.New("timeout") }),
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
