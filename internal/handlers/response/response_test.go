package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("get: %w", domain.ErrSubscriptionNotFound), http.StatusNotFound},
		{domain.NewInvalidTransition("cannot cancel"), http.StatusConflict},
		{domain.NewDomainError(domain.ErrorCodeQuotaExceeded, "over"), http.StatusUnprocessableEntity},
		{domain.ErrGatewayDeclined, http.StatusBadGateway},
		{domain.NewDomainError(domain.ErrorCodeGatewayError, "down"), http.StatusBadGateway},
		{domain.ErrGatewayTimedOut, http.StatusGatewayTimeout},
		{domain.ErrSignatureInvalid, http.StatusUnauthorized},
		{domain.NewPermissionDenied("other tenant"), http.StatusForbidden},
		{domain.NewValidationError("plan_id is required"), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusCode(tt.err), tt.err.Error())
	}
}

func TestError(t *testing.T) {
	t.Run("domain error", func(t *testing.T) {
		rec := httptest.NewRecorder()
		err := domain.NewDomainError(domain.ErrorCodeQuotaExceeded, "usage exceeds target plan").
			WithDetail("resource", "contacts")
		Error(rec, fmt.Errorf("downgrade: %w", err), zap.NewNop())

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body ErrorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "QUOTA_EXCEEDED", body.Code)
		assert.Equal(t, "usage exceeds target plan", body.Message)
		assert.Equal(t, "contacts", body.Details["resource"])
	})

	t.Run("internal error hides message", func(t *testing.T) {
		rec := httptest.NewRecorder()
		Error(rec, errors.New("pq: connection refused"), zap.NewNop())

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "connection refused")
		assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	})
}

func TestMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	Message(rec, http.StatusUnauthorized, domain.ErrorCodePermissionDenied, "unauthorized", zap.NewNop())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"code":"PERMISSION_DENIED","message":"unauthorized"}`, rec.Body.String())
}
