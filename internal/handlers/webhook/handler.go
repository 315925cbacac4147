// Package webhook receives provider notifications. The raw body is handed to
// the reconciler untouched so the provider signature can be checked first.
package webhook

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/handlers/response"
	"github.com/kevin07696/subscription-service/internal/services/ports"
	"go.uber.org/zap"
)

// MaxPayloadBytes bounds a webhook body
const MaxPayloadBytes = 1 << 20

// Handler serves POST /webhooks/{provider}
type Handler struct {
	reconciler ports.WebhookReconciler
	logger     *zap.Logger
}

// NewHandler creates a webhook ingress handler
func NewHandler(reconciler ports.WebhookReconciler, logger *zap.Logger) *Handler {
	return &Handler{reconciler: reconciler, logger: logger}
}

// Routes mounts under /webhooks
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{provider}", h.Receive)
	return r
}

// ReceiveResponse acknowledges a processed notification
type ReceiveResponse struct {
	EventID        string `json:"event_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	Kind           string `json:"kind,omitempty"`
	Received       bool   `json:"received"`
	Duplicate      bool   `json:"duplicate"`
	Applied        bool   `json:"applied"`
}

// Receive verifies and applies one notification. Only failures the provider
// should retry (storage, transient) answer 5xx; forged or malformed
// notifications answer 4xx so they are not redelivered.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := models.Provider(strings.ToLower(chi.URLParam(r, "provider")))

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.Message(w, http.StatusRequestEntityTooLarge, domain.ErrorCodeValidationFailed, "payload too large", h.logger)
			return
		}
		response.Message(w, http.StatusBadRequest, domain.ErrorCodeValidationFailed, "failed to read payload", h.logger)
		return
	}

	result, err := h.reconciler.HandleWebhook(r.Context(), provider, payload, r.Header)
	if err != nil {
		h.logger.Warn("Webhook not applied",
			zap.String("provider", string(provider)),
			zap.Int("bytes", len(payload)),
			zap.Error(err),
		)
		response.Error(w, err, h.logger)
		return
	}

	resp := ReceiveResponse{Received: true}
	if result != nil {
		resp.EventID = result.EventID
		resp.SubscriptionID = result.SubscriptionID
		resp.Kind = string(result.Kind)
		resp.Duplicate = result.Duplicate
		resp.Applied = result.Applied
	}
	response.JSON(w, http.StatusOK, resp, h.logger)
}
