// Package subscription exposes the subscription command surface over HTTP.
package subscription

import (
	"encoding/json"
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

// TenantHeader carries the caller's tenant id
const TenantHeader = "X-Tenant-ID"

const maxBodyBytes = 1 << 20

// Handler serves the subscription API
type Handler struct {
	service ports.SubscriptionService
	logger  *zap.Logger
}

// NewHandler creates a new subscription handler
func NewHandler(service ports.SubscriptionService, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Routes mounts under /api/v1
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/plans", h.ListPlans)

	r.Route("/subscriptions", func(r chi.Router) {
		r.Use(requireTenant(h.logger))

		r.Post("/", h.CreateSubscription)
		r.Get("/", h.ListSubscriptions)

		r.Route("/{subscriptionID}", func(r chi.Router) {
			r.Get("/", h.GetSubscription)
			r.Get("/invoices", h.ListInvoices)
			r.Post("/upgrade", h.UpgradePlan)
			r.Post("/upgrade/confirm", h.ConfirmUpgrade)
			r.Post("/downgrade", h.DowngradePlan)
			r.Post("/cancel", h.CancelSubscription)
			r.Post("/reactivate", h.ReactivateSubscription)
			r.Post("/coupon", h.ApplyCoupon)
			r.Post("/sync", h.SyncStatus)
		})
	})

	r.Route("/usage", func(r chi.Router) {
		r.Use(requireTenant(h.logger))

		r.Get("/", h.GetUsage)
		r.Put("/", h.ReportUsage)
	})

	return r
}

func requireTenant(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.TrimSpace(r.Header.Get(TenantHeader)) == "" {
				response.Message(w, http.StatusBadRequest, domain.ErrorCodeValidationFailed, TenantHeader+" header is required", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func tenantID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(TenantHeader))
}

// decode reads an optional JSON body into dst; an empty body leaves dst untouched
func decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return domain.NewValidationError("invalid request body: " + err.Error())
	}
	return nil
}

// subscriptionResponse flattens the plan change union
type subscriptionResponse struct {
	*models.Subscription
	PendingUpgrade     *models.PendingUpgrade     `json:"pending_upgrade,omitempty"`
	ScheduledDowngrade *models.ScheduledDowngrade `json:"scheduled_downgrade,omitempty"`
}

func toResponse(sub *models.Subscription) subscriptionResponse {
	resp := subscriptionResponse{Subscription: sub}
	switch pc := sub.PlanChange.(type) {
	case *models.PendingUpgrade:
		resp.PendingUpgrade = pc
	case *models.ScheduledDowngrade:
		resp.ScheduledDowngrade = pc
	}
	return resp
}

func (h *Handler) writeSubscription(w http.ResponseWriter, status int, sub *models.Subscription) {
	response.JSON(w, status, toResponse(sub), h.logger)
}

// CreateSubscriptionRequest is the body of POST /subscriptions
type CreateSubscriptionRequest struct {
	AutoRenew     *bool  `json:"auto_renew,omitempty"`
	PlanID        string `json:"plan_id"`
	Provider      string `json:"provider"`
	Email         string `json:"email"`
	PaymentMethod string `json:"payment_method,omitempty"`
}

// CreateSubscription handles POST /subscriptions
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req CreateSubscriptionRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, err, h.logger)
		return
	}

	h.logger.Info("CreateSubscription request received",
		zap.String("tenant_id", tenantID(r)),
		zap.String("plan_id", req.PlanID),
		zap.String("provider", req.Provider),
	)

	sub, err := h.service.CreateSubscription(r.Context(), ports.CreateSubscriptionRequest{
		TenantID:      tenantID(r),
		PlanID:        req.PlanID,
		Provider:      models.Provider(strings.ToLower(req.Provider)),
		Email:         req.Email,
		PaymentMethod: req.PaymentMethod,
		AutoRenew:     req.AutoRenew,
	})
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	h.writeSubscription(w, http.StatusCreated, sub)
}

// ListSubscriptions handles GET /subscriptions for the calling tenant
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListTenantSubscriptions(r.Context(), tenantID(r))
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}

	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toResponse(sub))
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"subscriptions": out}, h.logger)
}

// GetSubscription handles GET /subscriptions/{id}
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.GetSubscription(r.Context(), chi.URLParam(r, "subscriptionID"), tenantID(r))
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	h.writeSubscription(w, http.StatusOK, sub)
}

// ListInvoices handles GET /subscriptions/{id}/invoices
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.service.ListInvoices(r.Context(), chi.URLParam(r, "subscriptionID"), tenantID(r))
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	if invoices == nil {
		invoices = []*models.Invoice{}
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"invoices": invoices}, h.logger)
}

// PlanChangeRequest is the body of the upgrade and downgrade endpoints
type PlanChangeRequest struct {
	PlanID string `json:"plan_id"`
}

// UpgradePlan handles POST /subscriptions/{id}/upgrade
func (h *Handler) UpgradePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanChangeRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, err, h.logger)
		return
	}

	sub, err := h.service.UpgradePlan(r.Context(), ports.PlanChangeRequest{
		SubscriptionID: chi.URLParam(r, "subscriptionID"),
		TenantID:       tenantID(r),
		TargetPlanID:   req.PlanID,
	})
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	h.writeSubscription(w, http.StatusOK, sub)
}

// DowngradePlan handles POST /subscriptions/{id}/downgrade
func (h *Handler) DowngradePlan(w http.ResponseWriter, r *http.Request) {
	var req PlanChangeRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, err, h.logger)
		return
	}

	sub, err := h.service.DowngradePlan(r.Context(), ports.PlanChangeRequest{
		SubscriptionID: chi.URLParam(r, "subscriptionID"),
		TenantID:       tenantID(r),
		TargetPlanID:   req.PlanID,
	})
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	h.writeSubscription(w, http.StatusOK, sub)
}

// ConfirmUpgradeRequest is the body of POST /subscriptions/{id}/upgrade/confirm
type ConfirmUpgradeRequest struct {
	TransactionID string `json:"transaction_id"`
}

// ConfirmUpgrade handles POST /subscriptions/{id}/upgrade/confirm
func (h *Handler) ConfirmUpgrade(w http.ResponseWriter, r *http.Request) {
	var req ConfirmUpgradeRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, err, h.logger)
		return
	}

	sub, err := h.service.ConfirmUpgrade(r.Context(), ports.ConfirmUpgradeRequest{
		SubscriptionID: chi.URLParam(r, "subscriptionID"),
		TenantID:       tenantID(r),
		TransactionID:  req.TransactionID,
	})
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	h.writeSubscription(w, http.StatusOK, sub)
}

// CancelSubscriptionRequest is the body of POST /subscriptions/{id}/cancel
type CancelSubscriptionRequest struct {
	Reason    string `json:"reason,omitempty"`
	Immediate bool   `json:"immediate,omitempty"`
}

// CancelSubscription handles POST /subscriptions/{id}/cancel
func (h *Handler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	var req CancelSubscriptionRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, err, h.logger)
		return
	}

	sub, err := h.service.CancelSubscription(r.Context(), ports.CancelSubscriptionRequest{
		SubscriptionID: chi.URLParam(r, "subscriptionID"),
		TenantID:       tenantID(r),
		Reason:         req.Reason,
		Immediate:      req.Immediate,
	})
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	h.writeSubscription(w, http.StatusOK, sub)
}

// ReactivateSubscriptionRequest is the body of POST /subscriptions/{id}/reactivate
type ReactivateSubscriptionRequest struct {
	PaymentMethod string `json:"payment_method,omitempty"`
}

// ReactivateSubscription handles POST /subscriptions/{id}/reactivate
func (h *Handler) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	var req ReactivateSubscriptionRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, err, h.logger)
		return
	}

	sub, err := h.service.ReactivateSubscription(r.Context(), ports.ReactivateSubscriptionRequest{
		SubscriptionID: chi.URLParam(r, "subscriptionID"),
		TenantID:       tenantID(r),
		PaymentMethod:  req.PaymentMethod,
	})
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	h.writeSubscription(w, http.StatusOK, sub)
}

// ApplyCouponRequest is the body of POST /subscriptions/{id}/coupon
type ApplyCouponRequest struct {
	Code string `json:"code"`
}

// ApplyCoupon handles POST /subscriptions/{id}/coupon
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req ApplyCouponRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, err, h.logger)
		return
	}

	sub, err := h.service.ApplyCoupon(r.Context(), ports.ApplyCouponRequest{
		SubscriptionID: chi.URLParam(r, "subscriptionID"),
		TenantID:       tenantID(r),
		Code:           req.Code,
	})
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	h.writeSubscription(w, http.StatusOK, sub)
}

// SyncStatus handles POST /subscriptions/{id}/sync
func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.SyncStatus(r.Context(), chi.URLParam(r, "subscriptionID"), tenantID(r))
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	h.writeSubscription(w, http.StatusOK, sub)
}

// ListPlans handles GET /plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	if plans == nil {
		plans = []*models.Plan{}
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{"plans": plans}, h.logger)
}

// ReportUsageRequest is the body of PUT /usage: counters keyed by resource
type ReportUsageRequest struct {
	Usage map[string]int64 `json:"usage"`
}

// ReportUsage handles PUT /usage for the calling tenant
func (h *Handler) ReportUsage(w http.ResponseWriter, r *http.Request) {
	var req ReportUsageRequest
	if err := decode(r, &req); err != nil {
		response.Error(w, err, h.logger)
		return
	}

	usage := make(models.Usage, len(req.Usage))
	for res, n := range req.Usage {
		usage[models.Resource(strings.ToLower(res))] = n
	}

	report, err := h.service.ReportUsage(r.Context(), ports.ReportUsageRequest{
		TenantID: tenantID(r),
		Usage:    usage,
	})
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	response.JSON(w, http.StatusOK, report, h.logger)
}

// GetUsage handles GET /usage for the calling tenant
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GetUsage(r.Context(), tenantID(r))
	if err != nil {
		response.Error(w, err, h.logger)
		return
	}
	response.JSON(w, http.StatusOK, report, h.logger)
}
