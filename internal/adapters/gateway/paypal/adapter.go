// Package paypal implements the payment gateway port over the PayPal REST API.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// Base URLs
const (
	SandboxBaseURL = "https://api-m.sandbox.paypal.com"
	LiveBaseURL    = "https://api-m.paypal.com"
)

// PayPal limits custom_id to 127 characters
const maxCustomIDLen = 127

// Config holds the REST app credentials and the webhook id used for verification
type Config struct {
	ClientID     string
	ClientSecret string
	WebhookID    string
	BaseURL      string
	BrandName    string
	ReturnURL    string
	CancelURL    string
}

// Validate checks that the adapter can authenticate both directions
func (c Config) Validate() error {
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("paypal client id and secret are required")
	}
	if c.WebhookID == "" {
		return errors.New("paypal webhook id is required")
	}
	return nil
}

// Adapter implements ports.PaymentGateway for PayPal
type Adapter struct {
	config Config
	client *http.Client
	logger *zap.Logger
}

var _ ports.PaymentGateway = (*Adapter)(nil)

// NewAdapter creates a PayPal adapter. Access tokens come from the client
// credentials grant and are cached and refreshed by the oauth2 transport;
// base carries the pooled transport for both the token and API calls.
func NewAdapter(cfg Config, base *http.Client, logger *zap.Logger) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if base == nil {
		base = http.DefaultClient
	}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.BaseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(tokenCtx)
	client.Timeout = base.Timeout

	return &Adapter{
		config: cfg,
		client: client,
		logger: logger,
	}, nil
}

// Provider implements ports.PaymentGateway
func (a *Adapter) Provider() models.Provider {
	return models.ProviderPayPal
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

func approvalURL(links []link) string {
	for _, l := range links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			return l.Href
		}
	}
	return ""
}

type subscriptionResource struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	CustomID    string `json:"custom_id"`
	BillingInfo *struct {
		NextBillingTime   *time.Time `json:"next_billing_time"`
		LastFailedPayment *struct {
			ReasonCode string `json:"reason_code"`
		} `json:"last_failed_payment"`
	} `json:"billing_info"`
	Links []link `json:"links"`
}

func (s *subscriptionResource) nextBilling() *time.Time {
	if s.BillingInfo == nil || s.BillingInfo.NextBillingTime == nil {
		return nil
	}
	t := s.BillingInfo.NextBillingTime.UTC()
	return &t
}

// CreateSubscription creates a billing subscription on the plan's PayPal plan.
// The subscriber approves it on the returned approval link.
func (a *Adapter) CreateSubscription(ctx context.Context, req ports.CreateRecurringRequest) (*ports.CreateRecurringResult, error) {
	if req.PriceRef == "" {
		return nil, domain.NewValidationError(fmt.Sprintf("no paypal plan configured for plan %s", req.PlanID)).
			WithDetail("plan_id", req.PlanID)
	}

	body := map[string]interface{}{
		"plan_id": req.PriceRef,
		"custom_id": encodeCustomID(map[string]string{
			models.MetaSubscriptionID: req.SubscriptionID,
			models.MetaPlanID:         req.PlanID,
			models.MetaTenantID:       req.TenantID,
		}, models.MetaSubscriptionID, models.MetaPlanID, models.MetaTenantID),
		"application_context": a.applicationContext("SUBSCRIBE_NOW"),
	}
	if req.Email != "" {
		body["subscriber"] = map[string]string{"email_address": req.Email}
	}

	var sub subscriptionResource
	if err := a.call(ctx, http.MethodPost, "/v1/billing/subscriptions", body, &sub); err != nil {
		return nil, fmt.Errorf("paypal: create subscription: %w", err)
	}

	a.logger.Info("PayPal subscription created",
		zap.String("subscription_id", req.SubscriptionID),
		zap.String("paypal_subscription_id", sub.ID),
		zap.String("status", sub.Status),
	)

	return &ports.CreateRecurringResult{
		GatewaySubscriptionID: sub.ID,
		CheckoutURL:           approvalURL(sub.Links),
		RemoteStatus:          sub.Status,
	}, nil
}

// CancelSubscription cancels the billing subscription; one that is already
// cancelled or expired is not an error
func (a *Adapter) CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error {
	body := map[string]string{"reason": "Cancelled by subscriber"}
	path := "/v1/billing/subscriptions/" + url.PathEscape(gatewaySubscriptionID) + "/cancel"

	err := a.call(ctx, http.MethodPost, path, body, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.hasIssue("SUBSCRIPTION_STATUS_INVALID") {
		a.logger.Info("PayPal subscription already inactive",
			zap.String("paypal_subscription_id", gatewaySubscriptionID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("paypal: cancel subscription %s: %w", gatewaySubscriptionID, err)
	}
	return nil
}

// GetStatus reads the subscription status; the next billing time ends the current period
func (a *Adapter) GetStatus(ctx context.Context, gatewaySubscriptionID string) (*ports.RemoteStatus, error) {
	var sub subscriptionResource
	path := "/v1/billing/subscriptions/" + url.PathEscape(gatewaySubscriptionID)
	if err := a.call(ctx, http.MethodGet, path, nil, &sub); err != nil {
		return nil, fmt.Errorf("paypal: get subscription %s: %w", gatewaySubscriptionID, err)
	}
	return &ports.RemoteStatus{
		Status:           sub.Status,
		CurrentPeriodEnd: sub.nextBilling(),
	}, nil
}

type orderResource struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
}

// ChargeOneTime creates a capture order. The payer approves it out of band;
// the approved order is captured when its webhook arrives.
func (a *Adapter) ChargeOneTime(ctx context.Context, req ports.OneTimeChargeRequest) (*ports.ChargeResult, error) {
	unit := map[string]interface{}{
		"amount": map[string]string{
			"currency_code": strings.ToUpper(req.Currency),
			"value":         req.Amount.StringFixed(2),
		},
		"description": req.Description,
		"custom_id": encodeCustomID(req.Metadata,
			models.MetaPurpose, models.MetaSubscriptionID, models.MetaTargetPlanID, models.MetaTenantID),
	}
	body := map[string]interface{}{
		"intent":              "CAPTURE",
		"purchase_units":      []interface{}{unit},
		"application_context": a.applicationContext("PAY_NOW"),
	}

	var order orderResource
	if err := a.call(ctx, http.MethodPost, "/v2/checkout/orders", body, &order); err != nil {
		return nil, fmt.Errorf("paypal: create order: %w", err)
	}

	return &ports.ChargeResult{
		TransactionID: order.ID,
		Status:        order.Status,
		CheckoutURL:   approvalURL(order.Links),
		Confirmed:     order.Status == "COMPLETED",
	}, nil
}

// captureOrder completes an approved order. An order captured by an earlier
// delivery is not an error.
func (a *Adapter) captureOrder(ctx context.Context, orderID string) error {
	path := "/v2/checkout/orders/" + url.PathEscape(orderID) + "/capture"
	err := a.call(ctx, http.MethodPost, path, map[string]string{}, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.hasIssue("ORDER_ALREADY_CAPTURED") {
		return nil
	}
	return err
}

func (a *Adapter) applicationContext(action string) map[string]string {
	ac := map[string]string{
		"user_action":         action,
		"shipping_preference": "NO_SHIPPING",
	}
	if a.config.BrandName != "" {
		ac["brand_name"] = a.config.BrandName
	}
	if a.config.ReturnURL != "" {
		ac["return_url"] = a.config.ReturnURL
	}
	if a.config.CancelURL != "" {
		ac["cancel_url"] = a.config.CancelURL
	}
	return ac
}

// encodeCustomID packs metadata into custom_id as a query string, keeping
// keys in priority order while they fit
func encodeCustomID(meta map[string]string, keys ...string) string {
	values := url.Values{}
	for _, k := range keys {
		v := meta[k]
		if v == "" {
			continue
		}
		values.Set(k, v)
		if len(values.Encode()) > maxCustomIDLen {
			values.Del(k)
		}
	}
	return values.Encode()
}

func decodeCustomID(customID string) map[string]string {
	if customID == "" {
		return nil
	}
	values, err := url.ParseQuery(customID)
	if err != nil {
		return nil
	}
	meta := make(map[string]string, len(values))
	for k := range values {
		meta[k] = values.Get(k)
	}
	return meta
}

// APIError is a PayPal error response
type APIError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	DebugID string `json:"debug_id"`
	Details []struct {
		Issue       string `json:"issue"`
		Description string `json:"description"`
	} `json:"details"`
	StatusCode int `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paypal api status %d: %s: %s (debug_id %s)", e.StatusCode, e.Name, e.Message, e.DebugID)
}

func (e *APIError) hasIssue(issue string) bool {
	for _, d := range e.Details {
		if d.Issue == issue {
			return true
		}
	}
	return false
}

var declineIssues = []string{"INSTRUMENT_DECLINED", "PAYER_CANNOT_PAY", "TRANSACTION_REFUSED", "PAYER_ACTION_REQUIRED"}

func (a *Adapter) call(ctx context.Context, method, path string, in, out interface{}) error {
	var reader io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return classify(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func classify(status int, raw []byte) error {
	apiErr := &APIError{StatusCode: status}
	_ = json.Unmarshal(raw, apiErr)

	for _, issue := range declineIssues {
		if apiErr.hasIssue(issue) {
			return domain.WrapError(domain.ErrorCodeGatewayDeclined, domain.ErrGatewayDeclined.Message, apiErr).
				WithDetail("issue", issue).
				WithDetail("debug_id", apiErr.DebugID)
		}
	}
	if status == http.StatusBadRequest && apiErr.Name == "INVALID_REQUEST" {
		return domain.WrapError(domain.ErrorCodeValidationFailed, "paypal rejected the request", apiErr).
			WithDetail("debug_id", apiErr.DebugID)
	}
	return apiErr
}
