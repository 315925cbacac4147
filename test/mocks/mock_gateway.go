package mocks

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// MockGateway is a mock implementation of PaymentGateway for testing
type MockGateway struct {
	mu       sync.Mutex
	provider models.Provider

	// Responses to return
	createResponse *ports.CreateRecurringResult
	createError    error
	cancelError    error
	statusResponse *ports.RemoteStatus
	statusError    error
	chargeResponse *ports.ChargeResult
	chargeError    error
	webhookEvent   *models.GatewayEvent
	webhookError   error

	// Call tracking
	CreateCalls  int
	CancelCalls  int
	StatusCalls  int
	ChargeCalls  int
	WebhookCalls int

	// Last request received
	LastCreateReq *ports.CreateRecurringRequest
	LastCancelID  string
	LastStatusID  string
	LastChargeReq *ports.OneTimeChargeRequest
}

// NewMockGateway creates a new mock gateway for provider
func NewMockGateway(provider models.Provider) *MockGateway {
	return &MockGateway{provider: provider}
}

// SetCreateResponse sets the response to return from CreateSubscription
func (m *MockGateway) SetCreateResponse(result *ports.CreateRecurringResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createResponse = result
	m.createError = err
}

// SetCancelError sets the error to return from CancelSubscription
func (m *MockGateway) SetCancelError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelError = err
}

// SetStatusResponse sets the response to return from GetStatus
func (m *MockGateway) SetStatusResponse(result *ports.RemoteStatus, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusResponse = result
	m.statusError = err
}

// SetChargeResponse sets the response to return from ChargeOneTime
func (m *MockGateway) SetChargeResponse(result *ports.ChargeResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chargeResponse = result
	m.chargeError = err
}

// SetWebhookEvent sets the event (or error) returned from VerifyWebhook
func (m *MockGateway) SetWebhookEvent(event *models.GatewayEvent, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.webhookEvent = event
	m.webhookError = err
}

// Provider implements PaymentGateway.Provider
func (m *MockGateway) Provider() models.Provider {
	return m.provider
}

// CreateSubscription implements PaymentGateway.CreateSubscription
func (m *MockGateway) CreateSubscription(ctx context.Context, req ports.CreateRecurringRequest) (*ports.CreateRecurringResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	m.LastCreateReq = &req
	if m.createError != nil {
		return nil, m.createError
	}
	if m.createResponse == nil {
		return &ports.CreateRecurringResult{
			GatewaySubscriptionID: fmt.Sprintf("%s_sub_%d", m.provider, m.CreateCalls),
			RemoteStatus:          "active",
		}, nil
	}
	return m.createResponse, nil
}

// CancelSubscription implements PaymentGateway.CancelSubscription
func (m *MockGateway) CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelCalls++
	m.LastCancelID = gatewaySubscriptionID
	return m.cancelError
}

// VerifyWebhook implements PaymentGateway.VerifyWebhook
func (m *MockGateway) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) (*models.GatewayEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WebhookCalls++
	if m.webhookError != nil {
		return nil, m.webhookError
	}
	if m.webhookEvent == nil {
		return nil, domain.ErrSignatureInvalid
	}
	ev := *m.webhookEvent
	return &ev, nil
}

// GetStatus implements PaymentGateway.GetStatus
func (m *MockGateway) GetStatus(ctx context.Context, gatewaySubscriptionID string) (*ports.RemoteStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StatusCalls++
	m.LastStatusID = gatewaySubscriptionID
	if m.statusError != nil {
		return nil, m.statusError
	}
	if m.statusResponse == nil {
		return &ports.RemoteStatus{Status: "active"}, nil
	}
	return m.statusResponse, nil
}

// ChargeOneTime implements PaymentGateway.ChargeOneTime
func (m *MockGateway) ChargeOneTime(ctx context.Context, req ports.OneTimeChargeRequest) (*ports.ChargeResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ChargeCalls++
	m.LastChargeReq = &req
	if m.chargeError != nil {
		return nil, m.chargeError
	}
	if m.chargeResponse == nil {
		return &ports.ChargeResult{
			TransactionID: fmt.Sprintf("%s_ch_%d", m.provider, m.ChargeCalls),
			Status:        "succeeded",
			Confirmed:     true,
		}, nil
	}
	return m.chargeResponse, nil
}

// Reset resets all mock state
func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createResponse = nil
	m.createError = nil
	m.cancelError = nil
	m.statusResponse = nil
	m.statusError = nil
	m.chargeResponse = nil
	m.chargeError = nil
	m.webhookEvent = nil
	m.webhookError = nil
	m.CreateCalls = 0
	m.CancelCalls = 0
	m.StatusCalls = 0
	m.ChargeCalls = 0
	m.WebhookCalls = 0
	m.LastCreateReq = nil
	m.LastCancelID = ""
	m.LastStatusID = ""
	m.LastChargeReq = nil
}

// MockResolver resolves providers to mock gateways
type MockResolver map[models.Provider]ports.PaymentGateway

// Gateway implements GatewayResolver
func (r MockResolver) Gateway(provider models.Provider) (ports.PaymentGateway, error) {
	gw, ok := r[provider]
	if !ok {
		return nil, domain.NewValidationError(fmt.Sprintf("unsupported provider %q", provider))
	}
	return gw, nil
}
