package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
	"github.com/kevin07696/subscription-service/pkg/observability"
	"github.com/kevin07696/subscription-service/pkg/resilience"
	"go.uber.org/zap"
)

const (
	opCreateSubscription = "create_subscription"
	opCancelSubscription = "cancel_subscription"
	opVerifyWebhook      = "verify_webhook"
	opGetStatus          = "get_status"
	opChargeOneTime      = "charge_one_time"
)

// Guarded decorates a provider adapter with the external-call timeout, a
// circuit breaker, metrics and translation of failures into GATEWAY_* errors.
// Webhook verification skips the breaker. It never retries.
type Guarded struct {
	next     ports.PaymentGateway
	breaker  *CircuitBreaker
	timeouts *resilience.TimeoutConfig
	logger   *zap.Logger
}

var _ ports.PaymentGateway = (*Guarded)(nil)

// NewGuarded wraps next. A zero breaker config uses the defaults.
func NewGuarded(next ports.PaymentGateway, cbConfig CircuitBreakerConfig, timeouts *resilience.TimeoutConfig, logger *zap.Logger) *Guarded {
	if timeouts == nil {
		timeouts = resilience.DefaultTimeoutConfig()
	}
	if cbConfig.Timeout == 0 {
		cbConfig.Timeout = DefaultCircuitBreakerConfig().Timeout
	}
	provider := string(next.Provider())
	cbConfig.IsFailure = countsAgainstProvider
	cbConfig.OnStateChange = func(from, to CircuitState) {
		logger.Warn("Gateway circuit breaker state changed",
			zap.String("provider", provider),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}

	return &Guarded{
		next:     next,
		breaker:  NewCircuitBreaker(cbConfig),
		timeouts: timeouts,
		logger:   logger,
	}
}

// Breaker exposes the circuit breaker for health reporting
func (g *Guarded) Breaker() *CircuitBreaker {
	return g.breaker
}

// Provider implements ports.PaymentGateway
func (g *Guarded) Provider() models.Provider {
	return g.next.Provider()
}

// CreateSubscription implements ports.PaymentGateway
func (g *Guarded) CreateSubscription(ctx context.Context, req ports.CreateRecurringRequest) (*ports.CreateRecurringResult, error) {
	var result *ports.CreateRecurringResult
	err := g.do(ctx, opCreateSubscription, func(ctx context.Context) error {
		var err error
		result, err = g.next.CreateSubscription(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CancelSubscription implements ports.PaymentGateway
func (g *Guarded) CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error {
	return g.do(ctx, opCancelSubscription, func(ctx context.Context) error {
		return g.next.CancelSubscription(ctx, gatewaySubscriptionID)
	})
}

// VerifyWebhook implements ports.PaymentGateway. Verification runs outside
// the circuit breaker: an open breaker must not bounce authentic
// notifications, and forged ones never count as provider failures.
func (g *Guarded) VerifyWebhook(ctx context.Context, payload []byte, headers http.Header) (*models.GatewayEvent, error) {
	provider := string(g.next.Provider())

	callCtx, cancel := g.timeouts.GatewayContext(ctx)
	defer cancel()

	start := time.Now()
	event, err := g.next.VerifyWebhook(callCtx, payload, headers)
	err = translate(provider, opVerifyWebhook, err)
	g.observe(provider, opVerifyWebhook, start, err)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// GetStatus implements ports.PaymentGateway
func (g *Guarded) GetStatus(ctx context.Context, gatewaySubscriptionID string) (*ports.RemoteStatus, error) {
	var status *ports.RemoteStatus
	err := g.do(ctx, opGetStatus, func(ctx context.Context) error {
		var err error
		status, err = g.next.GetStatus(ctx, gatewaySubscriptionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// ChargeOneTime implements ports.PaymentGateway
func (g *Guarded) ChargeOneTime(ctx context.Context, req ports.OneTimeChargeRequest) (*ports.ChargeResult, error) {
	var result *ports.ChargeResult
	err := g.do(ctx, opChargeOneTime, func(ctx context.Context) error {
		var err error
		result, err = g.next.ChargeOneTime(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (g *Guarded) do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	provider := string(g.next.Provider())

	callCtx, cancel := g.timeouts.GatewayContext(ctx)
	defer cancel()

	start := time.Now()
	err := g.breaker.Call(func() error {
		return fn(callCtx)
	})
	err = translate(provider, operation, err)
	g.observe(provider, operation, start, err)
	return err
}

func (g *Guarded) observe(provider, operation string, start time.Time, err error) {
	status := outcome(err)
	observability.RecordGatewayRequest(provider, operation, status, time.Since(start).Seconds())

	if err != nil {
		fields := []zap.Field{
			zap.String("provider", provider),
			zap.String("operation", operation),
			zap.String("status", status),
			zap.Error(err),
		}
		if status == "declined" || status == "rejected" {
			g.logger.Info("Gateway call refused", fields...)
		} else {
			g.logger.Error("Gateway call failed", fields...)
		}
	}
}

// countsAgainstProvider reports whether err means the provider misbehaved, as
// opposed to refusing a valid request
func countsAgainstProvider(err error) bool {
	switch domain.GetErrorCode(err) {
	case domain.ErrorCodeGatewayDeclined,
		domain.ErrorCodeSignatureInvalid,
		domain.ErrorCodeValidationFailed,
		domain.ErrorCodeNotFound:
		return false
	}
	return true
}

func translate(provider, operation string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrTooManyRequests):
		return domain.WrapError(domain.ErrorCodeGatewayError, fmt.Sprintf("%s is temporarily unavailable", provider), err)
	case errors.Is(err, context.DeadlineExceeded):
		return domain.WrapError(domain.ErrorCodeGatewayTimeout, domain.ErrGatewayTimedOut.Message, err)
	case domain.GetErrorCode(err) != "":
		return err
	default:
		return domain.WrapError(domain.ErrorCodeGatewayError, fmt.Sprintf("%s %s failed", provider, operation), err)
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests) {
		return "circuit_open"
	}
	switch domain.GetErrorCode(err) {
	case domain.ErrorCodeGatewayDeclined:
		return "declined"
	case domain.ErrorCodeGatewayTimeout:
		return "timeout"
	case domain.ErrorCodeSignatureInvalid, domain.ErrorCodeValidationFailed:
		return "rejected"
	}
	return "error"
}
