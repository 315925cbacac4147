package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeoutConfig bounds every blocking call the service makes.
//
// Tiers, outermost first:
//
//	HTTP handler (60s) or cron job (5m)
//	  gateway call (30s): charge, cancel, status fetch
//	  lock wait (10s): per-subscription serialization
//	post-commit side effects (20s): documents, quota reset, notifications
//
// Side effects run detached from the request, so they get their own budget
// rather than inheriting the handler deadline.
type TimeoutConfig struct {
	HTTPHandler time.Duration
	CronJob     time.Duration
	GatewayCall time.Duration
	LockWait    time.Duration
	SideEffects time.Duration
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 60 * time.Second,
		CronJob:     5 * time.Minute,
		GatewayCall: 30 * time.Second,
		LockWait:    10 * time.Second,
		SideEffects: 20 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler: 5 * time.Second,
		CronJob:     30 * time.Second,
		GatewayCall: 2 * time.Second,
		LockWait:    1 * time.Second,
		SideEffects: 2 * time.Second,
	}
}

// Validate checks that every inner tier finishes before its caller gives up
func (tc *TimeoutConfig) Validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"http handler": tc.HTTPHandler,
		"cron job":     tc.CronJob,
		"gateway call": tc.GatewayCall,
		"lock wait":    tc.LockWait,
		"side effects": tc.SideEffects,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s timeout must be positive", name))
		}
	}
	if tc.GatewayCall+tc.LockWait >= tc.HTTPHandler {
		errs = append(errs, fmt.Errorf("gateway call (%v) plus lock wait (%v) must fit in the http handler timeout (%v)",
			tc.GatewayCall, tc.LockWait, tc.HTTPHandler))
	}
	if tc.GatewayCall >= tc.CronJob {
		errs = append(errs, fmt.Errorf("gateway call (%v) must be shorter than the cron job timeout (%v)",
			tc.GatewayCall, tc.CronJob))
	}
	return errors.Join(errs...)
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// CronContext creates a context with timeout for one scheduler job run
func (tc *TimeoutConfig) CronContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.CronJob)
}

// GatewayContext creates a context for a single payment provider call
func (tc *TimeoutConfig) GatewayContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.GatewayCall)
}

// LockContext bounds how long a caller waits for a subscription lock
func (tc *TimeoutConfig) LockContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.LockWait)
}

// SideEffectContext detaches from parent's cancellation, keeping its values,
// and applies the side-effect budget
func (tc *TimeoutConfig) SideEffectContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), tc.SideEffects)
}
