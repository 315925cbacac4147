// Package gateway holds the provider-neutral plumbing shared by the payment
// gateway adapters: the registry, circuit breaking, signing and money helpers.
package gateway

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kevin07696/subscription-service/internal/domain"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// Registry resolves the adapter bound to each provider
type Registry struct {
	mu       sync.RWMutex
	gateways map[models.Provider]ports.PaymentGateway
}

var _ ports.GatewayResolver = (*Registry)(nil)

// NewRegistry creates a registry with the given adapters
func NewRegistry(gateways ...ports.PaymentGateway) *Registry {
	r := &Registry{gateways: make(map[models.Provider]ports.PaymentGateway)}
	for _, gw := range gateways {
		r.Register(gw)
	}
	return r
}

// Register binds gw to its provider, replacing any previous adapter
func (r *Registry) Register(gw ports.PaymentGateway) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[gw.Provider()] = gw
}

// Gateway implements ports.GatewayResolver
func (r *Registry) Gateway(provider models.Provider) (ports.PaymentGateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[provider]
	if !ok {
		return nil, domain.NewValidationError(fmt.Sprintf("payment provider %q is not configured", provider)).
			WithDetail("provider", string(provider))
	}
	return gw, nil
}

// Providers lists the configured providers in name order
func (r *Registry) Providers() []models.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
