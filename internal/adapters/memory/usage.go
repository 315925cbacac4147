package memory

import (
	"context"
	"maps"
	"sync"

	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// UsageTracker keeps tenant usage counters in memory
type UsageTracker struct {
	mu     sync.Mutex
	usage  map[string]models.Usage
	warned map[string]map[models.Resource]bool
	resets map[string]int
}

var _ ports.UsageTracker = (*UsageTracker)(nil)

// NewUsageTracker creates an empty tracker
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		usage:  make(map[string]models.Usage),
		warned: make(map[string]map[models.Resource]bool),
		resets: make(map[string]int),
	}
}

// Set replaces a tenant's usage counters
func (u *UsageTracker) Set(tenantID string, usage models.Usage) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage[tenantID] = maps.Clone(usage)
}

// Usage returns a copy of the tenant's counters; unknown tenants have none
func (u *UsageTracker) Usage(ctx context.Context, tenantID string) (models.Usage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	out := maps.Clone(u.usage[tenantID])
	if out == nil {
		out = models.Usage{}
	}
	return out, nil
}

// ReportUsage merges the reported counters into the tenant's
func (u *UsageTracker) ReportUsage(ctx context.Context, tenantID string, usage models.Usage) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	cur := u.usage[tenantID]
	if cur == nil {
		cur = models.Usage{}
		u.usage[tenantID] = cur
	}
	maps.Copy(cur, usage)
	return nil
}

// RecordQuotaWarning marks resource as warned
func (u *UsageTracker) RecordQuotaWarning(ctx context.Context, tenantID string, resource models.Resource) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	warned := u.warned[tenantID]
	if warned == nil {
		warned = make(map[models.Resource]bool)
		u.warned[tenantID] = warned
	}
	if warned[resource] {
		return false, nil
	}
	warned[resource] = true
	return true, nil
}

// ResetQuotaWarnings clears the tenant's warning state
func (u *UsageTracker) ResetQuotaWarnings(ctx context.Context, tenantID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.warned, tenantID)
	u.resets[tenantID]++
	return nil
}

// Resets reports how often the tenant's warnings were reset
func (u *UsageTracker) Resets(tenantID string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.resets[tenantID]
}
