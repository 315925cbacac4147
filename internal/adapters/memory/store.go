// Package memory provides in-process repositories for development and tests.
// Transactions are serialized and roll back by restoring a snapshot.
package memory

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// Store holds every table of the in-memory backend
type Store struct {
	txMu sync.Mutex // serializes write transactions
	mu   sync.RWMutex

	subscriptions map[string]*models.Subscription
	plans         map[string]*models.Plan
	invoices      []*models.Invoice // insertion order
}

var _ ports.TransactionManager = (*Store)(nil)

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		subscriptions: make(map[string]*models.Subscription),
		plans:         make(map[string]*models.Plan),
	}
}

type snapshot struct {
	subscriptions map[string]*models.Subscription
	plans         map[string]*models.Plan
	invoices      []*models.Invoice
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		subscriptions: make(map[string]*models.Subscription, len(s.subscriptions)),
		plans:         make(map[string]*models.Plan, len(s.plans)),
		invoices:      make([]*models.Invoice, len(s.invoices)),
	}
	for id, sub := range s.subscriptions {
		snap.subscriptions[id] = sub.Clone()
	}
	for id, p := range s.plans {
		cp := *p
		snap.plans[id] = &cp
	}
	for i, inv := range s.invoices {
		cp := *inv
		snap.invoices[i] = &cp
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = snap.subscriptions
	s.plans = snap.plans
	s.invoices = snap.invoices
}

// WithTransaction runs fn with a nil transaction handle. Any error or panic
// restores the state seen when the transaction began.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
	}()

	if err := fn(ctx, nil); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// WithReadOnlyTransaction runs fn without a snapshot
func (s *Store) WithReadOnlyTransaction(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}
