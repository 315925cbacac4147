package mocks

import (
	"context"
	"sync"

	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// MockNotifier captures notifications handed to the sink
type MockNotifier struct {
	mu    sync.Mutex
	err   error
	Calls []models.Notification
}

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

// SetError makes every Notify call fail after recording it
func (m *MockNotifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Notify implements Notifier
func (m *MockNotifier) Notify(ctx context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, n)
	return m.err
}

// Count returns how many notifications of kind were sent
func (m *MockNotifier) Count(kind models.NotificationKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// Kinds returns the kinds sent, in order
func (m *MockNotifier) Kinds() []models.NotificationKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.NotificationKind, 0, len(m.Calls))
	for _, c := range m.Calls {
		out = append(out, c.Kind)
	}
	return out
}

// Last returns the most recent notification
func (m *MockNotifier) Last() (models.Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return models.Notification{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

// Reset clears captured notifications
func (m *MockNotifier) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.err = nil
}
