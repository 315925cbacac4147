package notify

import (
	"context"
	"errors"

	"github.com/kevin07696/subscription-service/internal/domain/models"
	"github.com/kevin07696/subscription-service/internal/domain/ports"
)

// MultiNotifier fans a notification out to every channel. A failing channel
// does not stop the others; their errors are joined.
type MultiNotifier struct {
	notifiers []ports.Notifier
}

var _ ports.Notifier = (*MultiNotifier)(nil)

// NewMultiNotifier creates a fan-out notifier over the given channels
func NewMultiNotifier(notifiers ...ports.Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify delivers to every channel
func (m *MultiNotifier) Notify(ctx context.Context, n models.Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of channels
func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}
