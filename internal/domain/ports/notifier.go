package ports

import (
	"context"

	"github.com/kevin07696/subscription-service/internal/domain/models"
)

// Notifier is the external notification sink. Callers log and swallow its errors.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}
