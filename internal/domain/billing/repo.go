package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when no row matches.
var ErrNotFound = errors.New("not found")

// SubscriptionRepository defines the data access interface for subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *Subscription) error
	GetByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Subscription, error)
	LatestForUser(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	ActiveForUser(ctx context.Context, userID uuid.UUID, at time.Time) (*Subscription, error)
	// UpdateIfPending writes status, payment method, period and metadata only
	// while the stored row is still pending. It reports whether a row changed.
	UpdateIfPending(ctx context.Context, sub *Subscription) (bool, error)
}

// WebhookLogRepository defines the data access interface for the callback audit log.
type WebhookLogRepository interface {
	Create(ctx context.Context, l *WebhookLog) error
	Finalize(ctx context.Context, l *WebhookLog) error
	List(ctx context.Context, limit, offset int) ([]*WebhookLog, int, error)
}
