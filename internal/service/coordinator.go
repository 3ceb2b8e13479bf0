package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// CheckoutCoordinator serializes checkouts of the same cart across
// instances and caches idempotency keys. The database stays authoritative
// for both; implementations may fail open. redisclient.Client implements it.
type CheckoutCoordinator interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
	GetIdempotentOrder(ctx context.Context, key string) (orderID int64, found bool, err error)
	SetIdempotentOrder(ctx context.Context, key string, orderID int64, ttl time.Duration) error
}

// EventPublisher publishes domain events after commit. broker.EventPublisher
// implements it.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
}

// NoopCoordinator always grants the lock and never remembers keys. Used when
// Redis is disabled.
type NoopCoordinator struct{}

func (NoopCoordinator) AcquireLock(context.Context, string, time.Duration) (string, bool, error) {
	return "", true, nil
}

func (NoopCoordinator) ReleaseLock(context.Context, string, string) error { return nil }

func (NoopCoordinator) GetIdempotentOrder(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}

func (NoopCoordinator) SetIdempotentOrder(context.Context, string, int64, time.Duration) error {
	return nil
}

// NoopPublisher drops events. Used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderPlaced(context.Context, *models.OrderPlacedEvent) error { return nil }

func (NoopPublisher) PublishOrderCancelled(context.Context, *models.OrderCancelledEvent) error {
	return nil
}

func (NoopPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}
