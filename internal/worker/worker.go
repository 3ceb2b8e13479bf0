package worker

import (
	"context"
	"errors"
	"fmt"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// StatusTransitioner applies order status changes. *service.OrderService
// implements it.
type StatusTransitioner interface {
	TransitionStatus(ctx context.Context, actor models.Actor, orderID int64, to models.OrderStatus) (*models.Order, error)
}

// EventLog remembers which events were already applied.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// StatusWorker applies status change requests published by fulfilment
// systems (payment capture, shipping, delivery, returns).
type StatusWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	orders       StatusTransitioner
	events       EventLog
	logger       *zap.Logger
}

// NewStatusWorker creates a new status worker
func NewStatusWorker(consumer *broker.Consumer, orders StatusTransitioner, events EventLog) *StatusWorker {
	w := &StatusWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		orders:       orders,
		events:       events,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnStatusRequested(w.HandleStatusRequested)
	return w
}

// Start blocks consuming the order topic until ctx is cancelled
func (w *StatusWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting status worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StatusWorker) Stop() error {
	w.logger.Info("Stopping status worker")
	return w.consumer.Close()
}

// HandleStatusRequested applies one request at most once. Requests the
// state machine rejects are recorded and dropped; infrastructure errors are
// returned and the consumer retries the same message before committing.
func (w *StatusWorker) HandleStatusRequested(ctx context.Context, event *models.OrderStatusRequestedEvent) error {
	ctx, span := util.StartSpan(ctx, "StatusWorker.HandleStatusRequested")
	defer span.End()

	if event.EventID != "" {
		processed, err := w.events.IsEventProcessed(ctx, event.EventID)
		if err != nil {
			return fmt.Errorf("failed to check processed event: %w", err)
		}
		if processed {
			util.EventsConsumedTotal.WithLabelValues(event.EventType, "duplicate").Inc()
			w.logger.Info("Event already processed, skipping", zap.String("event_id", event.EventID))
			return nil
		}
	}

	result := "applied"
	_, err := w.orders.TransitionStatus(ctx, models.SystemActor, event.OrderID, event.Status)
	switch {
	case err == nil:
		w.logger.Info("Applied status request",
			zap.Int64("order_id", event.OrderID),
			zap.String("status", string(event.Status)),
			zap.String("source", event.Source))
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrInvalidArgument):
		result = "rejected"
		w.logger.Warn("Rejected status request",
			zap.Int64("order_id", event.OrderID),
			zap.String("status", string(event.Status)),
			zap.Error(err))
	default:
		util.EventsConsumedTotal.WithLabelValues(event.EventType, "error").Inc()
		return fmt.Errorf("failed to apply status request for order %d: %w", event.OrderID, err)
	}

	if event.EventID != "" {
		if err := w.events.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
			w.logger.Error("Failed to mark event processed", zap.String("event_id", event.EventID), zap.Error(err))
		}
	}
	util.EventsConsumedTotal.WithLabelValues(event.EventType, result).Inc()
	return nil
}
