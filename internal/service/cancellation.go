package service

import (
	"context"
	"fmt"
	"sort"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Cancel reverses a pending order: every item is returned to stock through
// the ledger and the order moves to cancelled, in one transaction. Coupon
// usage is kept.
func (s *OrderService) Cancel(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	var order *models.Order
	err := s.cfg.Retry.run(ctx, "cancel", func() error {
		var err error
		order, err = s.cancelOnce(ctx, actor, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}

	util.OrdersCancelledTotal.Inc()
	util.OrderTransitionsTotal.WithLabelValues(string(models.OrderStatusPending), string(models.OrderStatusCancelled)).Inc()
	util.InventoryMovementsTotal.WithLabelValues(string(models.ReasonOrderCancel)).Add(float64(len(order.Items)))
	s.logger.Info("Order cancelled",
		zap.Int64("order_id", order.ID),
		zap.Int("items_restocked", len(order.Items)))

	event := &models.OrderCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderCancelled,
			Timestamp: s.now(),
		},
		OrderID: order.ID,
		ActorID: actor.UserID,
		Items:   models.ItemData(order.Items),
	}
	if err := s.publisher.PublishOrderCancelled(ctx, event); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(models.EventTypeOrderCancelled).Inc()
		s.logger.Error("Failed to publish OrderCancelled event",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}

	return order, nil
}

func (s *OrderService) cancelOnce(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	var order *models.Order

	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !canAccessOrder(actor, order) {
			return fmt.Errorf("%w: order %d", models.ErrNotFound, orderID)
		}
		if !order.Status.CanTransitionTo(models.OrderStatusCancelled) {
			return &models.InvalidTransitionError{From: order.Status, To: models.OrderStatusCancelled}
		}

		items, err := tx.GetOrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		sort.Slice(items, func(i, j int) bool { return items[i].VariantID < items[j].VariantID })
		for _, item := range items {
			_, err := s.ledger.Record(ctx, tx, MovementInput{
				VariantID: item.VariantID,
				Change:    item.Quantity,
				Reason:    models.ReasonOrderCancel,
				ActorID:   actor.UserID,
				OrderID:   &order.ID,
			})
			if err != nil {
				return err
			}
		}

		if err := tx.UpdateOrderStatus(ctx, orderID, models.OrderStatusCancelled); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		order.Status = models.OrderStatusCancelled
		order.UpdatedAt = s.now()
		order.Items = items
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// TransitionStatus moves an order along the status machine on behalf of
// staff or a fulfilment system. Cancellation is delegated to Cancel so
// stock is restored; returns do not restock.
func (s *OrderService) TransitionStatus(ctx context.Context, actor models.Actor, orderID int64, to models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.TransitionStatus")
	defer span.End()

	if !actor.IsStaff() {
		return nil, models.ErrForbidden
	}
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidArgument, to)
	}
	if to == models.OrderStatusCancelled {
		return s.Cancel(ctx, actor, orderID)
	}

	var (
		order *models.Order
		from  models.OrderStatus
	)
	err := s.cfg.Retry.run(ctx, "transition", func() error {
		return s.repo.WithTx(ctx, func(tx store.Tx) error {
			var err error
			order, err = tx.LockOrder(ctx, orderID)
			if err != nil {
				return err
			}
			from = order.Status
			if !from.CanTransitionTo(to) {
				return &models.InvalidTransitionError{From: from, To: to}
			}
			if err := tx.UpdateOrderStatus(ctx, orderID, to); err != nil {
				return fmt.Errorf("failed to update order status: %w", err)
			}
			order.Items, err = tx.GetOrderItems(ctx, orderID)
			if err != nil {
				return err
			}
			order.Status = to
			order.UpdatedAt = s.now()
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
	s.logger.Info("Order status changed",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderStatusChanged,
			Timestamp: s.now(),
		},
		OrderID: orderID,
		From:    from,
		To:      to,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(models.EventTypeOrderStatusChanged).Inc()
		s.logger.Error("Failed to publish OrderStatusChanged event",
			zap.Int64("order_id", orderID), zap.Error(err))
	}

	return order, nil
}
