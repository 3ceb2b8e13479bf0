package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

// GetOrder retrieves an order by ID without its items
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("order", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key. It
// returns nil, nil when no order carries the key.
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return orderItems(ctx, s.db, orderID)
}

func orderItems(ctx context.Context, q interface {
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}, orderID int64) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0)
	err := q.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY variant_id", orderID)
	return items, err
}

// CreateOrder inserts the order header
func (t *txn) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders
			(user_id, currency, subtotal, discount_amount, total_amount, coupon_id, coupon_code,
			 status, shipping_address, billing_address, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		order.UserID, order.Currency, order.Subtotal, order.DiscountAmount, order.TotalAmount,
		order.CouponID, order.CouponCode, order.Status, order.ShippingAddress, order.BillingAddress,
		order.IdempotencyKey,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return classify(fmt.Errorf("failed to create order: %w", err))
	}
	return nil
}

// CreateOrderItem creates a new order item
func (t *txn) CreateOrderItem(ctx context.Context, item *models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, variant_id, sku, quantity, unit_price, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return t.tx.GetContext(ctx, &item.ID, query,
		item.OrderID, item.ProductID, item.VariantID, item.SKU, item.Quantity, item.UnitPrice, item.LineTotal)
}

// LockOrder reads an order row with FOR UPDATE
func (t *txn) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("order", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	return &order, nil
}

func (t *txn) GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	return orderItems(ctx, t.tx, orderID)
}

// UpdateOrderStatus updates order status
func (t *txn) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}
