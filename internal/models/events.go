package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderPlaced          = "ORDER_PLACED"
	EventTypeOrderCancelled       = "ORDER_CANCELLED"
	EventTypeOrderStatusChanged   = "ORDER_STATUS_CHANGED"
	EventTypeOrderStatusRequested = "ORDER_STATUS_REQUESTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPlacedEvent published after a checkout commits
type OrderPlacedEvent struct {
	BaseEvent
	OrderID     int64           `json:"order_id"`
	UserID      *int64          `json:"user_id,omitempty"`
	Currency    string          `json:"currency"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CouponCode  *string         `json:"coupon_code,omitempty"`
	Items       []OrderItemData `json:"items"`
}

// OrderCancelledEvent published after stock for a cancelled order is restored
type OrderCancelledEvent struct {
	BaseEvent
	OrderID int64           `json:"order_id"`
	ActorID *int64          `json:"actor_id,omitempty"`
	Items   []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on every non-cancel transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID int64       `json:"order_id"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
}

// OrderStatusRequestedEvent is produced by fulfilment systems asking for a
// status change (paid, shipped, delivered, returned, cancelled).
type OrderStatusRequestedEvent struct {
	BaseEvent
	OrderID int64       `json:"order_id"`
	Status  OrderStatus `json:"status"`
	Source  string      `json:"source"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	VariantID int64           `json:"variant_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// ItemData converts order items to their event form.
func ItemData(items []OrderItem) []OrderItemData {
	out := make([]OrderItemData, 0, len(items))
	for _, item := range items {
		out = append(out, OrderItemData{
			VariantID: item.VariantID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	return out
}
