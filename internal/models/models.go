package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog entry. Stock lives on its variants.
type Product struct {
	ID        int64     `db:"id" json:"id"`
	SKU       string    `db:"sku" json:"sku"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ProductVariant is a sellable configuration of a product carrying its own
// stock count. StockQuantity is a materialized view of the inventory ledger.
type ProductVariant struct {
	ID            int64     `db:"id" json:"id"`
	ProductID     int64     `db:"product_id" json:"product_id"`
	SKU           string    `db:"sku" json:"sku"`
	Name          string    `db:"name" json:"name"`
	StockQuantity int       `db:"stock_quantity" json:"stock_quantity"`
	IsActive      bool      `db:"is_active" json:"is_active"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// ProductPrice is the catalog price of a variant in one currency
type ProductPrice struct {
	ID        int64           `db:"id" json:"id"`
	VariantID int64           `db:"variant_id" json:"variant_id"`
	Currency  string          `db:"currency" json:"currency"`
	Price     decimal.Decimal `db:"price" json:"price"`
	IsActive  bool            `db:"is_active" json:"is_active"`
}

// VariantPrice is the resolved price of an active variant used at checkout.
type VariantPrice struct {
	VariantID int64           `db:"variant_id"`
	ProductID int64           `db:"product_id"`
	SKU       string          `db:"sku"`
	Price     decimal.Decimal `db:"price"`
}

// Cart is a per-user (or guest) collection of items awaiting checkout.
type Cart struct {
	ID        int64      `db:"id" json:"id"`
	UserID    *int64     `db:"user_id" json:"user_id,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	Items     []CartItem `db:"-" json:"items"`
}

// CartItem is one variant line in a cart
type CartItem struct {
	ID        int64 `db:"id" json:"id"`
	CartID    int64 `db:"cart_id" json:"cart_id"`
	VariantID int64 `db:"variant_id" json:"variant_id"`
	Quantity  int   `db:"quantity" json:"quantity"`
}

// CartRef selects the cart to check out: an explicit cart id wins over the
// owning user.
type CartRef struct {
	CartID *int64
	UserID *int64
}

// AddressSnapshot is an address captured by value when an order is placed.
type AddressSnapshot struct {
	Name      string `json:"name" binding:"required"`
	Street    string `json:"street" binding:"required"`
	Apartment string `json:"apartment,omitempty"`
	City      string `json:"city" binding:"required"`
	State     string `json:"state" binding:"required"`
	Zip       string `json:"zip" binding:"required"`
	Country   string `json:"country" binding:"required"`
}

// Validate reports missing mandatory fields.
func (a AddressSnapshot) Validate() error {
	missing := make([]string, 0)
	for field, val := range map[string]string{
		"name": a.Name, "street": a.Street, "city": a.City,
		"state": a.State, "zip": a.Zip, "country": a.Country,
	} {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: address missing %s", ErrInvalidArgument, strings.Join(missing, ", "))
	}
	return nil
}

// Value stores the snapshot as JSON text; lib/pq would send []byte as bytea.
func (a AddressSnapshot) Value() (driver.Value, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a JSON snapshot column.
func (a *AddressSnapshot) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusReturned  OrderStatus = "returned"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:      {OrderStatusShipped, OrderStatusReturned},
	OrderStatusShipped:   {OrderStatusDelivered, OrderStatusReturned},
	OrderStatusDelivered: {OrderStatusReturned},
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusReturned:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Order represents a completed checkout
type Order struct {
	ID              int64           `db:"id" json:"id"`
	UserID          *int64          `db:"user_id" json:"user_id,omitempty"`
	Currency        string          `db:"currency" json:"currency"`
	Subtotal        decimal.Decimal `db:"subtotal" json:"subtotal"`
	DiscountAmount  decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	CouponID        *int64          `db:"coupon_id" json:"coupon_id,omitempty"`
	CouponCode      *string         `db:"coupon_code" json:"coupon_code,omitempty"`
	Status          OrderStatus     `db:"status" json:"status"`
	ShippingAddress AddressSnapshot `db:"shipping_address" json:"shipping_address"`
	BillingAddress  AddressSnapshot `db:"billing_address" json:"billing_address"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"-"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	Items           []OrderItem     `db:"-" json:"items"`
}

// OrderItem is a line item with the unit price copied at purchase time
type OrderItem struct {
	ID        int64           `db:"id" json:"id"`
	OrderID   int64           `db:"order_id" json:"order_id"`
	ProductID int64           `db:"product_id" json:"product_id"`
	VariantID int64           `db:"variant_id" json:"variant_id"`
	SKU       string          `db:"sku" json:"sku"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	LineTotal decimal.Decimal `db:"line_total" json:"line_total"`
}

// MovementReason classifies an inventory ledger entry.
type MovementReason string

const (
	ReasonOrderPurchase MovementReason = "order_purchase"
	ReasonOrderCancel   MovementReason = "order_cancel"
	ReasonAdminUpdate   MovementReason = "admin_update"
	ReasonRestock       MovementReason = "restock"
	ReasonDamage        MovementReason = "damage"
	ReasonSystemAdjust  MovementReason = "system_adjust"
)

// Valid reports whether r is one of the enumerated reasons.
func (r MovementReason) Valid() bool {
	switch r {
	case ReasonOrderPurchase, ReasonOrderCancel, ReasonAdminUpdate,
		ReasonRestock, ReasonDamage, ReasonSystemAdjust:
		return true
	}
	return false
}

// InventoryMovement is an immutable ledger entry. NewQuantity always equals
// PreviousQuantity + Change.
type InventoryMovement struct {
	ID               int64          `db:"id" json:"id"`
	VariantID        int64          `db:"variant_id" json:"variant_id"`
	PreviousQuantity int            `db:"previous_quantity" json:"previous_quantity"`
	Change           int            `db:"change" json:"change"`
	NewQuantity      int            `db:"new_quantity" json:"new_quantity"`
	Reason           MovementReason `db:"reason" json:"reason"`
	ActorID          *int64         `db:"actor_id" json:"actor_id,omitempty"`
	OrderID          *int64         `db:"order_id" json:"order_id,omitempty"`
	Note             *string        `db:"note" json:"note,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
}

// Discount types
const (
	DiscountPercentage = "percentage"
	DiscountFixed      = "fixed"
)

// FixedDiscounts maps an upper-case currency code to a discount amount.
type FixedDiscounts map[string]decimal.Decimal

// Value stores the map as JSON.
func (f FixedDiscounts) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]decimal.Decimal(f))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads a JSON map column.
func (f *FixedDiscounts) Scan(src interface{}) error {
	m := make(map[string]decimal.Decimal)
	if err := scanJSON(src, &m); err != nil {
		return err
	}
	*f = m
	return nil
}

// Coupon is a discount code
type Coupon struct {
	ID                int64               `db:"id" json:"id"`
	Code              string              `db:"code" json:"code"`
	Description       *string             `db:"description" json:"description,omitempty"`
	DiscountType      string              `db:"discount_type" json:"discount_type"`
	DiscountValue     decimal.NullDecimal `db:"discount_value" json:"discount_value"`
	FixedDiscounts    FixedDiscounts      `db:"fixed_discounts" json:"fixed_discounts"`
	MinOrderValue     decimal.NullDecimal `db:"min_order_value" json:"min_order_value"`
	MaxDiscountAmount decimal.NullDecimal `db:"max_discount_amount" json:"max_discount_amount"`
	UsageLimit        *int                `db:"usage_limit" json:"usage_limit,omitempty"`
	UsedCount         int                 `db:"used_count" json:"used_count"`
	StartDate         *time.Time          `db:"start_date" json:"start_date,omitempty"`
	EndDate           *time.Time          `db:"end_date" json:"end_date,omitempty"`
	IsActive          bool                `db:"is_active" json:"is_active"`
	CreatedAt         time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at" json:"updated_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}

func scanJSON(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
