package store

import (
	"context"

	"checkout-service/internal/models"
)

// StockReader reads cached stock levels. Variants that do not exist are
// absent from the returned map.
type StockReader interface {
	StockLevels(ctx context.Context, variantIDs []int64) (map[int64]int, error)
}

// Tx is the set of operations available inside a single database
// transaction. Lock* methods take row locks held until commit or rollback.
type Tx interface {
	StockReader

	LockVariant(ctx context.Context, variantID int64) (*models.ProductVariant, error)
	SetStock(ctx context.Context, variantID int64, quantity int) error
	InsertMovement(ctx context.Context, m *models.InventoryMovement) error

	GetCartForUpdate(ctx context.Context, ref models.CartRef) (*models.Cart, error)
	ClearCart(ctx context.Context, cartID int64) error
	GetVariantPrices(ctx context.Context, variantIDs []int64, currency string) (map[int64]models.VariantPrice, error)

	LockCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	IncrementCouponUsage(ctx context.Context, couponID int64) error

	CreateOrder(ctx context.Context, order *models.Order) error
	CreateOrderItem(ctx context.Context, item *models.OrderItem) error
	LockOrder(ctx context.Context, orderID int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) error
}

// Repository is the persistence boundary of the checkout core. Store (Postgres)
// and memstore.Store implement it.
type Repository interface {
	StockReader

	// WithTx runs fn in one transaction. fn's error rolls everything back;
	// serialization failures surface as models.ErrTransactionConflict.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetVariant(ctx context.Context, variantID int64) (*models.ProductVariant, error)
	ListMovements(ctx context.Context, variantID int64, limit, offset int) ([]models.InventoryMovement, error)
	MovementsForVariant(ctx context.Context, variantID int64) ([]models.InventoryMovement, error)

	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)

	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	CreateCoupon(ctx context.Context, coupon *models.Coupon) error
	GetCoupon(ctx context.Context, couponID int64) (*models.Coupon, error)
	ListCoupons(ctx context.Context, filter CouponFilter) ([]models.Coupon, error)
	UpdateCoupon(ctx context.Context, coupon *models.Coupon) error

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error

	Ping(ctx context.Context) error
	Close() error
}
