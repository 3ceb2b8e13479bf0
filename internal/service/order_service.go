package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderServiceConfig carries the business settings of checkout
type OrderServiceConfig struct {
	AllowedCurrencies []string
	DefaultCurrency   string
	Retry             RetryPolicy
	LockTTL           time.Duration
	IdempotencyTTL    time.Duration
}

// OrderService handles order business logic: checkout, cancellation and
// status transitions.
type OrderService struct {
	repo        store.Repository
	coordinator CheckoutCoordinator
	publisher   EventPublisher
	ledger      *Ledger
	guard       availabilityChecker
	cfg         OrderServiceConfig
	now         func() time.Time
	logger      *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	repo store.Repository,
	coordinator CheckoutCoordinator,
	publisher EventPublisher,
	ledger *Ledger,
	cfg OrderServiceConfig,
) *OrderService {
	if coordinator == nil {
		coordinator = NoopCoordinator{}
	}
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy
	}
	return &OrderService{
		repo:        repo,
		coordinator: coordinator,
		publisher:   publisher,
		ledger:      ledger,
		guard:       StockGuard{},
		cfg:         cfg,
		now:         time.Now,
		logger:      util.GetLogger(),
	}
}

// CheckoutRequest represents a request to convert a cart into an order
type CheckoutRequest struct {
	CartID          *int64                  `json:"cart_id,omitempty"`
	ShippingAddress models.AddressSnapshot  `json:"shipping_address" binding:"required"`
	BillingAddress  *models.AddressSnapshot `json:"billing_address,omitempty"`
	CouponCode      *string                 `json:"coupon_code,omitempty"`
	Currency        string                  `json:"currency,omitempty"`
	IdempotencyKey  string                  `json:"-"`
}

// CreateOrder converts the actor's cart (or req.CartID) into a pending
// order. Pricing, stock deduction, coupon usage, order rows and cart
// clearing commit together or not at all.
func (s *OrderService) CreateOrder(ctx context.Context, actor models.Actor, req *CheckoutRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CheckoutLatency.Observe(time.Since(start).Seconds())
	}()

	currency := req.Currency
	if strings.TrimSpace(currency) == "" {
		currency = s.cfg.DefaultCurrency
	}
	currency, err := normalizeCurrency(currency, s.cfg.AllowedCurrencies)
	if err != nil {
		return nil, s.checkoutFailed(err)
	}

	billing := req.ShippingAddress
	if req.BillingAddress != nil {
		billing = *req.BillingAddress
	}
	if err := req.ShippingAddress.Validate(); err != nil {
		return nil, s.checkoutFailed(fmt.Errorf("shipping: %w", err))
	}
	if err := billing.Validate(); err != nil {
		return nil, s.checkoutFailed(fmt.Errorf("billing: %w", err))
	}

	ref := models.CartRef{CartID: req.CartID, UserID: actor.UserID}
	if ref.CartID == nil && ref.UserID == nil {
		return nil, s.checkoutFailed(fmt.Errorf("%w: cart_id is required for guest checkout", models.ErrInvalidArgument))
	}

	var key string
	if raw := strings.TrimSpace(req.IdempotencyKey); raw != "" {
		if len(raw) > maxIdempotencyKeyLen {
			return nil, s.checkoutFailed(fmt.Errorf("%w: idempotency key longer than %d characters", models.ErrInvalidArgument, maxIdempotencyKeyLen))
		}
		key = idempotencyScope(ref, raw)
		existing, err := s.findIdempotentOrder(ctx, actor, key)
		if err != nil {
			return nil, s.checkoutFailed(err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	lockKey := checkoutLockKey(ref)
	token, acquired, err := s.coordinator.AcquireLock(ctx, lockKey, s.cfg.LockTTL)
	switch {
	case err != nil:
		s.logger.Warn("Checkout lock unavailable, relying on row locks", zap.Error(err))
	case !acquired:
		return nil, s.checkoutFailed(models.ErrCheckoutInProgress)
	default:
		defer func() {
			if err := s.coordinator.ReleaseLock(context.Background(), lockKey, token); err != nil {
				s.logger.Warn("Failed to release checkout lock", zap.String("key", lockKey), zap.Error(err))
			}
		}()
	}

	draft := checkoutDraft{
		actor:    actor,
		ref:      ref,
		currency: currency,
		shipping: req.ShippingAddress,
		billing:  billing,
		coupon:   req.CouponCode,
	}
	if key != "" {
		draft.idempotencyKey = &key
	}

	var order *models.Order
	err = s.cfg.Retry.run(ctx, "checkout", func() error {
		var err error
		order, err = s.placeOrder(ctx, draft)
		return err
	})
	if err != nil {
		if key != "" && errors.Is(err, models.ErrConflict) {
			// Lost the race to a concurrent request with the same key.
			if existing, lookupErr := s.findIdempotentOrder(ctx, actor, key); lookupErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, s.checkoutFailed(err)
	}

	util.CheckoutsCompletedTotal.Inc()
	if order.CouponID != nil {
		util.CouponRedemptionsTotal.Inc()
	}
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.String("currency", order.Currency),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	s.publishOrderPlaced(ctx, order)

	if key != "" {
		if err := s.coordinator.SetIdempotentOrder(ctx, key, order.ID, s.cfg.IdempotencyTTL); err != nil {
			s.logger.Warn("Failed to cache idempotency key", zap.String("key", key), zap.Error(err))
		}
	}

	return order, nil
}

type checkoutDraft struct {
	actor          models.Actor
	ref            models.CartRef
	currency       string
	shipping       models.AddressSnapshot
	billing        models.AddressSnapshot
	coupon         *string
	idempotencyKey *string
}

// placeOrder runs one attempt of the checkout transaction
func (s *OrderService) placeOrder(ctx context.Context, d checkoutDraft) (*models.Order, error) {
	var order *models.Order

	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		cart, err := tx.GetCartForUpdate(ctx, d.ref)
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrEmptyCart
		}
		if err != nil {
			return err
		}
		if cart.UserID != nil && !d.actor.Owns(cart.UserID) {
			return fmt.Errorf("%w: cart %d", models.ErrNotFound, cart.ID)
		}
		if len(cart.Items) == 0 {
			return models.ErrEmptyCart
		}

		lines := make([]Line, 0, len(cart.Items))
		ids := make([]int64, 0, len(cart.Items))
		for _, item := range cart.Items {
			lines = append(lines, Line{VariantID: item.VariantID, Quantity: item.Quantity})
			ids = append(ids, item.VariantID)
		}
		// Ledger writes lock variant rows in this order; ascending ids keep
		// concurrent checkouts from deadlocking.
		sort.Slice(lines, func(i, j int) bool { return lines[i].VariantID < lines[j].VariantID })

		prices, err := tx.GetVariantPrices(ctx, ids, d.currency)
		if err != nil {
			return err
		}
		subtotal := decimal.Zero
		for _, line := range lines {
			price, ok := prices[line.VariantID]
			if !ok {
				return fmt.Errorf("%w: variant %d is unavailable in %s", models.ErrNotFound, line.VariantID, d.currency)
			}
			subtotal = subtotal.Add(price.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}
		subtotal = subtotal.Round(2)

		if err := s.guard.CheckAvailability(ctx, tx, lines); err != nil {
			return err
		}

		order = &models.Order{
			UserID:          d.actor.UserID,
			Currency:        d.currency,
			Subtotal:        subtotal,
			DiscountAmount:  decimal.Zero,
			TotalAmount:     subtotal,
			Status:          models.OrderStatusPending,
			ShippingAddress: d.shipping,
			BillingAddress:  d.billing,
			IdempotencyKey:  d.idempotencyKey,
		}

		if d.coupon != nil && strings.TrimSpace(*d.coupon) != "" {
			coupon, err := tx.LockCouponByCode(ctx, strings.TrimSpace(*d.coupon))
			if err != nil {
				return err
			}
			result, err := EvaluateCoupon(coupon, subtotal, d.currency, s.now())
			if err != nil {
				return err
			}
			if err := tx.IncrementCouponUsage(ctx, coupon.ID); err != nil {
				return err
			}
			order.TotalAmount = result.FinalAmount
			order.DiscountAmount = subtotal.Sub(result.FinalAmount)
			order.CouponID = &coupon.ID
			order.CouponCode = &coupon.Code
		}

		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}

		order.Items = make([]models.OrderItem, 0, len(lines))
		for _, line := range lines {
			price := prices[line.VariantID]
			item := models.OrderItem{
				OrderID:   order.ID,
				ProductID: price.ProductID,
				VariantID: line.VariantID,
				SKU:       price.SKU,
				Quantity:  line.Quantity,
				UnitPrice: price.Price,
				LineTotal: price.Price.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2),
			}
			if err := tx.CreateOrderItem(ctx, &item); err != nil {
				return fmt.Errorf("failed to create order item: %w", err)
			}
			order.Items = append(order.Items, item)
		}

		for _, line := range lines {
			_, err := s.ledger.Record(ctx, tx, MovementInput{
				VariantID: line.VariantID,
				Change:    -line.Quantity,
				Reason:    models.ReasonOrderPurchase,
				ActorID:   d.actor.UserID,
				OrderID:   &order.ID,
			})
			if err != nil {
				return err
			}
		}

		return tx.ClearCart(ctx, cart.ID)
	})
	if err != nil {
		return nil, err
	}

	util.InventoryMovementsTotal.WithLabelValues(string(models.ReasonOrderPurchase)).Add(float64(len(order.Items)))
	return order, nil
}

// findIdempotentOrder resolves a scoped key through the coordinator cache
// first and the orders table second. A stored order the actor could not
// have placed is reported as a conflict, never returned.
func (s *OrderService) findIdempotentOrder(ctx context.Context, actor models.Actor, key string) (*models.Order, error) {
	var existing *models.Order
	if orderID, found, err := s.coordinator.GetIdempotentOrder(ctx, key); err != nil {
		s.logger.Warn("Idempotency cache lookup failed", zap.Error(err))
	} else if found {
		order, err := s.loadOrder(ctx, orderID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		existing = order
	}

	if existing == nil {
		order, err := s.repo.GetOrderByIdempotencyKey(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if order == nil {
			return nil, nil
		}
		items, err := s.repo.GetOrderItems(ctx, order.ID)
		if err != nil {
			return nil, err
		}
		order.Items = items
		existing = order
	}

	if !canReplayOrder(actor, existing) {
		s.logger.Warn("Idempotency key matched an order of another buyer",
			zap.Int64("order_id", existing.ID))
		return nil, fmt.Errorf("%w: idempotency key already used", models.ErrConflict)
	}

	s.logger.Info("Duplicate checkout request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", existing.ID))
	util.IdempotentReplaysTotal.Inc()
	return existing, nil
}

// GetOrder returns an order with its items. Orders of other users are
// reported as not found unless the actor is staff.
func (s *OrderService) GetOrder(ctx context.Context, actor models.Actor, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !canAccessOrder(actor, order) {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, orderID)
	}
	return order, nil
}

func (s *OrderService) loadOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order) {
	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: s.now(),
		},
		OrderID:     order.ID,
		UserID:      order.UserID,
		Currency:    order.Currency,
		TotalAmount: order.TotalAmount,
		CouponCode:  order.CouponCode,
		Items:       models.ItemData(order.Items),
	}

	if err := s.publisher.PublishOrderPlaced(ctx, event); err != nil {
		util.EventsPublishFailedTotal.WithLabelValues(models.EventTypeOrderPlaced).Inc()
		s.logger.Error("Failed to publish OrderPlaced event",
			zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// checkoutFailed counts a failed checkout under a coarse reason label
func (s *OrderService) checkoutFailed(err error) error {
	util.CheckoutsFailedTotal.WithLabelValues(failureReason(err)).Inc()
	if errors.Is(err, models.ErrCouponInvalid) {
		util.CouponRejectionsTotal.WithLabelValues(models.CouponReason(err)).Inc()
	}
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrCouponInvalid):
		return "coupon_invalid"
	case errors.Is(err, models.ErrEmptyCart):
		return "empty_cart"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, models.ErrTransactionConflict):
		return "conflict"
	case errors.Is(err, models.ErrCheckoutInProgress):
		return "in_progress"
	case errors.Is(err, models.ErrConflict):
		return "duplicate"
	default:
		return "internal"
	}
}

func checkoutLockKey(ref models.CartRef) string {
	if ref.CartID != nil {
		return "checkout:cart:" + strconv.FormatInt(*ref.CartID, 10)
	}
	return "checkout:user:" + strconv.FormatInt(*ref.UserID, 10)
}

func canAccessOrder(actor models.Actor, order *models.Order) bool {
	return actor.IsStaff() || actor.Owns(order.UserID)
}

const maxIdempotencyKeyLen = 200

// idempotencyScope binds a client key to the buyer: the user when signed in,
// otherwise the guest cart. Two buyers sending the same key never collide.
func idempotencyScope(ref models.CartRef, key string) string {
	if ref.UserID != nil {
		return "user:" + strconv.FormatInt(*ref.UserID, 10) + ":" + key
	}
	return "cart:" + strconv.FormatInt(*ref.CartID, 10) + ":" + key
}

// canReplayOrder reports whether order may be returned as the replay of the
// actor's request. Staff rights do not apply here.
func canReplayOrder(actor models.Actor, order *models.Order) bool {
	if actor.UserID == nil {
		return order.UserID == nil
	}
	return actor.Owns(order.UserID)
}
