// Package memstore is an in-process implementation of store.Repository used
// by tests and by the server when STORE_DRIVER=memory.
//
// Transactions are serialized behind one mutex and run against a deep copy
// of the state, which replaces the live state only when fn succeeds.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/shopspring/decimal"
)

type priceKey struct {
	variantID int64
	currency  string
}

type state struct {
	products   map[int64]models.Product
	variants   map[int64]models.ProductVariant
	prices     map[priceKey]models.ProductPrice
	carts      map[int64]models.Cart
	coupons    map[int64]models.Coupon
	orders     map[int64]models.Order
	orderItems map[int64][]models.OrderItem
	movements  []models.InventoryMovement
	processed  map[string]models.ProcessedEvent
	lastID     int64
}

func newState() *state {
	return &state{
		products:   make(map[int64]models.Product),
		variants:   make(map[int64]models.ProductVariant),
		prices:     make(map[priceKey]models.ProductPrice),
		carts:      make(map[int64]models.Cart),
		coupons:    make(map[int64]models.Coupon),
		orders:     make(map[int64]models.Order),
		orderItems: make(map[int64][]models.OrderItem),
		processed:  make(map[string]models.ProcessedEvent),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.variants {
		c.variants[k] = v
	}
	for k, v := range s.prices {
		c.prices[k] = v
	}
	for k, v := range s.carts {
		v.Items = append([]models.CartItem(nil), v.Items...)
		c.carts[k] = v
	}
	for k, v := range s.coupons {
		c.coupons[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.orderItems {
		c.orderItems[k] = append([]models.OrderItem(nil), v...)
	}
	c.movements = append([]models.InventoryMovement(nil), s.movements...)
	for k, v := range s.processed {
		c.processed[k] = v
	}
	c.lastID = s.lastID
	return c
}

func (s *state) nextID() int64 {
	s.lastID++
	return s.lastID
}

// Store keeps all rows in memory
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

var _ store.Repository = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// WithTx runs fn against a private copy of the state and publishes the copy
// only when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	work := s.state.clone()
	if err := fn(&txn{st: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *Store) StockLevels(_ context.Context, variantIDs []int64) (map[int64]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return stockLevels(s.state, variantIDs), nil
}

func stockLevels(st *state, variantIDs []int64) map[int64]int {
	levels := make(map[int64]int, len(variantIDs))
	for _, id := range variantIDs {
		if v, ok := st.variants[id]; ok {
			levels[id] = v.StockQuantity
		}
	}
	return levels
}

func (s *Store) GetVariant(_ context.Context, variantID int64) (*models.ProductVariant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.state.variants[variantID]
	if !ok {
		return nil, fmt.Errorf("%w: variant %d", models.ErrNotFound, variantID)
	}
	return &v, nil
}

// ListMovements returns newest first
func (s *Store) ListMovements(_ context.Context, variantID int64, limit, offset int) ([]models.InventoryMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.InventoryMovement, 0)
	for i := len(s.state.movements) - 1; i >= 0; i-- {
		if s.state.movements[i].VariantID == variantID {
			out = append(out, s.state.movements[i])
		}
	}
	if offset >= len(out) {
		return []models.InventoryMovement{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MovementsForVariant(_ context.Context, variantID int64) ([]models.InventoryMovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.InventoryMovement, 0)
	for _, m := range s.state.movements {
		if m.VariantID == variantID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) GetOrder(_ context.Context, orderID int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.state.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, orderID)
	}
	return &o, nil
}

func (s *Store) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderItem{}, s.state.orderItems[orderID]...), nil
}

func (s *Store) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.state.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return &o, nil
		}
	}
	return nil, nil
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := findCoupon(s.state, code)
	if !ok {
		return nil, fmt.Errorf("%w: coupon %s", models.ErrNotFound, code)
	}
	return &c, nil
}

func findCoupon(st *state, code string) (models.Coupon, bool) {
	code = strings.ToUpper(code)
	for _, c := range st.coupons {
		if c.Code == code {
			return c, true
		}
	}
	return models.Coupon{}, false
}

func (s *Store) CreateCoupon(_ context.Context, c *models.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := findCoupon(s.state, c.Code); exists {
		return fmt.Errorf("%w: coupon code %s already exists", models.ErrConflict, c.Code)
	}
	now := s.now()
	c.ID = s.state.nextID()
	c.CreatedAt, c.UpdatedAt = now, now
	s.state.coupons[c.ID] = *c
	return nil
}

func (s *Store) GetCoupon(_ context.Context, couponID int64) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.coupons[couponID]
	if !ok {
		return nil, fmt.Errorf("%w: coupon %d", models.ErrNotFound, couponID)
	}
	return &c, nil
}

func (s *Store) ListCoupons(_ context.Context, f store.CouponFilter) ([]models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	search := strings.ToLower(f.Search)
	out := make([]models.Coupon, 0)
	for _, c := range s.state.coupons {
		if f.ActiveOnly && !c.IsActive {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(c.Code), search) &&
			(c.Description == nil || !strings.Contains(strings.ToLower(*c.Description), search)) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if f.Offset >= len(out) {
		return []models.Coupon{}, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out, nil
}

// UpdateCoupon keeps the stored used_count and creation time.
func (s *Store) UpdateCoupon(_ context.Context, c *models.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.state.coupons[c.ID]
	if !ok {
		return fmt.Errorf("%w: coupon %d", models.ErrNotFound, c.ID)
	}
	if other, exists := findCoupon(s.state, c.Code); exists && other.ID != c.ID {
		return fmt.Errorf("%w: coupon code %s already exists", models.ErrConflict, c.Code)
	}
	c.UsedCount = current.UsedCount
	c.CreatedAt = current.CreatedAt
	c.UpdatedAt = s.now()
	s.state.coupons[c.ID] = *c
	return nil
}

func (s *Store) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.state.processed[eventID]; !ok {
		s.state.processed[eventID] = models.ProcessedEvent{
			EventID: eventID, EventType: eventType, ProcessedAt: s.now(),
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close() error { return nil }

type txn struct {
	st  *state
	now func() time.Time
}

var _ store.Tx = (*txn)(nil)

func (t *txn) StockLevels(_ context.Context, variantIDs []int64) (map[int64]int, error) {
	return stockLevels(t.st, variantIDs), nil
}

func (t *txn) LockVariant(_ context.Context, variantID int64) (*models.ProductVariant, error) {
	v, ok := t.st.variants[variantID]
	if !ok {
		return nil, fmt.Errorf("%w: variant %d", models.ErrNotFound, variantID)
	}
	return &v, nil
}

func (t *txn) SetStock(_ context.Context, variantID int64, quantity int) error {
	v, ok := t.st.variants[variantID]
	if !ok {
		return fmt.Errorf("%w: variant %d", models.ErrNotFound, variantID)
	}
	if quantity < 0 {
		return fmt.Errorf("%w: stock_quantity would be %d", models.ErrInsufficientStock, quantity)
	}
	v.StockQuantity = quantity
	v.UpdatedAt = t.now()
	t.st.variants[variantID] = v
	return nil
}

func (t *txn) InsertMovement(_ context.Context, m *models.InventoryMovement) error {
	if m.NewQuantity != m.PreviousQuantity+m.Change || m.NewQuantity < 0 {
		return fmt.Errorf("%w: malformed movement", models.ErrInvalidArgument)
	}
	m.ID = t.st.nextID()
	m.CreatedAt = t.now()
	t.st.movements = append(t.st.movements, *m)
	return nil
}

func (t *txn) GetCartForUpdate(_ context.Context, ref models.CartRef) (*models.Cart, error) {
	var (
		cart  models.Cart
		found bool
	)
	switch {
	case ref.CartID != nil:
		cart, found = t.st.carts[*ref.CartID]
	case ref.UserID != nil:
		for _, c := range t.st.carts {
			if c.UserID != nil && *c.UserID == *ref.UserID {
				cart, found = c, true
				break
			}
		}
	default:
		return nil, fmt.Errorf("%w: cart id or user required", models.ErrInvalidArgument)
	}
	if !found {
		return nil, fmt.Errorf("%w: cart", models.ErrNotFound)
	}
	cart.Items = append([]models.CartItem{}, cart.Items...)
	sort.Slice(cart.Items, func(i, j int) bool { return cart.Items[i].VariantID < cart.Items[j].VariantID })
	return &cart, nil
}

func (t *txn) ClearCart(_ context.Context, cartID int64) error {
	cart, ok := t.st.carts[cartID]
	if !ok {
		return fmt.Errorf("%w: cart %d", models.ErrNotFound, cartID)
	}
	cart.Items = nil
	cart.UpdatedAt = t.now()
	t.st.carts[cartID] = cart
	return nil
}

func (t *txn) GetVariantPrices(_ context.Context, variantIDs []int64, currency string) (map[int64]models.VariantPrice, error) {
	prices := make(map[int64]models.VariantPrice, len(variantIDs))
	for _, id := range variantIDs {
		v, ok := t.st.variants[id]
		if !ok || !v.IsActive {
			continue
		}
		p, ok := t.st.prices[priceKey{id, currency}]
		if !ok || !p.IsActive {
			continue
		}
		prices[id] = models.VariantPrice{VariantID: id, ProductID: v.ProductID, SKU: v.SKU, Price: p.Price}
	}
	return prices, nil
}

func (t *txn) LockCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	c, ok := findCoupon(t.st, code)
	if !ok {
		return nil, fmt.Errorf("%w: coupon %s", models.ErrNotFound, code)
	}
	return &c, nil
}

func (t *txn) IncrementCouponUsage(_ context.Context, couponID int64) error {
	c, ok := t.st.coupons[couponID]
	if !ok {
		return fmt.Errorf("%w: coupon %d", models.ErrNotFound, couponID)
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return models.ErrUsageLimitReached
	}
	c.UsedCount++
	c.UpdatedAt = t.now()
	t.st.coupons[couponID] = c
	return nil
}

func (t *txn) CreateOrder(_ context.Context, order *models.Order) error {
	if order.IdempotencyKey != nil {
		for _, o := range t.st.orders {
			if o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return fmt.Errorf("%w: idempotency key already used", models.ErrConflict)
			}
		}
	}
	now := t.now()
	order.ID = t.st.nextID()
	order.CreatedAt, order.UpdatedAt = now, now
	stored := *order
	stored.Items = nil
	t.st.orders[order.ID] = stored
	return nil
}

func (t *txn) CreateOrderItem(_ context.Context, item *models.OrderItem) error {
	if _, ok := t.st.orders[item.OrderID]; !ok {
		return fmt.Errorf("%w: order %d", models.ErrNotFound, item.OrderID)
	}
	item.ID = t.st.nextID()
	t.st.orderItems[item.OrderID] = append(t.st.orderItems[item.OrderID], *item)
	return nil
}

func (t *txn) LockOrder(_ context.Context, orderID int64) (*models.Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", models.ErrNotFound, orderID)
	}
	return &o, nil
}

func (t *txn) GetOrderItems(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	items := append([]models.OrderItem{}, t.st.orderItems[orderID]...)
	sort.Slice(items, func(i, j int) bool { return items[i].VariantID < items[j].VariantID })
	return items, nil
}

func (t *txn) UpdateOrderStatus(_ context.Context, orderID int64, status models.OrderStatus) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return fmt.Errorf("%w: order %d", models.ErrNotFound, orderID)
	}
	o.Status = status
	o.UpdatedAt = t.now()
	t.st.orders[orderID] = o
	return nil
}

// price is a convenience for seeding
func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
