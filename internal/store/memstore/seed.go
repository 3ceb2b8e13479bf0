package memstore

import (
	"strings"
	"time"

	"checkout-service/internal/models"

	"github.com/shopspring/decimal"
)

// AddVariant creates a product with one active variant holding stock and
// returns the variant id. Seeded stock is not recorded in the ledger; the
// first movement's previous_quantity anchors replay.
func (s *Store) AddVariant(sku string, stock int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	productID := s.state.nextID()
	s.state.products[productID] = models.Product{ID: productID, SKU: sku, Name: sku, CreatedAt: now}

	variantID := s.state.nextID()
	s.state.variants[variantID] = models.ProductVariant{
		ID:            variantID,
		ProductID:     productID,
		SKU:           sku,
		Name:          sku,
		StockQuantity: stock,
		IsActive:      true,
		UpdatedAt:     now,
	}
	return variantID
}

// SetVariantActive toggles whether a variant can be purchased
func (s *Store) SetVariantActive(variantID int64, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.state.variants[variantID]; ok {
		v.IsActive = active
		s.state.variants[variantID] = v
	}
}

// SetPrice sets the active price of a variant in a currency
func (s *Store) SetPrice(variantID int64, currency string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := priceKey{variantID, strings.ToUpper(currency)}
	p, ok := s.state.prices[key]
	if !ok {
		p = models.ProductPrice{ID: s.state.nextID(), VariantID: variantID, Currency: key.currency}
	}
	p.Price = amount
	p.IsActive = true
	s.state.prices[key] = p
}

// PutCart creates or replaces a cart for userID (nil for a guest cart) with
// the given variant -> quantity lines and returns its id.
func (s *Store) PutCart(userID *int64, lines map[int64]int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var cart models.Cart
	found := false
	if userID != nil {
		for _, c := range s.state.carts {
			if c.UserID != nil && *c.UserID == *userID {
				cart, found = c, true
				break
			}
		}
	}
	if !found {
		cart = models.Cart{ID: s.state.nextID(), UserID: userID, CreatedAt: now}
	}
	cart.UpdatedAt = now
	cart.Items = make([]models.CartItem, 0, len(lines))
	for variantID, qty := range lines {
		cart.Items = append(cart.Items, models.CartItem{
			ID: s.state.nextID(), CartID: cart.ID, VariantID: variantID, Quantity: qty,
		})
	}
	s.state.carts[cart.ID] = cart
	return cart.ID
}

// Cart returns a copy of a cart and its items
func (s *Store) Cart(cartID int64) (models.Cart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.carts[cartID]
	c.Items = append([]models.CartItem{}, c.Items...)
	return c, ok
}

// PutCoupon stores a coupon as-is, bypassing validation, and returns its id
func (s *Store) PutCoupon(c models.Coupon) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c.ID = s.state.nextID()
	c.Code = strings.ToUpper(c.Code)
	c.CreatedAt, c.UpdatedAt = now, now
	s.state.coupons[c.ID] = c
	return c.ID
}

// Coupon returns a copy of a coupon by id
func (s *Store) Coupon(couponID int64) (models.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.coupons[couponID]
	return c, ok
}

// OrderCount reports how many orders exist
func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.orders)
}

// SetClock replaces the time source used for timestamps
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// DemoUserID owns the cart created by SeedDemo
const DemoUserID int64 = 1

// SeedDemo loads a small catalog for local runs: two variants priced in
// USD, EUR and CAD, a cart for DemoUserID and the WELCOME10 coupon.
func (s *Store) SeedDemo() {
	tee := s.AddVariant("TEE-BLK-M", 25)
	mug := s.AddVariant("MUG-WHT", 10)

	for _, cur := range []string{"USD", "EUR", "CAD"} {
		s.SetPrice(tee, cur, price("80.00"))
		s.SetPrice(mug, cur, price("40.00"))
	}

	user := DemoUserID
	s.PutCart(&user, map[int64]int{tee: 2, mug: 1})

	limit := 100
	s.PutCoupon(models.Coupon{
		Code:              "WELCOME10",
		DiscountType:      models.DiscountPercentage,
		DiscountValue:     decimal.NewNullDecimal(price("10")),
		MinOrderValue:     decimal.NewNullDecimal(price("100")),
		MaxDiscountAmount: decimal.NewNullDecimal(price("500")),
		UsageLimit:        &limit,
		IsActive:          true,
	})
}
