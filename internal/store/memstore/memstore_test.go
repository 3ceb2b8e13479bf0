package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	v := s.AddVariant("A", 5)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.SetStock(ctx, v, 1))
		require.NoError(t, tx.InsertMovement(ctx, &models.InventoryMovement{
			VariantID: v, Change: -4, PreviousQuantity: 5, NewQuantity: 1, Reason: models.ReasonDamage,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	levels, _ := s.StockLevels(ctx, []int64{v})
	assert.Equal(t, 5, levels[v])
	movements, _ := s.MovementsForVariant(ctx, v)
	assert.Empty(t, movements)
}

func TestWithTxHonoursCancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := s.WithTx(ctx, func(store.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestTxRejectsNegativeStockAndBadMovements(t *testing.T) {
	s := New()
	v := s.AddVariant("A", 1)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error { return tx.SetStock(ctx, v, -1) })
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	err = s.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertMovement(ctx, &models.InventoryMovement{
			VariantID: v, Change: -1, PreviousQuantity: 1, NewQuantity: 2, Reason: models.ReasonDamage,
		})
	})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestGetCartForUpdate(t *testing.T) {
	s := New()
	a := s.AddVariant("A", 1)
	b := s.AddVariant("B", 1)
	user := int64(9)
	userCart := s.PutCart(&user, map[int64]int{b: 1, a: 3})
	guestCart := s.PutCart(nil, map[int64]int{a: 1})
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		cart, err := tx.GetCartForUpdate(ctx, models.CartRef{UserID: &user})
		require.NoError(t, err)
		assert.Equal(t, userCart, cart.ID)
		require.Len(t, cart.Items, 2)
		assert.Equal(t, a, cart.Items[0].VariantID)
		assert.Equal(t, b, cart.Items[1].VariantID)

		cart, err = tx.GetCartForUpdate(ctx, models.CartRef{CartID: &guestCart})
		require.NoError(t, err)
		assert.Nil(t, cart.UserID)

		other := int64(10)
		_, err = tx.GetCartForUpdate(ctx, models.CartRef{UserID: &other})
		assert.ErrorIs(t, err, models.ErrNotFound)

		_, err = tx.GetCartForUpdate(ctx, models.CartRef{})
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
		return nil
	})
	require.NoError(t, err)

	// PutCart for an existing user replaces lines in place.
	assert.Equal(t, userCart, s.PutCart(&user, map[int64]int{a: 1}))
	cart, ok := s.Cart(userCart)
	require.True(t, ok)
	assert.Len(t, cart.Items, 1)
}

func TestGetVariantPricesSkipsInactive(t *testing.T) {
	s := New()
	a := s.AddVariant("A", 1)
	b := s.AddVariant("B", 1)
	c := s.AddVariant("C", 1)
	s.SetPrice(a, "cad", price("10.00"))
	s.SetPrice(b, "CAD", price("20.00"))
	s.SetVariantActive(b, false)
	s.SetPrice(c, "USD", price("30.00"))
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		prices, err := tx.GetVariantPrices(ctx, []int64{a, b, c}, "CAD")
		require.NoError(t, err)
		require.Len(t, prices, 1)
		assert.True(t, price("10").Equal(prices[a].Price))
		assert.Equal(t, "A", prices[a].SKU)
		return nil
	})
	require.NoError(t, err)
}

func TestIncrementCouponUsageStopsAtLimit(t *testing.T) {
	s := New()
	limit := 1
	id := s.PutCoupon(models.Coupon{Code: "once", DiscountType: models.DiscountPercentage, UsageLimit: &limit, IsActive: true})
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx store.Tx) error {
		c, err := tx.LockCouponByCode(ctx, "ONCE")
		require.NoError(t, err)
		return tx.IncrementCouponUsage(ctx, c.ID)
	})
	require.NoError(t, err)

	err = s.WithTx(ctx, func(tx store.Tx) error { return tx.IncrementCouponUsage(ctx, id) })
	assert.ErrorIs(t, err, models.ErrUsageLimitReached)

	c, _ := s.Coupon(id)
	assert.Equal(t, 1, c.UsedCount)
}

func TestCreateCouponRejectsDuplicateCode(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateCoupon(ctx, &models.Coupon{Code: "SPRING", DiscountType: models.DiscountPercentage}))
	err := s.CreateCoupon(ctx, &models.Coupon{Code: "spring", DiscountType: models.DiscountPercentage})
	assert.ErrorIs(t, err, models.ErrConflict)

	c, err := s.GetCouponByCode(ctx, "Spring")
	require.NoError(t, err)
	assert.Equal(t, "SPRING", c.Code)
}

func TestCreateOrderIdempotencyKeyIsUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := "abc-123"

	create := func() error {
		return s.WithTx(ctx, func(tx store.Tx) error {
			return tx.CreateOrder(ctx, &models.Order{Currency: "CAD", Status: models.OrderStatusPending, IdempotencyKey: &key})
		})
	}
	require.NoError(t, create())
	assert.ErrorIs(t, create(), models.ErrConflict)

	o, err := s.GetOrderByIdempotencyKey(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, o)

	missing, err := s.GetOrderByIdempotencyKey(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, 1, s.OrderCount())
}

func TestListMovementsPaging(t *testing.T) {
	s := New()
	v := s.AddVariant("A", 0)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.WithTx(ctx, func(tx store.Tx) error {
			return tx.InsertMovement(ctx, &models.InventoryMovement{
				VariantID: v, Change: 1, PreviousQuantity: i - 1, NewQuantity: i, Reason: models.ReasonRestock,
			})
		}))
	}

	page, err := s.ListMovements(ctx, v, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 3, page[0].NewQuantity)
	assert.Equal(t, 2, page[1].NewQuantity)

	page, err = s.ListMovements(ctx, v, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 1, page[0].NewQuantity)

	page, err = s.ListMovements(ctx, v, 2, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestProcessedEvents(t *testing.T) {
	s := New()
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })
	ctx := context.Background()

	done, err := s.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, s.MarkEventProcessed(ctx, "evt-1", models.EventTypeOrderStatusRequested))
	require.NoError(t, s.MarkEventProcessed(ctx, "evt-1", models.EventTypeOrderStatusRequested))

	done, _ = s.IsEventProcessed(ctx, "evt-1")
	assert.True(t, done)
}

func TestSeedDemo(t *testing.T) {
	s := New()
	s.SeedDemo()
	ctx := context.Background()
	user := DemoUserID

	err := s.WithTx(ctx, func(tx store.Tx) error {
		cart, err := tx.GetCartForUpdate(ctx, models.CartRef{UserID: &user})
		require.NoError(t, err)
		require.Len(t, cart.Items, 2)

		ids := []int64{cart.Items[0].VariantID, cart.Items[1].VariantID}
		for _, cur := range []string{"USD", "EUR", "CAD"} {
			prices, err := tx.GetVariantPrices(ctx, ids, cur)
			require.NoError(t, err)
			assert.Len(t, prices, 2, cur)
		}
		return nil
	})
	require.NoError(t, err)

	c, err := s.GetCouponByCode(ctx, "welcome10")
	require.NoError(t, err)
	assert.Equal(t, models.DiscountPercentage, c.DiscountType)
	assert.True(t, c.IsActive)
}
