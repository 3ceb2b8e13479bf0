package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store/memstore"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	util.SetLogger(zap.NewNop())
	m.Run()
}

type testServer struct {
	router  *gin.Engine
	handler *Handler
	store   *memstore.Store
	tee     int64
	mug     int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memstore.New()
	tee := st.AddVariant("TEE", 5)
	mug := st.AddVariant("MUG", 1)
	st.SetPrice(tee, "CAD", decimal.RequireFromString("80.00"))
	st.SetPrice(mug, "CAD", decimal.RequireFromString("40.00"))
	limit := 100
	st.PutCoupon(models.Coupon{
		Code:              "WELCOME10",
		DiscountType:      models.DiscountPercentage,
		DiscountValue:     decimal.NewNullDecimal(decimal.RequireFromString("10")),
		MinOrderValue:     decimal.NewNullDecimal(decimal.RequireFromString("100")),
		MaxDiscountAmount: decimal.NewNullDecimal(decimal.RequireFromString("500")),
		UsageLimit:        &limit,
		IsActive:          true,
	})

	currencies := []string{"USD", "EUR", "CAD"}
	retry := service.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}
	ledger := service.NewLedger()
	orders := service.NewOrderService(st, nil, nil, ledger, service.OrderServiceConfig{
		AllowedCurrencies: currencies,
		DefaultCurrency:   "CAD",
		Retry:             retry,
	})
	h := NewHandler(orders, service.NewCouponService(st, currencies), service.NewInventoryService(st, ledger, retry), "CAD")
	h.AddReadinessCheck("database", st)

	router := gin.New()
	h.SetupRoutes(router, "checkout-service-test")
	return &testServer{router: router, handler: h, store: st, tee: tee, mug: mug}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func user(id int) map[string]string {
	return map[string]string{"X-User-ID": fmt.Sprint(id)}
}

func staff(id int) map[string]string {
	return map[string]string{"X-User-ID": fmt.Sprint(id), "X-User-Roles": "staff"}
}

func checkoutBody(coupon string) gin.H {
	body := gin.H{
		"shipping_address": gin.H{
			"name": "Ada Lovelace", "street": "12 Analytical Way", "city": "Toronto",
			"state": "ON", "zip": "M5V 2T6", "country": "CA",
		},
	}
	if coupon != "" {
		body["coupon_code"] = coupon
	}
	return body
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealthAndReady(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	s.handler.AddReadinessCheck("redis", failingPinger{})
	w = s.do(t, http.MethodGet, "/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "redis")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestCheckoutFlow(t *testing.T) {
	s := newTestServer(t)
	uid := int64(1)
	s.store.PutCart(&uid, map[int64]int{s.tee: 2, s.mug: 1})

	headers := user(1)
	headers["Idempotency-Key"] = "req-1"
	headers["X-Currency"] = "cad"

	w := s.do(t, http.MethodPost, "/api/v1/checkout", checkoutBody("welcome10"), headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order models.Order
	decode(t, w, &order)
	assert.Equal(t, "CAD", order.Currency)
	assert.True(t, decimal.RequireFromString("200").Equal(order.Subtotal))
	assert.True(t, decimal.RequireFromString("20").Equal(order.DiscountAmount))
	assert.True(t, decimal.RequireFromString("180").Equal(order.TotalAmount))
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Len(t, order.Items, 2)

	// Same key replays the same order even though the cart is now empty.
	w = s.do(t, http.MethodPost, "/api/v1/checkout", checkoutBody("welcome10"), headers)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var replay models.Order
	decode(t, w, &replay)
	assert.Equal(t, order.ID, replay.ID)

	w = s.do(t, http.MethodPost, "/api/v1/checkout", checkoutBody(""), user(1))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	path := fmt.Sprintf("/api/v1/orders/%d", order.ID)
	w = s.do(t, http.MethodGet, path, nil, user(1))
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, path, nil, user(2))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, path, nil, staff(9))
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodPost, path+"/cancel", nil, user(1))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var cancelled models.Order
	decode(t, w, &cancelled)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)

	w = s.do(t, http.MethodPost, path+"/cancel", nil, user(1))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "cancelled")
}

func TestCheckoutInsufficientStock(t *testing.T) {
	s := newTestServer(t)
	uid := int64(3)
	s.store.PutCart(&uid, map[int64]int{s.mug: 2})

	w := s.do(t, http.MethodPost, "/api/v1/checkout", checkoutBody(""), user(3))
	require.Equal(t, http.StatusConflict, w.Code)

	var body struct {
		VariantID int64 `json:"variant_id"`
		Requested int   `json:"requested"`
		Available int   `json:"available"`
	}
	decode(t, w, &body)
	assert.Equal(t, s.mug, body.VariantID)
	assert.Equal(t, 2, body.Requested)
	assert.Equal(t, 1, body.Available)
}

func TestCheckoutCouponRejected(t *testing.T) {
	s := newTestServer(t)
	uid := int64(4)
	s.store.PutCart(&uid, map[int64]int{s.mug: 1})

	w := s.do(t, http.MethodPost, "/api/v1/checkout", checkoutBody("WELCOME10"), user(4))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "below_minimum")

	levels, _ := s.store.StockLevels(context.Background(), []int64{s.mug})
	assert.Equal(t, 1, levels[s.mug])
}

func TestCheckoutGuestNeedsCartID(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/checkout", checkoutBody(""), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	cartID := s.store.PutCart(nil, map[int64]int{s.tee: 1})
	body := checkoutBody("")
	body["cart_id"] = cartID
	w = s.do(t, http.MethodPost, "/api/v1/checkout", body, nil)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestInvalidUserHeader(t *testing.T) {
	s := newTestServer(t)
	w := s.do(t, http.MethodGet, "/api/v1/orders/1", nil, map[string]string{"X-User-ID": "abc"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestApplyCoupon(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/coupons/apply?code=WELCOME10&order_total=200", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result service.CouponResult
	decode(t, w, &result)
	assert.True(t, decimal.RequireFromString("20").Equal(result.Discount))
	assert.True(t, decimal.RequireFromString("180").Equal(result.FinalAmount))

	w = s.do(t, http.MethodGet, "/api/v1/coupons/apply?code=WELCOME10&order_total=50&currency=CAD", nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/coupons/apply?code=NOPE&order_total=50", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/coupons/apply?code=WELCOME10&order_total=lots", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminTransitions(t *testing.T) {
	s := newTestServer(t)
	uid := int64(5)
	s.store.PutCart(&uid, map[int64]int{s.tee: 1})

	w := s.do(t, http.MethodPost, "/api/v1/checkout", checkoutBody(""), user(5))
	require.Equal(t, http.StatusCreated, w.Code)
	var order models.Order
	decode(t, w, &order)
	path := fmt.Sprintf("/api/v1/admin/orders/%d/status", order.ID)

	w = s.do(t, http.MethodPut, path, gin.H{"status": "paid"}, user(5))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(t, http.MethodPut, path, gin.H{"status": "delivered"}, staff(9))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPut, path, gin.H{"status": "paid"}, staff(9))
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &order)
	assert.Equal(t, models.OrderStatusPaid, order.Status)

	w = s.do(t, http.MethodPut, path, gin.H{"status": "teleported"}, staff(9))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminInventory(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/v1/admin/inventory/movements",
		gin.H{"variant_id": s.mug, "reason": "restock", "quantity": 4}, staff(9))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var movement models.InventoryMovement
	decode(t, w, &movement)
	assert.Equal(t, 5, movement.NewQuantity)

	w = s.do(t, http.MethodPost, "/api/v1/admin/inventory/movements",
		gin.H{"variant_id": s.mug, "reason": "damage", "quantity": 10}, staff(9))
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/admin/inventory/movements",
		gin.H{"variant_id": s.mug, "reason": "order_purchase", "quantity": 1}, staff(9))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/admin/inventory/movements",
		gin.H{"variant_id": s.mug, "reason": "restock", "quantity": 1}, user(1))
	assert.Equal(t, http.StatusForbidden, w.Code)

	path := fmt.Sprintf("/api/v1/admin/inventory/variants/%d", s.mug)
	w = s.do(t, http.MethodGet, path+"/movements?limit=10", nil, staff(9))
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Movements []models.InventoryMovement `json:"movements"`
	}
	decode(t, w, &page)
	assert.Len(t, page.Movements, 1)

	w = s.do(t, http.MethodGet, path+"/movements?limit=500", nil, staff(9))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, path+"/movements?limit=ten", nil, staff(9))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, path+"/verify", nil, staff(9))
	require.Equal(t, http.StatusOK, w.Code)
	var report service.LedgerReport
	decode(t, w, &report)
	assert.True(t, report.Consistent)
	assert.Equal(t, 5, report.CachedQuantity)
}

func TestAdminCreateCoupon(t *testing.T) {
	s := newTestServer(t)
	body := gin.H{
		"code":            "spring",
		"discount_type":   "fixed",
		"fixed_discounts": gin.H{"CAD": "5.00"},
	}
	admin := map[string]string{"X-User-ID": "9", "X-User-Roles": "admin"}

	w := s.do(t, http.MethodPost, "/api/v1/admin/coupons", body, admin)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var coupon models.Coupon
	decode(t, w, &coupon)
	assert.Equal(t, "SPRING", coupon.Code)

	w = s.do(t, http.MethodPost, "/api/v1/admin/coupons", body, admin)
	assert.Equal(t, http.StatusConflict, w.Code)

	body["code"] = "other"
	body["discount_type"] = "bogo"
	w = s.do(t, http.MethodPost, "/api/v1/admin/coupons", body, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminManageCoupons(t *testing.T) {
	s := newTestServer(t)
	admin := map[string]string{"X-User-ID": "9", "X-User-Roles": "admin"}

	w := s.do(t, http.MethodGet, "/api/v1/admin/coupons?search=welcome&active_only=true", nil, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var list struct {
		Coupons []models.Coupon `json:"coupons"`
	}
	decode(t, w, &list)
	require.Len(t, list.Coupons, 1)
	id := list.Coupons[0].ID
	path := fmt.Sprintf("/api/v1/admin/coupons/%d", id)

	w = s.do(t, http.MethodGet, path, nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	var coupon models.Coupon
	decode(t, w, &coupon)
	assert.Equal(t, "WELCOME10", coupon.Code)

	body := gin.H{
		"code":           "WELCOME10",
		"discount_type":  "percentage",
		"discount_value": "10",
		"is_active":      false,
	}
	w = s.do(t, http.MethodPut, path, body, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &coupon)
	assert.False(t, coupon.IsActive)

	w = s.do(t, http.MethodGet, "/api/v1/coupons/apply?code=WELCOME10&order_total=200", nil, nil)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"reason":"inactive"`)

	w = s.do(t, http.MethodGet, "/api/v1/admin/coupons?active_only=true", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &list)
	assert.Empty(t, list.Coupons)

	w = s.do(t, http.MethodPut, path, body, user(1))
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/admin/coupons/99999", nil, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/admin/coupons/abc", nil, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.do(t, http.MethodGet, "/api/v1/admin/coupons?active_only=maybe", nil, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWriteErrorMapsTransactionConflict(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)

	writeError(c, fmt.Errorf("checkout: %w", models.ErrTransactionConflict))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/checkout", nil)
	writeError(c, errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "disk")
}
