package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Pinger is a dependency checked by /ready
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders          *service.OrderService
	coupons         *service.CouponService
	inventory       *service.InventoryService
	defaultCurrency string
	checks          map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	coupons *service.CouponService,
	inventory *service.InventoryService,
	defaultCurrency string,
) *Handler {
	return &Handler{
		orders:          orders,
		coupons:         coupons,
		inventory:       inventory,
		defaultCurrency: defaultCurrency,
		checks:          make(map[string]Pinger),
	}
}

// AddReadinessCheck registers a dependency that must answer for /ready to
// report the service as ready.
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.checks[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine, serviceName string) {
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", actorMiddleware())
	{
		v1.POST("/checkout", h.checkout)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.GET("/coupons/apply", h.applyCoupon)
	}

	admin := v1.Group("/admin")
	{
		admin.PUT("/orders/:id/status", h.transitionStatus)
		admin.POST("/coupons", h.createCoupon)
		admin.GET("/coupons", h.listCoupons)
		admin.GET("/coupons/:id", h.getCoupon)
		admin.PUT("/coupons/:id", h.updateCoupon)
		admin.POST("/inventory/movements", h.recordMovement)
		admin.GET("/inventory/variants/:id/movements", h.listMovements)
		admin.GET("/inventory/variants/:id/verify", h.verifyLedger)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failed,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// checkout converts the caller's cart into an order
func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.Currency == "" {
		req.Currency = c.GetHeader("X-Currency")
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, err := h.orders.CreateOrder(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := idParam(c, "Invalid order ID")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), actorFrom(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := idParam(c, "Invalid order ID")
	if !ok {
		return
	}

	order, err := h.orders.Cancel(c.Request.Context(), actorFrom(c), orderID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

type statusRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

func (h *Handler) transitionStatus(c *gin.Context) {
	orderID, ok := idParam(c, "Invalid order ID")
	if !ok {
		return
	}

	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orders.TransitionStatus(c.Request.Context(), actorFrom(c), orderID, req.Status)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// applyCoupon previews a coupon against an order total
func (h *Handler) applyCoupon(c *gin.Context) {
	total, err := decimal.NewFromString(c.Query("order_total"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid order_total",
			"details": err.Error(),
		})
		return
	}

	currency := c.Query("currency")
	if currency == "" {
		currency = c.GetHeader("X-Currency")
	}
	if currency == "" {
		currency = h.defaultCurrency
	}

	result, err := h.coupons.Preview(c.Request.Context(), c.Query("code"), total, currency)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *Handler) createCoupon(c *gin.Context) {
	var req service.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	coupon, err := h.coupons.CreateCoupon(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, coupon)
}

func (h *Handler) getCoupon(c *gin.Context) {
	couponID, ok := idParam(c, "Invalid coupon ID")
	if !ok {
		return
	}

	coupon, err := h.coupons.GetCoupon(c.Request.Context(), actorFrom(c), couponID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, coupon)
}

func (h *Handler) listCoupons(c *gin.Context) {
	limit, err1 := queryInt(c, "limit")
	offset, err2 := queryInt(c, "offset")
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit and offset must be integers",
		})
		return
	}
	activeOnly, err := strconv.ParseBool(c.DefaultQuery("active_only", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "active_only must be a boolean"})
		return
	}

	coupons, err := h.coupons.ListCoupons(c.Request.Context(), actorFrom(c), store.CouponFilter{
		Search:     c.Query("search"),
		ActiveOnly: activeOnly,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"coupons": coupons,
		"limit":   limit,
		"offset":  offset,
	})
}

func (h *Handler) updateCoupon(c *gin.Context) {
	couponID, ok := idParam(c, "Invalid coupon ID")
	if !ok {
		return
	}

	var req service.CreateCouponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	coupon, err := h.coupons.UpdateCoupon(c.Request.Context(), actorFrom(c), couponID, &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, coupon)
}

func (h *Handler) recordMovement(c *gin.Context) {
	var req service.RecordMovementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	movement, err := h.inventory.RecordMovement(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, movement)
}

func (h *Handler) listMovements(c *gin.Context) {
	variantID, ok := idParam(c, "Invalid variant ID")
	if !ok {
		return
	}

	limit, err1 := queryInt(c, "limit")
	offset, err2 := queryInt(c, "offset")
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit and offset must be integers",
		})
		return
	}

	movements, err := h.inventory.ListMovements(c.Request.Context(), actorFrom(c), variantID, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"movements": movements,
		"limit":     limit,
		"offset":    offset,
	})
}

func (h *Handler) verifyLedger(c *gin.Context) {
	variantID, ok := idParam(c, "Invalid variant ID")
	if !ok {
		return
	}

	report, err := h.inventory.Verify(c.Request.Context(), actorFrom(c), variantID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func idParam(c *gin.Context, message string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": message,
		})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
