package api

import (
	"errors"
	"net/http"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// writeError maps a service error onto an HTTP response. Unknown errors
// are logged and reported as 500 without details.
func writeError(c *gin.Context, err error) {
	var (
		stockErr      *models.InsufficientStockError
		transitionErr *models.InvalidTransitionError
	)

	switch {
	case errors.As(err, &stockErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":      "Insufficient stock",
			"details":    err.Error(),
			"variant_id": stockErr.VariantID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		})
	case errors.As(err, &transitionErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Invalid status transition",
			"details": err.Error(),
			"from":    transitionErr.From,
			"to":      transitionErr.To,
		})
	case errors.Is(err, models.ErrCouponInvalid):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Coupon cannot be applied",
			"details": err.Error(),
			"reason":  models.CouponReason(err),
		})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found", "details": err.Error()})
	case errors.Is(err, models.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": "Insufficient stock", "details": err.Error()})
	case errors.Is(err, models.ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "Checkout already in progress", "details": err.Error()})
	case errors.Is(err, models.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Conflict", "details": err.Error()})
	case errors.Is(err, models.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Cart is empty", "details": err.Error()})
	case errors.Is(err, models.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.Is(err, models.ErrTransactionConflict):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Too much contention, retry the request"})
	default:
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
