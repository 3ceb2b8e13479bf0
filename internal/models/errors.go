package models

import (
	"errors"
	"fmt"
)

// Business errors surfaced to the API layer. Infrastructure failures are
// returned as-is and are never wrapped with one of these.
var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrCouponInvalid       = errors.New("coupon invalid")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrEmptyCart           = errors.New("cart is empty or does not exist")
	ErrTransactionConflict = errors.New("transaction conflict")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrCheckoutInProgress  = errors.New("checkout already in progress")
)

// Coupon rejection reasons, all matching ErrCouponInvalid.
var (
	ErrCouponInactive      = fmt.Errorf("%w: coupon is inactive", ErrCouponInvalid)
	ErrUsageLimitReached   = fmt.Errorf("%w: coupon usage limit reached", ErrCouponInvalid)
	ErrCouponNotYetActive  = fmt.Errorf("%w: coupon not yet active", ErrCouponInvalid)
	ErrCouponExpired       = fmt.Errorf("%w: coupon expired", ErrCouponInvalid)
	ErrOrderBelowMinimum   = fmt.Errorf("%w: order amount below coupon minimum", ErrCouponInvalid)
	ErrUnsupportedCurrency = fmt.Errorf("%w: no fixed discount defined for currency", ErrCouponInvalid)
)

// InsufficientStockError carries the line that failed a stock check or deduction.
type InsufficientStockError struct {
	VariantID int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d: requested=%d, available=%d",
		e.VariantID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// InvalidTransitionError describes a rejected order status change.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// CouponReason returns a short label for a coupon rejection, used in
// metrics and API responses.
func CouponReason(err error) string {
	switch {
	case errors.Is(err, ErrCouponInactive):
		return "inactive"
	case errors.Is(err, ErrUsageLimitReached):
		return "usage_limit_reached"
	case errors.Is(err, ErrCouponNotYetActive):
		return "not_yet_active"
	case errors.Is(err, ErrCouponExpired):
		return "expired"
	case errors.Is(err, ErrOrderBelowMinimum):
		return "below_minimum"
	case errors.Is(err, ErrUnsupportedCurrency):
		return "unsupported_currency"
	default:
		return "invalid"
	}
}
