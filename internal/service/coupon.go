package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

// CouponResult is the priced outcome of applying a coupon to a subtotal
type CouponResult struct {
	CouponID    int64           `json:"coupon_id"`
	Code        string          `json:"code"`
	Discount    decimal.Decimal `json:"discount"`
	FinalAmount decimal.Decimal `json:"final_amount"`
}

// EvaluateCoupon checks eligibility in a fixed order (active, usage,
// dates, minimum) and computes the discount. Amounts are rounded to cents
// and the final amount never drops below zero.
func EvaluateCoupon(c *models.Coupon, subtotal decimal.Decimal, currency string, now time.Time) (*CouponResult, error) {
	if !c.IsActive {
		return nil, models.ErrCouponInactive
	}
	if c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit {
		return nil, models.ErrUsageLimitReached
	}
	if c.StartDate != nil && now.Before(*c.StartDate) {
		return nil, models.ErrCouponNotYetActive
	}
	if c.EndDate != nil && now.After(*c.EndDate) {
		return nil, models.ErrCouponExpired
	}
	if c.MinOrderValue.Valid && subtotal.LessThan(c.MinOrderValue.Decimal) {
		return nil, models.ErrOrderBelowMinimum
	}

	var discount decimal.Decimal
	switch c.DiscountType {
	case models.DiscountPercentage:
		if !c.DiscountValue.Valid {
			return nil, fmt.Errorf("%w: percentage coupon without a value", models.ErrCouponInvalid)
		}
		discount = subtotal.Mul(c.DiscountValue.Decimal).Div(hundred)
		if c.MaxDiscountAmount.Valid && discount.GreaterThan(c.MaxDiscountAmount.Decimal) {
			discount = c.MaxDiscountAmount.Decimal
		}
	case models.DiscountFixed:
		amount, ok := c.FixedDiscounts[strings.ToUpper(currency)]
		if !ok {
			return nil, models.ErrUnsupportedCurrency
		}
		discount = amount
	default:
		return nil, fmt.Errorf("%w: unknown discount type %q", models.ErrCouponInvalid, c.DiscountType)
	}

	discount = discount.Round(2)
	final := decimal.Max(subtotal.Sub(discount), decimal.Zero).Round(2)

	return &CouponResult{
		CouponID:    c.ID,
		Code:        c.Code,
		Discount:    discount,
		FinalAmount: final,
	}, nil
}

// CouponService previews and administers coupons
type CouponService struct {
	repo       store.Repository
	currencies []string
	now        func() time.Time
	logger     *zap.Logger
}

// NewCouponService creates a new coupon service
func NewCouponService(repo store.Repository, allowedCurrencies []string) *CouponService {
	return &CouponService{
		repo:       repo,
		currencies: allowedCurrencies,
		now:        time.Now,
		logger:     util.GetLogger(),
	}
}

// Preview evaluates a coupon against an order total without reserving
// anything. Checkout evaluates again under lock.
func (s *CouponService) Preview(ctx context.Context, code string, orderTotal decimal.Decimal, currency string) (*CouponResult, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.Preview")
	defer span.End()

	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("%w: code is required", models.ErrInvalidArgument)
	}
	if orderTotal.IsNegative() {
		return nil, fmt.Errorf("%w: order_total must not be negative", models.ErrInvalidArgument)
	}
	currency, err := normalizeCurrency(currency, s.currencies)
	if err != nil {
		return nil, err
	}

	coupon, err := s.repo.GetCouponByCode(ctx, strings.TrimSpace(code))
	if err != nil {
		return nil, err
	}

	result, err := EvaluateCoupon(coupon, orderTotal, currency, s.now())
	if err != nil {
		util.CouponRejectionsTotal.WithLabelValues(models.CouponReason(err)).Inc()
		return nil, err
	}
	return result, nil
}

// CreateCouponRequest is the admin payload for a new coupon
type CreateCouponRequest struct {
	Code              string                     `json:"code" binding:"required"`
	Description       *string                    `json:"description"`
	DiscountType      string                     `json:"discount_type" binding:"required"`
	DiscountValue     *decimal.Decimal           `json:"discount_value"`
	FixedDiscounts    map[string]decimal.Decimal `json:"fixed_discounts"`
	MinOrderValue     *decimal.Decimal           `json:"min_order_value"`
	MaxDiscountAmount *decimal.Decimal           `json:"max_discount_amount"`
	UsageLimit        *int                       `json:"usage_limit"`
	StartDate         *time.Time                 `json:"start_date"`
	EndDate           *time.Time                 `json:"end_date"`
	IsActive          *bool                      `json:"is_active"`
}

// CreateCoupon validates and stores a coupon. Codes and currency keys are
// stored upper-case.
func (s *CouponService) CreateCoupon(ctx context.Context, actor models.Actor, req *CreateCouponRequest) (*models.Coupon, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.CreateCoupon")
	defer span.End()

	if !actor.IsStaff() {
		return nil, models.ErrForbidden
	}

	coupon, err := s.buildCoupon(req)
	if err != nil {
		return nil, err
	}

	if err := s.repo.CreateCoupon(ctx, coupon); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, fmt.Errorf("%w: coupon code %s already exists", models.ErrConflict, coupon.Code)
		}
		return nil, fmt.Errorf("failed to create coupon: %w", err)
	}

	s.logger.Info("Coupon created",
		zap.Int64("coupon_id", coupon.ID),
		zap.String("code", coupon.Code),
		zap.String("type", coupon.DiscountType))
	return coupon, nil
}

// GetCoupon returns a coupon by id for staff
func (s *CouponService) GetCoupon(ctx context.Context, actor models.Actor, couponID int64) (*models.Coupon, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.GetCoupon")
	defer span.End()

	if !actor.IsStaff() {
		return nil, models.ErrForbidden
	}
	return s.repo.GetCoupon(ctx, couponID)
}

// ListCoupons pages through coupons newest first. limit defaults to 50.
func (s *CouponService) ListCoupons(ctx context.Context, actor models.Actor, filter store.CouponFilter) ([]models.Coupon, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.ListCoupons")
	defer span.End()

	if !actor.IsStaff() {
		return nil, models.ErrForbidden
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultPageLimit
	}
	if filter.Limit > maxPageLimit {
		return nil, fmt.Errorf("%w: limit must be at most %d", models.ErrInvalidArgument, maxPageLimit)
	}
	if filter.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", models.ErrInvalidArgument)
	}
	filter.Search = strings.TrimSpace(filter.Search)
	return s.repo.ListCoupons(ctx, filter)
}

// UpdateCoupon replaces the definition of a coupon with the same rules as
// CreateCoupon. used_count is kept as stored.
func (s *CouponService) UpdateCoupon(ctx context.Context, actor models.Actor, couponID int64, req *CreateCouponRequest) (*models.Coupon, error) {
	ctx, span := util.StartSpan(ctx, "CouponService.UpdateCoupon")
	defer span.End()

	if !actor.IsStaff() {
		return nil, models.ErrForbidden
	}

	coupon, err := s.buildCoupon(req)
	if err != nil {
		return nil, err
	}
	coupon.ID = couponID

	if err := s.repo.UpdateCoupon(ctx, coupon); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, fmt.Errorf("%w: coupon code %s already exists", models.ErrConflict, coupon.Code)
		}
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update coupon: %w", err)
	}

	s.logger.Info("Coupon updated",
		zap.Int64("coupon_id", coupon.ID),
		zap.String("code", coupon.Code),
		zap.Bool("active", coupon.IsActive),
		zap.Int("used_count", coupon.UsedCount))
	return coupon, nil
}

func (s *CouponService) buildCoupon(req *CreateCouponRequest) (*models.Coupon, error) {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", models.ErrInvalidArgument, fmt.Sprintf(format, args...))
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return nil, invalid("code is required")
	}

	c := &models.Coupon{
		Code:         code,
		Description:  req.Description,
		DiscountType: req.DiscountType,
		UsageLimit:   req.UsageLimit,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		IsActive:     true,
	}
	if req.IsActive != nil {
		c.IsActive = *req.IsActive
	}

	switch req.DiscountType {
	case models.DiscountPercentage:
		if req.DiscountValue == nil {
			return nil, invalid("discount_value is required for percentage coupons")
		}
		if !req.DiscountValue.IsPositive() || req.DiscountValue.GreaterThan(hundred) {
			return nil, invalid("discount_value must be in (0, 100]")
		}
		if len(req.FixedDiscounts) > 0 {
			return nil, invalid("fixed_discounts is not allowed for percentage coupons")
		}
		c.DiscountValue = decimal.NewNullDecimal(*req.DiscountValue)
		if req.MaxDiscountAmount != nil {
			if !req.MaxDiscountAmount.IsPositive() {
				return nil, invalid("max_discount_amount must be positive")
			}
			c.MaxDiscountAmount = decimal.NewNullDecimal(*req.MaxDiscountAmount)
		}
	case models.DiscountFixed:
		if len(req.FixedDiscounts) == 0 {
			return nil, invalid("fixed_discounts is required for fixed coupons")
		}
		if req.DiscountValue != nil || req.MaxDiscountAmount != nil {
			return nil, invalid("discount_value and max_discount_amount are only allowed for percentage coupons")
		}
		c.FixedDiscounts = make(models.FixedDiscounts, len(req.FixedDiscounts))
		for cur, amount := range req.FixedDiscounts {
			cur = strings.ToUpper(strings.TrimSpace(cur))
			if !containsString(s.currencies, cur) {
				return nil, invalid("currency %s is not supported", cur)
			}
			if !amount.IsPositive() {
				return nil, invalid("fixed discount for %s must be positive", cur)
			}
			c.FixedDiscounts[cur] = amount
		}
	default:
		return nil, invalid("discount_type must be %q or %q", models.DiscountPercentage, models.DiscountFixed)
	}

	if req.MinOrderValue != nil {
		if req.MinOrderValue.IsNegative() {
			return nil, invalid("min_order_value must not be negative")
		}
		c.MinOrderValue = decimal.NewNullDecimal(*req.MinOrderValue)
	}
	if req.UsageLimit != nil && *req.UsageLimit < 0 {
		return nil, invalid("usage_limit must not be negative")
	}
	if req.StartDate != nil && req.EndDate != nil && req.StartDate.After(*req.EndDate) {
		return nil, invalid("start_date must not be after end_date")
	}
	return c, nil
}

// normalizeCurrency upper-cases code and checks it against allowed. An empty
// code is rejected; callers apply their own default first.
func normalizeCurrency(code string, allowed []string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || !containsString(allowed, code) {
		return "", fmt.Errorf("%w: unsupported currency %q", models.ErrInvalidArgument, code)
	}
	return code, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
