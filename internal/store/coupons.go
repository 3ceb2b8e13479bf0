package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"checkout-service/internal/models"
)

// GetCouponByCode retrieves a coupon by its (case-insensitive) code
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.GetContext(ctx, &c, "SELECT * FROM coupons WHERE code = UPPER($1)", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("coupon", code)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCoupon inserts a coupon. A duplicate code is reported as
// models.ErrConflict.
func (s *Store) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	query := `
		INSERT INTO coupons
			(code, description, discount_type, discount_value, fixed_discounts, min_order_value,
			 max_discount_amount, usage_limit, used_count, start_date, end_date, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		c.Code, c.Description, c.DiscountType, c.DiscountValue, c.FixedDiscounts, c.MinOrderValue,
		c.MaxDiscountAmount, c.UsageLimit, c.UsedCount, c.StartDate, c.EndDate, c.IsActive,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return classify(fmt.Errorf("failed to create coupon: %w", err))
	}
	return nil
}

// LockCouponByCode reads a coupon row with FOR UPDATE
func (t *txn) LockCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := t.tx.GetContext(ctx, &c, "SELECT * FROM coupons WHERE code = UPPER($1) FOR UPDATE", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("coupon", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock coupon: %w", err)
	}
	return &c, nil
}

// IncrementCouponUsage bumps used_count unless the usage limit is reached
func (t *txn) IncrementCouponUsage(ctx context.Context, couponID int64) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE coupons SET used_count = used_count + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`, couponID)
	if err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrUsageLimitReached
	}
	return nil
}

// CouponFilter narrows ListCoupons. Search matches code or description,
// case-insensitively.
type CouponFilter struct {
	Search     string
	ActiveOnly bool
	Limit      int
	Offset     int
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// GetCoupon retrieves a coupon by id
func (s *Store) GetCoupon(ctx context.Context, id int64) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.GetContext(ctx, &c, "SELECT * FROM coupons WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("coupon", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCoupons returns coupons newest first
func (s *Store) ListCoupons(ctx context.Context, f CouponFilter) ([]models.Coupon, error) {
	query := `
		SELECT * FROM coupons
		WHERE ($1 = '' OR code ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
		  AND (NOT $2 OR is_active)
		ORDER BY id DESC
		LIMIT $3 OFFSET $4`

	coupons := make([]models.Coupon, 0)
	err := s.db.SelectContext(ctx, &coupons, query, likeEscaper.Replace(f.Search), f.ActiveOnly, f.Limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	return coupons, nil
}

// UpdateCoupon rewrites the editable fields of a coupon. used_count is not
// written, so redemptions committed concurrently are kept; the stored value
// is read back into c.
func (s *Store) UpdateCoupon(ctx context.Context, c *models.Coupon) error {
	query := `
		UPDATE coupons SET
			code = $2, description = $3, discount_type = $4, discount_value = $5,
			fixed_discounts = $6, min_order_value = $7, max_discount_amount = $8,
			usage_limit = $9, start_date = $10, end_date = $11, is_active = $12,
			updated_at = NOW()
		WHERE id = $1
		RETURNING used_count, created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		c.ID, c.Code, c.Description, c.DiscountType, c.DiscountValue, c.FixedDiscounts, c.MinOrderValue,
		c.MaxDiscountAmount, c.UsageLimit, c.StartDate, c.EndDate, c.IsActive,
	).Scan(&c.UsedCount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("coupon", c.ID)
	}
	if err != nil {
		return classify(fmt.Errorf("failed to update coupon: %w", err))
	}
	return nil
}
