package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetCartForUpdate locks the referenced cart and loads its items ordered by
// variant id. An explicit cart id wins over the user id.
func (t *txn) GetCartForUpdate(ctx context.Context, ref models.CartRef) (*models.Cart, error) {
	var (
		cart models.Cart
		err  error
	)
	switch {
	case ref.CartID != nil:
		err = t.tx.GetContext(ctx, &cart, "SELECT * FROM carts WHERE id = $1 FOR UPDATE", *ref.CartID)
	case ref.UserID != nil:
		err = t.tx.GetContext(ctx, &cart, "SELECT * FROM carts WHERE user_id = $1 FOR UPDATE", *ref.UserID)
	default:
		return nil, fmt.Errorf("%w: cart id or user required", models.ErrInvalidArgument)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: cart", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock cart: %w", err)
	}

	cart.Items = make([]models.CartItem, 0)
	err = t.tx.SelectContext(ctx, &cart.Items,
		"SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY variant_id", cart.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart items: %w", err)
	}
	return &cart, nil
}

// ClearCart removes every item from a cart
func (t *txn) ClearCart(ctx context.Context, cartID int64) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", cartID)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, "UPDATE carts SET updated_at = NOW() WHERE id = $1", cartID)
	return err
}

// GetVariantPrices resolves the active price of active variants in one
// currency. Variants without such a price are absent from the result.
func (t *txn) GetVariantPrices(ctx context.Context, variantIDs []int64, currency string) (map[int64]models.VariantPrice, error) {
	prices := make(map[int64]models.VariantPrice, len(variantIDs))
	if len(variantIDs) == 0 {
		return prices, nil
	}

	query, args, err := sqlx.In(`
		SELECT v.id AS variant_id, v.product_id, v.sku, p.price
		FROM product_variants v
		JOIN product_prices p ON p.variant_id = v.id AND p.currency = ? AND p.is_active
		WHERE v.is_active AND v.id IN (?)`, currency, variantIDs)
	if err != nil {
		return nil, err
	}
	query = t.tx.Rebind(query)

	var rows []models.VariantPrice
	if err := t.tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to resolve prices: %w", err)
	}
	for _, r := range rows {
		prices[r.VariantID] = r
	}
	return prices, nil
}
