package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"
)

// GetVariant retrieves a product variant by ID
func (s *Store) GetVariant(ctx context.Context, variantID int64) (*models.ProductVariant, error) {
	var v models.ProductVariant
	err := s.db.GetContext(ctx, &v, "SELECT * FROM product_variants WHERE id = $1", variantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("variant", variantID)
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ListMovements returns a page of ledger entries for a variant, newest first
func (s *Store) ListMovements(ctx context.Context, variantID int64, limit, offset int) ([]models.InventoryMovement, error) {
	movements := make([]models.InventoryMovement, 0)
	err := s.db.SelectContext(ctx, &movements,
		"SELECT * FROM inventory_movements WHERE variant_id = $1 ORDER BY id DESC LIMIT $2 OFFSET $3",
		variantID, limit, offset)
	return movements, err
}

// MovementsForVariant returns the full ledger chain in insertion order
func (s *Store) MovementsForVariant(ctx context.Context, variantID int64) ([]models.InventoryMovement, error) {
	movements := make([]models.InventoryMovement, 0)
	err := s.db.SelectContext(ctx, &movements,
		"SELECT * FROM inventory_movements WHERE variant_id = $1 ORDER BY id", variantID)
	return movements, err
}

// LockVariant reads a variant row with FOR UPDATE
func (t *txn) LockVariant(ctx context.Context, variantID int64) (*models.ProductVariant, error) {
	var v models.ProductVariant
	err := t.tx.GetContext(ctx, &v,
		"SELECT * FROM product_variants WHERE id = $1 FOR UPDATE", variantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("variant", variantID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock variant: %w", err)
	}
	return &v, nil
}

// SetStock writes the cached stock count. The CHECK constraint rejects
// negative values.
func (t *txn) SetStock(ctx context.Context, variantID int64, quantity int) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE product_variants SET stock_quantity = $1, updated_at = NOW() WHERE id = $2",
		quantity, variantID)
	if err != nil {
		return classify(fmt.Errorf("failed to update stock: %w", err))
	}
	return nil
}

// InsertMovement appends a ledger entry
func (t *txn) InsertMovement(ctx context.Context, m *models.InventoryMovement) error {
	query := `
		INSERT INTO inventory_movements
			(variant_id, previous_quantity, change, new_quantity, reason, actor_id, order_id, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	err := t.tx.QueryRowxContext(ctx, query,
		m.VariantID, m.PreviousQuantity, m.Change, m.NewQuantity,
		m.Reason, m.ActorID, m.OrderID, m.Note,
	).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert movement: %w", err)
	}
	return nil
}
