package service

import (
	"context"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// Ledger is the only writer of cached stock. Every change locks the
// variant row, appends a movement and rewrites stock_quantity in the
// caller's transaction.
type Ledger struct {
	logger *zap.Logger
}

// NewLedger creates a new inventory ledger
func NewLedger() *Ledger {
	return &Ledger{logger: util.GetLogger()}
}

// MovementInput describes a relative stock change
type MovementInput struct {
	VariantID int64
	Change    int
	Reason    models.MovementReason
	ActorID   *int64
	OrderID   *int64
	Note      *string
}

// Record applies a signed change to a variant. A change that would take
// stock below zero fails with *models.InsufficientStockError and writes
// nothing.
func (l *Ledger) Record(ctx context.Context, tx store.Tx, in MovementInput) (*models.InventoryMovement, error) {
	if !in.Reason.Valid() {
		return nil, fmt.Errorf("%w: unknown movement reason %q", models.ErrInvalidArgument, in.Reason)
	}

	variant, err := tx.LockVariant(ctx, in.VariantID)
	if err != nil {
		return nil, err
	}

	newQty := variant.StockQuantity + in.Change
	if newQty < 0 {
		return nil, &models.InsufficientStockError{
			VariantID: in.VariantID,
			Requested: -in.Change,
			Available: variant.StockQuantity,
		}
	}

	return l.write(ctx, tx, variant, newQty, in)
}

// SetQuantity moves a variant to an absolute stock level, recording the
// difference as the change.
func (l *Ledger) SetQuantity(ctx context.Context, tx store.Tx, variantID int64, newQty int,
	reason models.MovementReason, actorID *int64, note *string) (*models.InventoryMovement, error) {
	if !reason.Valid() {
		return nil, fmt.Errorf("%w: unknown movement reason %q", models.ErrInvalidArgument, reason)
	}
	if newQty < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", models.ErrInvalidArgument)
	}

	variant, err := tx.LockVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}

	return l.write(ctx, tx, variant, newQty, MovementInput{
		VariantID: variantID,
		Change:    newQty - variant.StockQuantity,
		Reason:    reason,
		ActorID:   actorID,
		Note:      note,
	})
}

func (l *Ledger) write(ctx context.Context, tx store.Tx, variant *models.ProductVariant, newQty int, in MovementInput) (*models.InventoryMovement, error) {
	movement := &models.InventoryMovement{
		VariantID:        variant.ID,
		PreviousQuantity: variant.StockQuantity,
		Change:           in.Change,
		NewQuantity:      newQty,
		Reason:           in.Reason,
		ActorID:          in.ActorID,
		OrderID:          in.OrderID,
		Note:             in.Note,
	}

	if err := tx.InsertMovement(ctx, movement); err != nil {
		return nil, err
	}
	if err := tx.SetStock(ctx, variant.ID, newQty); err != nil {
		return nil, err
	}

	l.logger.Debug("Stock movement recorded",
		zap.Int64("variant_id", variant.ID),
		zap.Int("previous", movement.PreviousQuantity),
		zap.Int("change", movement.Change),
		zap.String("reason", string(movement.Reason)))
	return movement, nil
}

// LedgerReport is the outcome of replaying a variant's movements
type LedgerReport struct {
	VariantID        int64  `json:"variant_id"`
	Movements        int    `json:"movements"`
	StartingQuantity int    `json:"starting_quantity"`
	ReplayedQuantity int    `json:"replayed_quantity"`
	CachedQuantity   int    `json:"cached_quantity"`
	Consistent       bool   `json:"consistent"`
	BrokenAt         *int64 `json:"broken_at,omitempty"`
	Problem          string `json:"problem,omitempty"`
}

// Verify replays the chain from the first movement's previous quantity and
// compares the result with the cached stock.
func (l *Ledger) Verify(ctx context.Context, repo store.Repository, variantID int64) (*LedgerReport, error) {
	ctx, span := util.StartSpan(ctx, "Ledger.Verify")
	defer span.End()

	variant, err := repo.GetVariant(ctx, variantID)
	if err != nil {
		return nil, err
	}
	movements, err := repo.MovementsForVariant(ctx, variantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load movements: %w", err)
	}

	report := &LedgerReport{
		VariantID:        variantID,
		Movements:        len(movements),
		StartingQuantity: variant.StockQuantity,
		ReplayedQuantity: variant.StockQuantity,
		CachedQuantity:   variant.StockQuantity,
		Consistent:       true,
	}
	if len(movements) == 0 {
		return report, nil
	}

	running := movements[0].PreviousQuantity
	report.StartingQuantity = running
	for _, m := range movements {
		switch {
		case m.PreviousQuantity != running:
			report.markBroken(m.ID, fmt.Sprintf("previous_quantity %d, expected %d", m.PreviousQuantity, running))
		case m.NewQuantity != m.PreviousQuantity+m.Change:
			report.markBroken(m.ID, fmt.Sprintf("new_quantity %d != %d%+d", m.NewQuantity, m.PreviousQuantity, m.Change))
		}
		if report.BrokenAt != nil {
			break
		}
		running = m.NewQuantity
	}
	report.ReplayedQuantity = running

	if report.BrokenAt == nil && running != variant.StockQuantity {
		report.Consistent = false
		report.Problem = fmt.Sprintf("replayed %d, cached %d", running, variant.StockQuantity)
	}

	if !report.Consistent {
		util.LedgerInconsistenciesTotal.Inc()
		l.logger.Error("Ledger inconsistency detected",
			zap.Int64("variant_id", variantID),
			zap.String("problem", report.Problem))
	}
	return report, nil
}

func (r *LedgerReport) markBroken(movementID int64, problem string) {
	id := movementID
	r.BrokenAt = &id
	r.Consistent = false
	r.Problem = problem
}
