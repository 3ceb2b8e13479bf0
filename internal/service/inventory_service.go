package service

import (
	"context"
	"fmt"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// InventoryService exposes the ledger to staff
type InventoryService struct {
	repo   store.Repository
	ledger *Ledger
	retry  RetryPolicy
	logger *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(repo store.Repository, ledger *Ledger, retry RetryPolicy) *InventoryService {
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy
	}
	return &InventoryService{
		repo:   repo,
		ledger: ledger,
		retry:  retry,
		logger: util.GetLogger(),
	}
}

// RecordMovementRequest is a manual stock change. restock and damage take
// a positive Quantity; admin_update and system_adjust take an absolute
// NewQuantity.
type RecordMovementRequest struct {
	VariantID   int64                 `json:"variant_id" binding:"required"`
	Reason      models.MovementReason `json:"reason" binding:"required"`
	Quantity    *int                  `json:"quantity,omitempty"`
	NewQuantity *int                  `json:"new_quantity,omitempty"`
	Note        *string               `json:"note,omitempty"`
}

// RecordMovement applies a staff stock change through the ledger. Order
// reasons are reserved for checkout and cancellation.
func (s *InventoryService) RecordMovement(ctx context.Context, actor models.Actor, req *RecordMovementRequest) (*models.InventoryMovement, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.RecordMovement")
	defer span.End()

	if !actor.IsStaff() {
		return nil, models.ErrForbidden
	}

	var apply func(tx store.Tx) (*models.InventoryMovement, error)
	switch req.Reason {
	case models.ReasonRestock, models.ReasonDamage:
		if req.Quantity == nil || *req.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s requires a positive quantity", models.ErrInvalidArgument, req.Reason)
		}
		change := *req.Quantity
		if req.Reason == models.ReasonDamage {
			change = -change
		}
		apply = func(tx store.Tx) (*models.InventoryMovement, error) {
			return s.ledger.Record(ctx, tx, MovementInput{
				VariantID: req.VariantID,
				Change:    change,
				Reason:    req.Reason,
				ActorID:   actor.UserID,
				Note:      req.Note,
			})
		}
	case models.ReasonAdminUpdate, models.ReasonSystemAdjust:
		if req.NewQuantity == nil || *req.NewQuantity < 0 {
			return nil, fmt.Errorf("%w: %s requires a non-negative new_quantity", models.ErrInvalidArgument, req.Reason)
		}
		apply = func(tx store.Tx) (*models.InventoryMovement, error) {
			return s.ledger.SetQuantity(ctx, tx, req.VariantID, *req.NewQuantity, req.Reason, actor.UserID, req.Note)
		}
	case models.ReasonOrderPurchase, models.ReasonOrderCancel:
		return nil, fmt.Errorf("%w: %s movements are recorded by checkout", models.ErrInvalidArgument, req.Reason)
	default:
		return nil, fmt.Errorf("%w: unknown movement reason %q", models.ErrInvalidArgument, req.Reason)
	}

	var movement *models.InventoryMovement
	err := s.retry.run(ctx, "inventory_movement", func() error {
		return s.repo.WithTx(ctx, func(tx store.Tx) error {
			var err error
			movement, err = apply(tx)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	util.InventoryMovementsTotal.WithLabelValues(string(movement.Reason)).Inc()
	s.logger.Info("Inventory movement recorded",
		zap.Int64("variant_id", movement.VariantID),
		zap.String("reason", string(movement.Reason)),
		zap.Int("change", movement.Change),
		zap.Int("new_quantity", movement.NewQuantity))
	return movement, nil
}

// ListMovements returns a variant's ledger newest first
func (s *InventoryService) ListMovements(ctx context.Context, actor models.Actor, variantID int64, limit, offset int) ([]models.InventoryMovement, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ListMovements")
	defer span.End()

	if !actor.IsStaff() {
		return nil, models.ErrForbidden
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		return nil, fmt.Errorf("%w: limit must be at most %d", models.ErrInvalidArgument, maxPageLimit)
	}
	if offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", models.ErrInvalidArgument)
	}

	if _, err := s.repo.GetVariant(ctx, variantID); err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, variantID, limit, offset)
}

// Verify replays a variant's ledger
func (s *InventoryService) Verify(ctx context.Context, actor models.Actor, variantID int64) (*LedgerReport, error) {
	if !actor.IsStaff() {
		return nil, models.ErrForbidden
	}
	return s.ledger.Verify(ctx, s.repo, variantID)
}
