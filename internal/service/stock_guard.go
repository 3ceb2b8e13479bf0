package service

import (
	"context"
	"fmt"
	"sort"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
)

// Line is one (variant, quantity) request against stock
type Line struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type availabilityChecker interface {
	CheckAvailability(ctx context.Context, reader store.StockReader, lines []Line) error
}

// StockGuard answers whether every line can be satisfied from cached stock.
// It never writes; the ledger re-checks under row locks when deducting.
type StockGuard struct{}

// CheckAvailability sums lines per variant and fails on the lowest variant
// id that cannot be covered. Unknown variants have zero stock.
func (StockGuard) CheckAvailability(ctx context.Context, reader store.StockReader, lines []Line) error {
	requested := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity for variant %d must be positive", models.ErrInvalidArgument, line.VariantID)
		}
		requested[line.VariantID] += line.Quantity
	}
	if len(requested) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(requested))
	for id := range requested {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	levels, err := reader.StockLevels(ctx, ids)
	if err != nil {
		return err
	}

	for _, id := range ids {
		if available := levels[id]; available < requested[id] {
			util.StockCheckFailedTotal.Inc()
			return &models.InsufficientStockError{
				VariantID: id,
				Requested: requested[id],
				Available: available,
			}
		}
	}
	return nil
}
