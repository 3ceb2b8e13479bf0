package service

import (
	"context"
	"errors"
	"testing"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(t *testing.T, st *memstore.Store, ledger *Ledger, in MovementInput) (*models.InventoryMovement, error) {
	t.Helper()
	var m *models.InventoryMovement
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		var err error
		m, err = ledger.Record(context.Background(), tx, in)
		return err
	})
	return m, err
}

func TestLedgerRecord(t *testing.T) {
	st := memstore.New()
	ledger := NewLedger()
	v := st.AddVariant("A", 4)

	m, err := record(t, st, ledger, MovementInput{VariantID: v, Change: -3, Reason: models.ReasonOrderPurchase})
	require.NoError(t, err)
	assert.Equal(t, 4, m.PreviousQuantity)
	assert.Equal(t, -3, m.Change)
	assert.Equal(t, 1, m.NewQuantity)
	assert.NotZero(t, m.ID)

	levels, _ := st.StockLevels(context.Background(), []int64{v})
	assert.Equal(t, 1, levels[v])
}

func TestLedgerRecordNeverGoesNegative(t *testing.T) {
	st := memstore.New()
	ledger := NewLedger()
	v := st.AddVariant("A", 2)

	_, err := record(t, st, ledger, MovementInput{VariantID: v, Change: -3, Reason: models.ReasonDamage})

	var stockErr *models.InsufficientStockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)

	levels, _ := st.StockLevels(context.Background(), []int64{v})
	assert.Equal(t, 2, levels[v])
	movements, _ := st.MovementsForVariant(context.Background(), v)
	assert.Empty(t, movements)
}

func TestLedgerRecordValidation(t *testing.T) {
	st := memstore.New()
	ledger := NewLedger()
	v := st.AddVariant("A", 2)

	_, err := record(t, st, ledger, MovementInput{VariantID: v, Change: 1, Reason: "gift"})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = record(t, st, ledger, MovementInput{VariantID: v + 99, Change: 1, Reason: models.ReasonRestock})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestLedgerSetQuantity(t *testing.T) {
	st := memstore.New()
	ledger := NewLedger()
	v := st.AddVariant("A", 7)
	ctx := context.Background()

	var m *models.InventoryMovement
	err := st.WithTx(ctx, func(tx store.Tx) error {
		var err error
		m, err = ledger.SetQuantity(ctx, tx, v, 3, models.ReasonAdminUpdate, nil, nil)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, -4, m.Change)
	assert.Equal(t, 3, m.NewQuantity)

	err = st.WithTx(ctx, func(tx store.Tx) error {
		_, err := ledger.SetQuantity(ctx, tx, v, -1, models.ReasonAdminUpdate, nil, nil)
		return err
	})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestLedgerVerifyReplaysChain(t *testing.T) {
	st := memstore.New()
	ledger := NewLedger()
	v := st.AddVariant("A", 10)
	ctx := context.Background()

	changes := []struct {
		change int
		reason models.MovementReason
	}{
		{-3, models.ReasonOrderPurchase},
		{5, models.ReasonRestock},
		{-2, models.ReasonDamage},
		{3, models.ReasonOrderCancel},
	}
	for _, c := range changes {
		_, err := record(t, st, ledger, MovementInput{VariantID: v, Change: c.change, Reason: c.reason})
		require.NoError(t, err)
	}

	report, err := ledger.Verify(ctx, st, v)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 4, report.Movements)
	assert.Equal(t, 10, report.StartingQuantity)
	assert.Equal(t, 13, report.ReplayedQuantity)
	assert.Equal(t, 13, report.CachedQuantity)
	assert.Nil(t, report.BrokenAt)
}

func TestLedgerVerifyDetectsDrift(t *testing.T) {
	st := memstore.New()
	ledger := NewLedger()
	v := st.AddVariant("A", 10)
	ctx := context.Background()

	_, err := record(t, st, ledger, MovementInput{VariantID: v, Change: -1, Reason: models.ReasonOrderPurchase})
	require.NoError(t, err)

	// Write the cache behind the ledger's back.
	require.NoError(t, st.WithTx(ctx, func(tx store.Tx) error {
		return tx.SetStock(ctx, v, 42)
	}))

	report, err := ledger.Verify(ctx, st, v)
	require.NoError(t, err)
	assert.False(t, report.Consistent)
	assert.Equal(t, 9, report.ReplayedQuantity)
	assert.Equal(t, 42, report.CachedQuantity)
	assert.NotEmpty(t, report.Problem)
}

func TestLedgerVerifyWithoutMovements(t *testing.T) {
	st := memstore.New()
	v := st.AddVariant("A", 6)

	report, err := NewLedger().Verify(context.Background(), st, v)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 6, report.ReplayedQuantity)

	_, err = NewLedger().Verify(context.Background(), st, v+1)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
