package service

import (
	"context"
	"testing"

	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestRecordMovement(t *testing.T) {
	env := newTestEnv(t)
	v := env.variant("A", 10, "1.00")
	staff := staffActor(7)
	ctx := context.Background()
	note := "cycle count"

	tests := []struct {
		name   string
		req    RecordMovementRequest
		change int
		stock  int
	}{
		{"restock", RecordMovementRequest{VariantID: v, Reason: models.ReasonRestock, Quantity: intPtr(5)}, 5, 15},
		{"damage", RecordMovementRequest{VariantID: v, Reason: models.ReasonDamage, Quantity: intPtr(3)}, -3, 12},
		{"admin update", RecordMovementRequest{VariantID: v, Reason: models.ReasonAdminUpdate, NewQuantity: intPtr(20), Note: &note}, 8, 20},
		{"system adjust", RecordMovementRequest{VariantID: v, Reason: models.ReasonSystemAdjust, NewQuantity: intPtr(0)}, -20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			m, err := env.inventory.RecordMovement(ctx, staff, &req)
			require.NoError(t, err)
			assert.Equal(t, tt.change, m.Change)
			assert.Equal(t, tt.stock, m.NewQuantity)
			assert.Equal(t, tt.stock, env.stock(t, v))
			require.NotNil(t, m.ActorID)
			assert.Equal(t, int64(7), *m.ActorID)
		})
	}

	report, err := env.inventory.Verify(ctx, staff, v)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
	assert.Equal(t, 10, report.StartingQuantity)
	assert.Equal(t, 4, report.Movements)
}

func TestRecordMovementRejections(t *testing.T) {
	env := newTestEnv(t)
	v := env.variant("A", 2, "1.00")
	staff := staffActor(7)
	ctx := context.Background()

	_, err := env.inventory.RecordMovement(ctx, userActor(1),
		&RecordMovementRequest{VariantID: v, Reason: models.ReasonRestock, Quantity: intPtr(1)})
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = env.inventory.RecordMovement(ctx, staff,
		&RecordMovementRequest{VariantID: v, Reason: models.ReasonDamage, Quantity: intPtr(3)})
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Equal(t, 2, env.stock(t, v))

	invalid := []RecordMovementRequest{
		{VariantID: v, Reason: models.ReasonOrderPurchase, Quantity: intPtr(1)},
		{VariantID: v, Reason: models.ReasonOrderCancel, Quantity: intPtr(1)},
		{VariantID: v, Reason: "lost", Quantity: intPtr(1)},
		{VariantID: v, Reason: models.ReasonRestock},
		{VariantID: v, Reason: models.ReasonRestock, Quantity: intPtr(0)},
		{VariantID: v, Reason: models.ReasonAdminUpdate, NewQuantity: intPtr(-1)},
		{VariantID: v, Reason: models.ReasonAdminUpdate, Quantity: intPtr(4)},
	}
	for _, req := range invalid {
		req := req
		_, err := env.inventory.RecordMovement(ctx, staff, &req)
		assert.ErrorIs(t, err, models.ErrInvalidArgument, "reason %s", req.Reason)
	}

	_, err = env.inventory.RecordMovement(ctx, staff,
		&RecordMovementRequest{VariantID: v + 100, Reason: models.ReasonRestock, Quantity: intPtr(1)})
	assert.ErrorIs(t, err, models.ErrNotFound)

	movements, _ := env.store.MovementsForVariant(ctx, v)
	assert.Empty(t, movements)
}

func TestListMovements(t *testing.T) {
	env := newTestEnv(t)
	v := env.variant("A", 0, "1.00")
	staff := staffActor(7)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := env.inventory.RecordMovement(ctx, staff,
			&RecordMovementRequest{VariantID: v, Reason: models.ReasonRestock, Quantity: intPtr(i)})
		require.NoError(t, err)
	}

	page, err := env.inventory.ListMovements(ctx, staff, v, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 5, page[0].Change, "newest first")
	assert.Equal(t, 4, page[1].Change)

	page, err = env.inventory.ListMovements(ctx, staff, v, 0, 4)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, 1, page[0].Change)

	_, err = env.inventory.ListMovements(ctx, staff, v, 201, 0)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = env.inventory.ListMovements(ctx, staff, v, 10, -1)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = env.inventory.ListMovements(ctx, userActor(1), v, 10, 0)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = env.inventory.ListMovements(ctx, staff, v+100, 10, 0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
