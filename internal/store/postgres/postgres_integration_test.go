package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

type fixture struct {
	s          *Store
	productID  string
	locationID string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	databaseURL := os.Getenv("RETAILPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RETAILPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, zap.NewNop(), 5)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	stamp := time.Now().UnixNano()
	f := fixture{
		s:          s,
		productID:  fmt.Sprintf("prd-it-%d", stamp),
		locationID: fmt.Sprintf("loc-it-%d", stamp),
	}
	_, err = s.CreateLocation(ctx, domain.Location{ID: f.locationID, Name: "Integration"})
	require.NoError(t, err)
	_, err = s.CreateProduct(ctx, domain.Product{
		ID:       f.productID,
		Name:     "Integration Rice",
		Unit:     "kg",
		Category: "groceries",
		Price:    decimal.NewFromInt(10000),
		Cost:     decimal.NewFromInt(7000),
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM return_items WHERE product_id = $1`, f.productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM returns WHERE sale_id IN (SELECT id FROM sales WHERE location_id = $1)`, f.locationID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE product_id = $1`, f.productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE location_id = $1`, f.locationID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_movements WHERE product_id = $1`, f.productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_records WHERE product_id = $1`, f.productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, f.productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM locations WHERE id = $1`, f.locationID)
	})
	return f
}

func (f fixture) receive(t *testing.T, qty int64) {
	t.Helper()
	_, err := f.s.ApplyMovement(context.Background(), domain.MovementInput{
		ProductID:    f.productID,
		LocationID:   f.locationID,
		ChangeType:   domain.ChangeReceived,
		ChangeAmount: decimal.NewFromInt(qty),
		Actor:        "it",
	})
	require.NoError(t, err)
}

func (f fixture) sale(qty int64) domain.Sale {
	q := decimal.NewFromInt(qty)
	price := decimal.NewFromInt(10000)
	return domain.Sale{
		CustomerName:   domain.WalkInCustomer,
		LocationID:     f.locationID,
		Actor:          "it",
		PaymentMethod:  "cash",
		SubtotalAmount: q.Mul(price),
		TotalAmount:    q.Mul(price),
		Items: []domain.SaleItem{{
			ProductID: f.productID,
			Quantity:  q,
			Unit:      "kg",
			UnitPrice: price,
			LineTotal: q.Mul(price),
		}},
	}
}

func TestLedgerRejectsNegativeStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, 5)

	_, err := f.s.ApplyMovement(ctx, domain.MovementInput{
		ProductID:    f.productID,
		LocationID:   f.locationID,
		ChangeType:   domain.ChangeBroken,
		ChangeAmount: decimal.NewFromInt(-6),
		Actor:        "it",
	})
	var insufficient *store.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Available.Equal(decimal.NewFromInt(5)))

	qty, err := f.s.GetQuantity(ctx, f.productID, f.locationID)
	require.NoError(t, err)
	assert.True(t, qty.Equal(decimal.NewFromInt(5)))
}

func TestConcurrentSalesNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.s.CreateSale(ctx, f.sale(2))
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			var insufficient *store.InsufficientStockError
			if !errors.As(err, &insufficient) && !errors.Is(err, store.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	qty, err := f.s.GetQuantity(ctx, f.productID, f.locationID)
	require.NoError(t, err)
	assert.False(t, qty.IsNegative())
	assert.True(t, qty.Equal(decimal.NewFromInt(int64(10-2*succeeded))))
	assert.LessOrEqual(t, succeeded, 5)
}

func TestReturnLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, 10)

	sale, movements, err := f.s.CreateSale(ctx, f.sale(3))
	require.NoError(t, err)
	require.Len(t, movements, 1)
	saleItemID := sale.Items[0].ID

	ret := domain.Return{
		SaleID:            sale.ID,
		ProcessedBy:       "it",
		ReturnType:        domain.ReturnTypeRefund,
		RefundMethod:      domain.RefundCash,
		TotalRefundAmount: decimal.NewFromInt(20000),
		Items: []domain.ReturnItem{{
			SaleItemID:   saleItemID,
			ProductID:    f.productID,
			LocationID:   f.locationID,
			Quantity:     decimal.NewFromInt(2),
			Condition:    domain.ConditionGood,
			RefundAmount: decimal.NewFromInt(20000),
		}},
	}
	created, status, _, err := f.s.CreateReturn(ctx, ret, nil)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusPartiallyReturned, status)

	over := ret
	over.Items = []domain.ReturnItem{ret.Items[0]}
	over.Items[0].Quantity = decimal.NewFromInt(2)
	over.Items[0].ID = ""
	_, _, _, err = f.s.CreateReturn(ctx, over, nil)
	var overReturn *store.OverReturnError
	require.ErrorAs(t, err, &overReturn)

	qty, err := f.s.GetQuantity(ctx, f.productID, f.locationID)
	require.NoError(t, err)
	assert.True(t, qty.Equal(decimal.NewFromInt(9)))

	_, status, _, err = f.s.TransitionReturn(ctx, store.ReturnTransition{
		ReturnID: created.ID,
		To:       domain.ReturnStatusRejected,
		Actor:    "manager",
		Notes:    "receipt mismatch",
		Movements: []domain.MovementInput{{
			ProductID:    f.productID,
			LocationID:   f.locationID,
			ChangeType:   domain.ChangeReturn,
			ChangeAmount: decimal.NewFromInt(-2),
			Actor:        "manager",
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusCompleted, status)

	returned, err := f.s.GetReturnedQtyBySaleItem(ctx, sale.ID)
	require.NoError(t, err)
	assert.True(t, returned[saleItemID].IsZero())

	_, _, _, err = f.s.TransitionReturn(ctx, store.ReturnTransition{ReturnID: created.ID, To: domain.ReturnStatusApproved, Actor: "manager"})
	assert.ErrorIs(t, err, store.ErrInvalidStatusTransition)

	qty, err = f.s.GetQuantity(ctx, f.productID, f.locationID)
	require.NoError(t, err)
	assert.True(t, qty.Equal(decimal.NewFromInt(7)))
}

func TestSaleIdempotencyReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, 10)

	sale := f.sale(1)
	sale.IdempotencyKey = "idem-" + f.productID
	first, movements, err := f.s.CreateSale(ctx, sale)
	require.NoError(t, err)
	require.NotEmpty(t, movements)

	replay, movements, err := f.s.CreateSale(ctx, sale)
	require.NoError(t, err)
	assert.Empty(t, movements)
	assert.Equal(t, first.ID, replay.ID)

	qty, err := f.s.GetQuantity(ctx, f.productID, f.locationID)
	require.NoError(t, err)
	assert.True(t, qty.Equal(decimal.NewFromInt(9)))
}
