package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

type mapCache struct {
	mu      sync.Mutex
	epoch   int64
	entries map[string][]byte
	hits    int
}

func newMapCache() *mapCache { return &mapCache{entries: make(map[string][]byte)} }

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return raw, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	return nil
}

func (c *mapCache) Epoch(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch, nil
}

func (c *mapCache) Bump(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	return nil
}

var reportDay = time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

func newReportHarness(t *testing.T, reports *mapCache) harness {
	t.Helper()
	h := newHarness(t, Options{})
	if reports != nil {
		h.svc.reports = reports
	}
	h.svc.now = func() time.Time { return reportDay }
	h.product(t, "p1", "100", "60", "10")
	h.product(t, "p2", "50", "10", "10")
	return h
}

func dayRange(t *testing.T) domain.ReportRange {
	t.Helper()
	rng, err := ParseReportRange("2026-03-10", "2026-03-10", "", reportDay)
	require.NoError(t, err)
	return rng
}

func TestParseReportRange(t *testing.T) {
	rng, err := ParseReportRange("", "", "", reportDay)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC), rng.From)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), rng.To)

	rng, err = ParseReportRange("2026-03-01", "2026-03-02", " loc-1 ", reportDay)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), rng.To)
	assert.Equal(t, "loc-1", rng.LocationID)
	from, to := rangeLabels(rng)
	assert.Equal(t, "2026-03-01", from)
	assert.Equal(t, "2026-03-02", to)

	_, err = ParseReportRange("2026-03-05", "2026-03-01", "", reportDay)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
	_, err = ParseReportRange("03/01/2026", "", "", reportDay)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestDailySalesNetsOutRefunds(t *testing.T) {
	h := newReportHarness(t, nil)
	_, err := h.svc.CreateSale(h.cashier, domain.SaleRequest{
		LocationID:    locMain,
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: d("10"),
		Items:         []domain.SaleLineRequest{line("p1", "2", "")},
	})
	require.NoError(t, err)
	sale := h.sell(t, line("p2", "1", ""))
	ret := h.refund(t, sale.ID, refundLine(sale.Items[0].ID, "1")).Return

	report, err := h.svc.DailySales(h.admin, dayRange(t))
	require.NoError(t, err)
	require.Len(t, report.Days, 1)
	day := report.Days[0]
	assert.Equal(t, "2026-03-10", day.Date)
	assert.Equal(t, 2, day.Sales)
	assertDecimal(t, "250", day.SubtotalAmount)
	assertDecimal(t, "20", day.DiscountAmount)
	assertDecimal(t, "230", day.TotalAmount)
	assertDecimal(t, "50", day.RefundAmount)
	assertDecimal(t, "180", day.NetAmount)
	assertDecimal(t, "180", report.Totals.NetAmount)

	_, err = h.svc.RejectReturn(h.admin, ret.ID, "")
	require.NoError(t, err)
	report, err = h.svc.DailySales(h.admin, dayRange(t))
	require.NoError(t, err)
	assertDecimal(t, "0", report.Days[0].RefundAmount)
	assertDecimal(t, "230", report.Days[0].NetAmount)

	_, err = h.svc.DailySales(h.cashier, dayRange(t))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestProfitMarginAndTopProducts(t *testing.T) {
	h := newReportHarness(t, nil)
	h.sell(t, line("p1", "3", ""), line("p2", "4", ""))

	margin, err := h.svc.ProfitMargin(h.admin, dayRange(t))
	require.NoError(t, err)
	assertDecimal(t, "500", margin.Revenue)
	assertDecimal(t, "220", margin.Cost)
	assertDecimal(t, "280", margin.Margin)
	assertDecimal(t, "56", margin.MarginPercent)
	require.Len(t, margin.Products, 2)
	assert.Equal(t, "p2", margin.Products[0].ProductID)
	assertDecimal(t, "80", margin.Products[0].MarginPercent)
	assertDecimal(t, "40", margin.Products[1].MarginPercent)

	byQty, err := h.svc.TopProducts(h.admin, dayRange(t), "", 0)
	require.NoError(t, err)
	assert.Equal(t, domain.RankByQuantity, byQty.By)
	require.Len(t, byQty.Products, 2)
	assert.Equal(t, "p2", byQty.Products[0].ProductID)
	assert.Equal(t, "Product p2", byQty.Products[0].Name)

	byRevenue, err := h.svc.TopProducts(h.admin, dayRange(t), domain.RankByRevenue, 1)
	require.NoError(t, err)
	require.Len(t, byRevenue.Products, 1)
	assert.Equal(t, "p1", byRevenue.Products[0].ProductID)
	assertDecimal(t, "300", byRevenue.Products[0].Revenue)

	_, err = h.svc.TopProducts(h.admin, dayRange(t), "margin", 5)
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestProfitMarginNetsOutDiscountAndReturns(t *testing.T) {
	h := newReportHarness(t, nil)
	resp, err := h.svc.CreateSale(h.cashier, domain.SaleRequest{
		LocationID:    locMain,
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: d("50"),
		Items:         []domain.SaleLineRequest{line("p1", "3", ""), line("p2", "2", "")},
	})
	require.NoError(t, err)
	sale := resp.Sale

	margin, err := h.svc.ProfitMargin(h.admin, dayRange(t))
	require.NoError(t, err)
	assertDecimal(t, "200", margin.Revenue)
	assertDecimal(t, "200", margin.Cost)

	partial := refundLine(sale.Items[0].ID, "1")
	partial.RefundAmount = dp("50")
	h.refund(t, sale.ID, partial)
	rejected := h.refund(t, sale.ID, refundLine(sale.Items[1].ID, "2")).Return

	margin, err = h.svc.ProfitMargin(h.admin, dayRange(t))
	require.NoError(t, err)
	assertDecimal(t, "50", margin.Revenue)
	assertDecimal(t, "120", margin.Cost)
	byID := make(map[string]domain.ProductMargin)
	for _, pm := range margin.Products {
		byID[pm.ProductID] = pm
	}
	assertDecimal(t, "2", byID["p1"].Quantity)
	assertDecimal(t, "100", byID["p1"].Revenue)
	assertDecimal(t, "0", byID["p2"].Quantity)
	assertDecimal(t, "-50", byID["p2"].Revenue)

	top, err := h.svc.TopProducts(h.admin, dayRange(t), "", 0)
	require.NoError(t, err)
	require.Len(t, top.Products, 1)
	assert.Equal(t, "p1", top.Products[0].ProductID)
	assertDecimal(t, "2", top.Products[0].Quantity)

	_, err = h.svc.RejectReturn(h.admin, rejected.ID, "")
	require.NoError(t, err)
	margin, err = h.svc.ProfitMargin(h.admin, dayRange(t))
	require.NoError(t, err)
	assertDecimal(t, "150", margin.Revenue)
	assertDecimal(t, "140", margin.Cost)

	top, err = h.svc.TopProducts(h.admin, dayRange(t), domain.RankByRevenue, 0)
	require.NoError(t, err)
	require.Len(t, top.Products, 2)
	assert.Equal(t, "p1", top.Products[0].ProductID)
	assertDecimal(t, "50", top.Products[1].Revenue)
}

func TestInventoryValuation(t *testing.T) {
	h := newReportHarness(t, nil)
	h.sell(t, line("p1", "3", ""), line("p2", "4", ""))

	byLocation, err := h.svc.InventoryValuation(h.admin, domain.GroupByLocation)
	require.NoError(t, err)
	require.Len(t, byLocation.Rows, 1)
	assert.Equal(t, locMain, byLocation.Rows[0].Group)
	assertDecimal(t, "13", byLocation.Rows[0].Quantity)
	assertDecimal(t, "1000", byLocation.RetailValue)
	assertDecimal(t, "480", byLocation.CostValue)

	byCategory, err := h.svc.InventoryValuation(h.admin, "")
	require.NoError(t, err)
	assert.Equal(t, domain.GroupByCategory, byCategory.GroupBy)
	require.Len(t, byCategory.Rows, 1)
	assert.Equal(t, "general", byCategory.Rows[0].Group)

	_, err = h.svc.InventoryValuation(h.admin, "supplier")
	assert.ErrorIs(t, err, store.ErrInvalidTransaction)
}

func TestReportsAreCachedUntilStockMoves(t *testing.T) {
	reports := newMapCache()
	h := newReportHarness(t, reports)
	h.sell(t, line("p1", "1", ""))

	first, err := h.svc.DailySales(h.admin, dayRange(t))
	require.NoError(t, err)
	second, err := h.svc.DailySales(h.admin, dayRange(t))
	require.NoError(t, err)
	assert.Equal(t, 1, reports.hits)
	assert.Equal(t, first.Days[0].Sales, second.Days[0].Sales)
	assertDecimal(t, first.Days[0].TotalAmount.String(), second.Days[0].TotalAmount)

	h.sell(t, line("p1", "1", ""))
	third, err := h.svc.DailySales(h.admin, dayRange(t))
	require.NoError(t, err)
	assert.Equal(t, 1, reports.hits)
	assert.Equal(t, 2, third.Days[0].Sales)
}
