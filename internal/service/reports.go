package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/store"
)

const dateLayout = "2006-01-02"

// ParseReportRange turns inclusive YYYY-MM-DD bounds into a half-open UTC
// range. Empty bounds default to the last seven days ending today.
func ParseReportRange(from string, to string, locationID string, now time.Time) (domain.ReportRange, error) {
	today := time.Date(now.UTC().Year(), now.UTC().Month(), now.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := today
	if strings.TrimSpace(to) != "" {
		parsed, err := time.Parse(dateLayout, strings.TrimSpace(to))
		if err != nil {
			return domain.ReportRange{}, store.ErrInvalidTransaction
		}
		end = parsed
	}
	start := end.AddDate(0, 0, -6)
	if strings.TrimSpace(from) != "" {
		parsed, err := time.Parse(dateLayout, strings.TrimSpace(from))
		if err != nil {
			return domain.ReportRange{}, store.ErrInvalidTransaction
		}
		start = parsed
	}
	if end.Before(start) {
		return domain.ReportRange{}, store.ErrInvalidTransaction
	}
	return domain.ReportRange{From: start, To: end.AddDate(0, 0, 1), LocationID: strings.TrimSpace(locationID)}, nil
}

func rangeLabels(rng domain.ReportRange) (string, string) {
	return rng.From.Format(dateLayout), rng.To.AddDate(0, 0, -1).Format(dateLayout)
}

// cached serves a report from the cache when an entry exists for the
// current write epoch, and builds and stores it otherwise.
func cached[T any](ctx context.Context, s *Service, name string, params string, build func() (T, error)) (T, error) {
	var zero T
	epoch, err := s.reports.Epoch(ctx)
	if err != nil {
		s.logger.Warn("report cache epoch unavailable", zap.String("report", name), zap.Error(err))
		return build()
	}
	key := fmt.Sprintf("%s:%d:%s", name, epoch, params)

	if raw, ok, err := s.reports.Get(ctx, key); err == nil && ok {
		var out T
		if err := json.Unmarshal(raw, &out); err == nil {
			metrics.ReportCacheTotal.WithLabelValues(name, "hit").Inc()
			return out, nil
		}
	}
	metrics.ReportCacheTotal.WithLabelValues(name, "miss").Inc()

	out, err := build()
	if err != nil {
		return zero, err
	}
	if raw, err := json.Marshal(out); err == nil {
		if err := s.reports.Set(ctx, key, raw, s.opts.ReportCacheTTL); err != nil {
			s.logger.Debug("report cache set failed", zap.String("report", name), zap.Error(err))
		}
	}
	return out, nil
}

func rangeParams(rng domain.ReportRange) string {
	return rng.From.Format(dateLayout) + ":" + rng.To.Format(dateLayout) + ":" + rng.LocationID
}

func (s *Service) DailySales(ctx context.Context, rng domain.ReportRange) (domain.DailySalesReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.DailySalesReport{}, err
	}
	return cached(ctx, s, "daily", rangeParams(rng), func() (domain.DailySalesReport, error) {
		rows, err := s.repo.GetDailySales(ctx, rng)
		if err != nil {
			return domain.DailySalesReport{}, err
		}
		from, to := rangeLabels(rng)
		report := domain.DailySalesReport{From: from, To: to, LocationID: rng.LocationID, Days: rows}
		report.Totals.Date = "total"
		for _, r := range rows {
			report.Totals.Sales += r.Sales
			report.Totals.SubtotalAmount = report.Totals.SubtotalAmount.Add(r.SubtotalAmount)
			report.Totals.DiscountAmount = report.Totals.DiscountAmount.Add(r.DiscountAmount)
			report.Totals.TotalAmount = report.Totals.TotalAmount.Add(r.TotalAmount)
			report.Totals.RefundAmount = report.Totals.RefundAmount.Add(r.RefundAmount)
			report.Totals.NetAmount = report.Totals.NetAmount.Add(r.NetAmount)
		}
		return report, nil
	})
}

func (s *Service) InventoryValuation(ctx context.Context, groupBy string) (domain.InventoryValuationReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.InventoryValuationReport{}, err
	}
	groupBy = strings.ToLower(strings.TrimSpace(groupBy))
	if groupBy == "" {
		groupBy = domain.GroupByCategory
	}
	if groupBy != domain.GroupByCategory && groupBy != domain.GroupByLocation {
		return domain.InventoryValuationReport{}, store.ErrInvalidTransaction
	}
	return cached(ctx, s, "valuation", groupBy, func() (domain.InventoryValuationReport, error) {
		rows, err := s.repo.GetInventoryValuation(ctx, groupBy)
		if err != nil {
			return domain.InventoryValuationReport{}, err
		}
		report := domain.InventoryValuationReport{GroupBy: groupBy, Rows: rows}
		for _, r := range rows {
			report.RetailValue = report.RetailValue.Add(r.RetailValue)
			report.CostValue = report.CostValue.Add(r.CostValue)
		}
		return report, nil
	})
}

// ProfitMargin values net sold quantities at each product's current cost.
// Returns count against the period of the sale they came from.
func (s *Service) ProfitMargin(ctx context.Context, rng domain.ReportRange) (domain.ProfitMarginReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.ProfitMarginReport{}, err
	}
	return cached(ctx, s, "margin", rangeParams(rng), func() (domain.ProfitMarginReport, error) {
		totals, products, err := s.soldTotals(ctx, rng)
		if err != nil {
			return domain.ProfitMarginReport{}, err
		}
		from, to := rangeLabels(rng)
		report := domain.ProfitMarginReport{From: from, To: to, Products: make([]domain.ProductMargin, 0, len(totals))}
		for _, t := range totals {
			product := products[t.ProductID]
			cost := t.Quantity.Mul(product.Cost).Round(2)
			pm := domain.ProductMargin{
				ProductID:     t.ProductID,
				Name:          product.Name,
				Quantity:      t.Quantity,
				Revenue:       t.Revenue,
				Cost:          cost,
				Margin:        t.Revenue.Sub(cost),
				MarginPercent: marginPercent(t.Revenue, t.Revenue.Sub(cost)),
			}
			report.Products = append(report.Products, pm)
			report.Revenue = report.Revenue.Add(pm.Revenue)
			report.Cost = report.Cost.Add(pm.Cost)
		}
		report.Margin = report.Revenue.Sub(report.Cost)
		report.MarginPercent = marginPercent(report.Revenue, report.Margin)
		sort.Slice(report.Products, func(i, j int) bool {
			if !report.Products[i].Margin.Equal(report.Products[j].Margin) {
				return report.Products[i].Margin.GreaterThan(report.Products[j].Margin)
			}
			return report.Products[i].ProductID < report.Products[j].ProductID
		})
		return report, nil
	})
}

func (s *Service) TopProducts(ctx context.Context, rng domain.ReportRange, by string, limit int) (domain.TopProductsReport, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.TopProductsReport{}, err
	}
	by = strings.ToLower(strings.TrimSpace(by))
	if by == "" {
		by = domain.RankByQuantity
	}
	if by != domain.RankByQuantity && by != domain.RankByRevenue {
		return domain.TopProductsReport{}, store.ErrInvalidTransaction
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	params := fmt.Sprintf("%s:%s:%d", rangeParams(rng), by, limit)
	return cached(ctx, s, "top", params, func() (domain.TopProductsReport, error) {
		all, products, err := s.soldTotals(ctx, rng)
		if err != nil {
			return domain.TopProductsReport{}, err
		}
		totals := all[:0]
		for _, t := range all {
			if t.Quantity.IsPositive() {
				totals = append(totals, t)
			}
		}
		sort.Slice(totals, func(i, j int) bool {
			a, b := totals[i].Quantity, totals[j].Quantity
			if by == domain.RankByRevenue {
				a, b = totals[i].Revenue, totals[j].Revenue
			}
			if !a.Equal(b) {
				return a.GreaterThan(b)
			}
			return totals[i].ProductID < totals[j].ProductID
		})
		if len(totals) > limit {
			totals = totals[:limit]
		}
		from, to := rangeLabels(rng)
		report := domain.TopProductsReport{From: from, To: to, By: by, Products: totals}
		for i := range report.Products {
			report.Products[i].Name = products[report.Products[i].ProductID].Name
		}
		return report, nil
	})
}

func (s *Service) soldTotals(ctx context.Context, rng domain.ReportRange) ([]domain.TopProduct, map[string]domain.Product, error) {
	lines, err := s.repo.ListSoldLines(ctx, rng)
	if err != nil {
		return nil, nil, err
	}
	byProduct := make(map[string]*domain.TopProduct)
	ids := make([]string, 0, 16)
	for _, line := range lines {
		t, ok := byProduct[line.ProductID]
		if !ok {
			t = &domain.TopProduct{ProductID: line.ProductID}
			byProduct[line.ProductID] = t
			ids = append(ids, line.ProductID)
		}
		t.Quantity = t.Quantity.Add(line.NetQuantity())
		t.Revenue = t.Revenue.Add(line.NetRevenue())
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	sort.Strings(ids)
	totals := make([]domain.TopProduct, 0, len(ids))
	for _, id := range ids {
		totals = append(totals, *byProduct[id])
	}
	return totals, products, nil
}

func marginPercent(revenue decimal.Decimal, margin decimal.Decimal) decimal.Decimal {
	if !revenue.IsPositive() {
		return decimal.Zero
	}
	return margin.Mul(decimal.NewFromInt(100)).Div(revenue).Round(2)
}
