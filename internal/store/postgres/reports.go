package postgres

import (
	"context"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
)

// ListSoldLines returns sale items in range together with the quantities and
// refunds of non-rejected returns recorded against each item.
func (s *Store) ListSoldLines(ctx context.Context, rng domain.ReportRange) ([]domain.SoldLine, error) {
	query := psql.Select(
		"s.id", "si.product_id", "si.location_id", "si.quantity", "si.line_total",
		"s.subtotal_amount", "s.discount_amount",
		"COALESCE(r.qty, 0)", "COALESCE(r.refund, 0)",
		"s.created_at",
	).
		From("sale_items si").
		Join("sales s ON s.id = si.sale_id").
		LeftJoin(`(
			SELECT ri.sale_item_id, SUM(ri.quantity) AS qty, SUM(ri.refund_amount) AS refund
			FROM return_items ri
			JOIN returns rt ON rt.id = ri.return_id
			WHERE rt.status <> ?
			GROUP BY ri.sale_item_id
		) r ON r.sale_item_id = si.id`, domain.ReturnStatusRejected).
		Where(rangeFilter("s.created_at", rng.From, rng.To)).
		OrderBy("s.created_at", "si.position")
	if rng.LocationID != "" {
		query = query.Where(sq.Eq{"s.location_id": rng.LocationID})
	}
	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SoldLine, 0, 64)
	for rows.Next() {
		var line domain.SoldLine
		if err := rows.Scan(
			&line.SaleID, &line.ProductID, &line.LocationID, &line.Quantity, &line.LineTotal,
			&line.SaleSubtotal, &line.SaleDiscount, &line.ReturnedQuantity, &line.RefundAmount,
			&line.SoldAt,
		); err != nil {
			return nil, err
		}
		line.SoldAt = line.SoldAt.UTC()
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// GetDailySales buckets sales by their UTC creation date and refunds of
// non-rejected returns by their return date.
func (s *Store) GetDailySales(ctx context.Context, rng domain.ReportRange) ([]domain.DailySalesRow, error) {
	salesQuery := psql.Select(
		"to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day",
		"COUNT(*)",
		"COALESCE(SUM(subtotal_amount), 0)",
		"COALESCE(SUM(discount_amount), 0)",
		"COALESCE(SUM(total_amount), 0)",
	).From("sales").
		Where(rangeFilter("created_at", rng.From, rng.To)).
		GroupBy("day")
	if rng.LocationID != "" {
		salesQuery = salesQuery.Where(sq.Eq{"location_id": rng.LocationID})
	}
	sqlStr, args, err := salesQuery.ToSql()
	if err != nil {
		return nil, err
	}

	byDate := make(map[string]*domain.DailySalesRow)
	order := make([]string, 0, 32)
	row := func(day string) *domain.DailySalesRow {
		r, ok := byDate[day]
		if !ok {
			r = &domain.DailySalesRow{Date: day}
			byDate[day] = r
			order = append(order, day)
		}
		return r
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var day string
		var count int
		var subtotal, discount, total decimal.Decimal
		if err := rows.Scan(&day, &count, &subtotal, &discount, &total); err != nil {
			_ = rows.Close()
			return nil, err
		}
		r := row(day)
		r.Sales = count
		r.SubtotalAmount = subtotal
		r.DiscountAmount = discount
		r.TotalAmount = total
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	refundQuery := psql.Select(
		"to_char(r.return_date AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day",
		"COALESCE(SUM(r.total_refund_amount), 0)",
	).From("returns r").
		Join("sales s ON s.id = r.sale_id").
		Where(sq.NotEq{"r.status": domain.ReturnStatusRejected}).
		Where(rangeFilter("r.return_date", rng.From, rng.To)).
		GroupBy("day")
	if rng.LocationID != "" {
		refundQuery = refundQuery.Where(sq.Eq{"s.location_id": rng.LocationID})
	}
	sqlStr, args, err = refundQuery.ToSql()
	if err != nil {
		return nil, err
	}

	refunds, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer refunds.Close()
	for refunds.Next() {
		var day string
		var amount decimal.Decimal
		if err := refunds.Scan(&day, &amount); err != nil {
			return nil, err
		}
		row(day).RefundAmount = amount
	}
	if err := refunds.Err(); err != nil {
		return nil, err
	}

	sort.Strings(order)
	result := make([]domain.DailySalesRow, 0, len(order))
	for _, day := range order {
		r := byDate[day]
		r.NetAmount = r.TotalAmount.Sub(r.RefundAmount)
		result = append(result, *r)
	}
	return result, nil
}

func (s *Store) GetInventoryValuation(ctx context.Context, groupBy string) ([]domain.ValuationRow, error) {
	groupColumn := "p.category"
	if groupBy == domain.GroupByLocation {
		groupColumn = "sr.location_id"
	}
	sqlStr, args, err := psql.Select(
		groupColumn+" AS grp",
		"COALESCE(SUM(sr.quantity), 0)",
		"COALESCE(SUM(sr.quantity * p.price), 0)",
		"COALESCE(SUM(sr.quantity * p.cost), 0)",
	).From("stock_records sr").
		Join("products p ON p.id = sr.product_id").
		Where(sq.Gt{"sr.quantity": 0}).
		GroupBy("grp").
		OrderBy("grp").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ValuationRow, 0, 16)
	for rows.Next() {
		var r domain.ValuationRow
		if err := rows.Scan(&r.Group, &r.Quantity, &r.RetailValue, &r.CostValue); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
