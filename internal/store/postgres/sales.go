package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

const saleColumns = `id, COALESCE(idempotency_key, ''), customer_name, COALESCE(customer_phone, ''), location_id, actor,
	payment_method, COALESCE(discount_type, ''), discount_value, discount_amount, subtotal_amount, total_amount, status, created_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	err := row.Scan(&sale.ID, &sale.IdempotencyKey, &sale.CustomerName, &sale.CustomerPhone, &sale.LocationID, &sale.Actor,
		&sale.PaymentMethod, &sale.DiscountType, &sale.DiscountValue, &sale.DiscountAmount, &sale.SubtotalAmount,
		&sale.TotalAmount, &sale.Status, &sale.CreatedAt)
	sale.CreatedAt = sale.CreatedAt.UTC()
	return sale, err
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, []domain.Movement, error) {
	if len(sale.Items) == 0 {
		return nil, nil, store.ErrEmptyCart
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.Status = domain.SaleStatusCompleted
	for i := range sale.Items {
		if sale.Items[i].ID == "" {
			sale.Items[i].ID = xid.New("si")
		}
		sale.Items[i].SaleID = sale.ID
		if sale.Items[i].LocationID == "" {
			sale.Items[i].LocationID = sale.LocationID
		}
	}

	var movements []domain.Movement
	replayID := ""
	err := s.withTx(ctx, "create_sale", func(tx *sql.Tx) error {
		movements = nil
		replayID = ""

		if sale.IdempotencyKey != "" {
			var existingID string
			err := tx.QueryRowContext(ctx, `SELECT id FROM sales WHERE idempotency_key = $1`, sale.IdempotencyKey).Scan(&existingID)
			if err == nil {
				replayID = existingID
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		var locationExists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM locations WHERE id = $1)`, sale.LocationID).Scan(&locationExists); err != nil {
			return err
		}
		if !locationExists {
			return store.ErrInvalidLocation
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales (
				id, idempotency_key, customer_name, customer_phone, location_id, actor, payment_method,
				discount_type, discount_value, discount_amount, subtotal_amount, total_amount, status, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, sale.ID, nullIfEmpty(sale.IdempotencyKey), sale.CustomerName, nullIfEmpty(sale.CustomerPhone), sale.LocationID,
			sale.Actor, sale.PaymentMethod, nullIfEmpty(sale.DiscountType), sale.DiscountValue, sale.DiscountAmount,
			sale.SubtotalAmount, sale.TotalAmount, sale.Status, sale.CreatedAt); err != nil {
			return foreignKeyError(err)
		}

		inputs := make([]domain.MovementInput, 0, len(sale.Items))
		for i, item := range sale.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_items (id, sale_id, position, product_id, location_id, quantity, unit, unit_price, line_total)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, item.ID, sale.ID, i, item.ProductID, item.LocationID, item.Quantity, item.Unit, item.UnitPrice, item.LineTotal); err != nil {
				return foreignKeyError(err)
			}
			inputs = append(inputs, domain.MovementInput{
				ProductID:    item.ProductID,
				LocationID:   item.LocationID,
				ChangeType:   domain.ChangeSale,
				ChangeAmount: item.Quantity.Neg(),
				Actor:        sale.Actor,
				Notes:        "sale " + sale.ID,
			})
		}

		applied, err := applyMovementsTx(ctx, tx, inputs, sale.CreatedAt)
		if err != nil {
			return err
		}
		movements = applied
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) && sale.IdempotencyKey != "" {
			existing, findErr := s.FindSaleByIdempotency(ctx, sale.IdempotencyKey)
			if findErr == nil {
				return existing, nil, nil
			}
		}
		return nil, nil, err
	}
	if replayID != "" {
		existing, err := s.FindSaleByID(ctx, replayID)
		return existing, nil, err
	}

	created := sale
	return &created, movements, nil
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, s.db, `id`, id)
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	sale, err := s.findSale(ctx, s.db, `idempotency_key`, key)
	if errors.Is(err, store.ErrSaleNotFound) {
		return nil, store.ErrNotFound
	}
	return sale, err
}

func (s *Store) findSale(ctx context.Context, q querier, column string, value string) (*domain.Sale, error) {
	sale, err := scanSale(q.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSaleNotFound
		}
		return nil, err
	}
	items, err := loadSaleItems(ctx, q, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func loadSaleItems(ctx context.Context, q querier, saleID string) ([]domain.SaleItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sale_id, product_id, location_id, quantity, unit, unit_price, line_total
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY position
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.LocationID, &item.Quantity, &item.Unit, &item.UnitPrice, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit <= 0 {
		limit = 50
	}
	sqlStr, args, err := psql.Select(saleColumns).
		From("sales").
		Where(rangeFilter("created_at", from, to)).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	for i := range sales {
		items, err := loadSaleItems(ctx, s.db, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}
	return sales, nil
}
