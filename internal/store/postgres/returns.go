package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

const returnColumns = `id, sale_id, processed_by, return_date, return_type, reason, status, total_refund_amount,
	additional_payment, COALESCE(refund_method, ''), notes, updated_at`

func scanReturn(row rowScanner) (domain.Return, error) {
	var ret domain.Return
	err := row.Scan(&ret.ID, &ret.SaleID, &ret.ProcessedBy, &ret.ReturnDate, &ret.ReturnType, &ret.Reason, &ret.Status,
		&ret.TotalRefundAmount, &ret.AdditionalPayment, &ret.RefundMethod, &ret.Notes, &ret.UpdatedAt)
	ret.ReturnDate = ret.ReturnDate.UTC()
	ret.UpdatedAt = ret.UpdatedAt.UTC()
	return ret, err
}

func (s *Store) GetReturnedQtyBySaleItem(ctx context.Context, saleID string) (map[string]decimal.Decimal, error) {
	return returnedQty(ctx, s.db, saleID)
}

func returnedQty(ctx context.Context, q querier, saleID string) (map[string]decimal.Decimal, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT ri.sale_item_id, COALESCE(SUM(ri.quantity), 0)
		FROM returns r
		JOIN return_items ri ON ri.return_id = r.id
		WHERE r.sale_id = $1 AND r.status <> $2
		GROUP BY ri.sale_item_id
	`, saleID, domain.ReturnStatusRejected)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]decimal.Decimal)
	for rows.Next() {
		var saleItemID string
		var qty decimal.Decimal
		if err := rows.Scan(&saleItemID, &qty); err != nil {
			return nil, err
		}
		result[saleItemID] = qty
	}
	return result, rows.Err()
}

// lockSale takes the sale row lock that serializes every return against it.
func lockSale(ctx context.Context, tx *sql.Tx, saleID string) error {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM sales WHERE id = $1 FOR UPDATE`, saleID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrSaleNotFound
	}
	return err
}

func (s *Store) CreateReturn(ctx context.Context, ret domain.Return, exchangeIssues []domain.MovementInput) (*domain.Return, string, []domain.Movement, error) {
	if len(ret.Items) == 0 {
		return nil, "", nil, store.ErrEmptyReturn
	}
	if ret.ID == "" {
		ret.ID = xid.New("ret")
	}
	if ret.ReturnDate.IsZero() {
		ret.ReturnDate = time.Now().UTC()
	}
	if ret.Status == "" {
		ret.Status = domain.ReturnStatusPending
	}
	ret.UpdatedAt = ret.ReturnDate
	for i := range ret.Items {
		if ret.Items[i].ID == "" {
			ret.Items[i].ID = xid.New("ri")
		}
		ret.Items[i].ReturnID = ret.ID
	}

	var movements []domain.Movement
	saleStatus := ""
	err := s.withTx(ctx, "create_return", func(tx *sql.Tx) error {
		movements = nil

		if err := lockSale(ctx, tx, ret.SaleID); err != nil {
			return err
		}
		saleItems, err := loadSaleItems(ctx, tx, ret.SaleID)
		if err != nil {
			return err
		}
		soldByItem := make(map[string]decimal.Decimal, len(saleItems))
		for _, item := range saleItems {
			soldByItem[item.ID] = item.Quantity
		}
		returned, err := returnedQty(ctx, tx, ret.SaleID)
		if err != nil {
			return err
		}

		requested := make(map[string]decimal.Decimal, len(ret.Items))
		for _, item := range ret.Items {
			sold, ok := soldByItem[item.SaleItemID]
			if !ok {
				return store.ErrInvalidSaleItem
			}
			requested[item.SaleItemID] = requested[item.SaleItemID].Add(item.Quantity)
			if returned[item.SaleItemID].Add(requested[item.SaleItemID]).GreaterThan(sold) {
				return &store.OverReturnError{
					SaleItemID:      item.SaleItemID,
					Sold:            sold,
					AlreadyReturned: returned[item.SaleItemID],
					Requested:       requested[item.SaleItemID],
				}
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO returns (
				id, sale_id, processed_by, return_date, return_type, reason, status,
				total_refund_amount, additional_payment, refund_method, notes, updated_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`, ret.ID, ret.SaleID, ret.ProcessedBy, ret.ReturnDate, ret.ReturnType, ret.Reason, ret.Status,
			ret.TotalRefundAmount, ret.AdditionalPayment, nullIfEmpty(ret.RefundMethod), ret.Notes, ret.UpdatedAt); err != nil {
			return err
		}

		inputs := make([]domain.MovementInput, 0, len(ret.Items)+len(exchangeIssues))
		for i, item := range ret.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO return_items (
					id, return_id, position, sale_item_id, product_id, location_id, quantity,
					return_reason, condition, refund_amount, exchange_product_id, exchange_unit_price
				)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			`, item.ID, ret.ID, i, item.SaleItemID, item.ProductID, item.LocationID, item.Quantity,
				item.ReturnReason, item.Condition, item.RefundAmount, nullIfEmpty(item.ExchangeProductID), item.ExchangeUnitPrice); err != nil {
				return foreignKeyError(err)
			}
			inputs = append(inputs, domain.MovementInput{
				ProductID:    item.ProductID,
				LocationID:   item.LocationID,
				ChangeType:   domain.ChangeReturn,
				ChangeAmount: item.Quantity,
				Actor:        ret.ProcessedBy,
				Notes:        "return " + ret.ID,
			})
		}
		inputs = append(inputs, exchangeIssues...)

		applied, err := applyMovementsTx(ctx, tx, inputs, ret.ReturnDate)
		if err != nil {
			return err
		}
		status, err := refreshSaleStatus(ctx, tx, ret.SaleID)
		if err != nil {
			return err
		}
		movements = applied
		saleStatus = status
		return nil
	})
	if err != nil {
		return nil, "", nil, err
	}

	created := ret
	return &created, saleStatus, movements, nil
}

func (s *Store) FindReturnByID(ctx context.Context, id string) (*domain.Return, error) {
	return findReturn(ctx, s.db, id)
}

func findReturn(ctx context.Context, q querier, id string) (*domain.Return, error) {
	ret, err := scanReturn(q.QueryRowContext(ctx, `SELECT `+returnColumns+` FROM returns WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := loadReturnItems(ctx, q, ret.ID)
	if err != nil {
		return nil, err
	}
	ret.Items = items
	return &ret, nil
}

func loadReturnItems(ctx context.Context, q querier, returnID string) ([]domain.ReturnItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, return_id, sale_item_id, product_id, location_id, quantity, return_reason,
			condition, refund_amount, COALESCE(exchange_product_id, ''), exchange_unit_price
		FROM return_items
		WHERE return_id = $1
		ORDER BY position
	`, returnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.ReturnItem, 0, 4)
	for rows.Next() {
		var item domain.ReturnItem
		if err := rows.Scan(&item.ID, &item.ReturnID, &item.SaleItemID, &item.ProductID, &item.LocationID, &item.Quantity,
			&item.ReturnReason, &item.Condition, &item.RefundAmount, &item.ExchangeProductID, &item.ExchangeUnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) ListReturnsBySale(ctx context.Context, saleID string) ([]domain.Return, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM sales WHERE id = $1)`, saleID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrSaleNotFound
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM returns WHERE sale_id = $1 ORDER BY return_date, id`, saleID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, 4)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	result := make([]domain.Return, 0, len(ids))
	for _, id := range ids {
		ret, err := findReturn(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		result = append(result, *ret)
	}
	return result, nil
}

func (s *Store) TransitionReturn(ctx context.Context, tr store.ReturnTransition) (*domain.Return, string, []domain.Movement, error) {
	at := tr.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var updated *domain.Return
	var movements []domain.Movement
	saleStatus := ""
	err := s.withTx(ctx, "transition_return", func(tx *sql.Tx) error {
		movements = nil

		var saleID string
		err := tx.QueryRowContext(ctx, `SELECT sale_id FROM returns WHERE id = $1`, tr.ReturnID).Scan(&saleID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if err := lockSale(ctx, tx, saleID); err != nil {
			return err
		}

		var current string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM returns WHERE id = $1 FOR UPDATE`, tr.ReturnID).Scan(&current); err != nil {
			return err
		}
		if !domain.CanTransitionReturn(current, tr.To) {
			return store.ErrInvalidStatusTransition
		}

		applied, err := applyMovementsTx(ctx, tx, tr.Movements, at)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE returns
			SET status = $2,
				updated_at = $3,
				notes = CASE WHEN $4 = '' THEN notes ELSE trim(both E'\n' from notes || E'\n' || $4) END
			WHERE id = $1
		`, tr.ReturnID, tr.To, at, strings.TrimSpace(tr.Notes)); err != nil {
			return err
		}

		status, err := refreshSaleStatus(ctx, tx, saleID)
		if err != nil {
			return err
		}
		ret, err := findReturn(ctx, tx, tr.ReturnID)
		if err != nil {
			return err
		}
		updated = ret
		movements = applied
		saleStatus = status
		return nil
	})
	if err != nil {
		return nil, "", nil, err
	}
	return updated, saleStatus, movements, nil
}

// refreshSaleStatus recomputes the derived sale status from non-rejected
// returns and persists it.
func refreshSaleStatus(ctx context.Context, tx *sql.Tx, saleID string) (string, error) {
	var sold, returned decimal.Decimal
	if err := tx.QueryRowContext(ctx, `
		SELECT
			COALESCE((SELECT SUM(quantity) FROM sale_items WHERE sale_id = $1), 0),
			COALESCE((
				SELECT SUM(ri.quantity)
				FROM returns r
				JOIN return_items ri ON ri.return_id = r.id
				WHERE r.sale_id = $1 AND r.status <> $2
			), 0)
	`, saleID, domain.ReturnStatusRejected).Scan(&sold, &returned); err != nil {
		return "", err
	}

	status := domain.DeriveSaleStatus(sold, returned)
	if _, err := tx.ExecContext(ctx, `UPDATE sales SET status = $2 WHERE id = $1`, saleID, status); err != nil {
		return "", err
	}
	return status, nil
}
