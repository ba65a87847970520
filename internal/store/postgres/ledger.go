package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

func (s *Store) GetQuantity(ctx context.Context, productID string, locationID string) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT quantity FROM stock_records WHERE product_id = $1 AND location_id = $2
	`, productID, locationID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return qty, nil
}

func (s *Store) ApplyMovement(ctx context.Context, in domain.MovementInput) (*domain.Movement, error) {
	if err := store.ValidateMovement(in); err != nil {
		return nil, err
	}
	var mov domain.Movement
	err := s.withTx(ctx, "apply_movement", func(tx *sql.Tx) error {
		applied, err := applyMovementTx(ctx, tx, in, time.Now().UTC())
		if err != nil {
			return err
		}
		mov = applied
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &mov, nil
}

// applyMovementTx locks the (product, location) row for the rest of tx, then
// checks and writes the new quantity together with its movement row. The
// zero row is created first because only existing rows can be locked; a
// failed movement rolls it back with everything else.
func applyMovementTx(ctx context.Context, tx *sql.Tx, in domain.MovementInput, at time.Time) (domain.Movement, error) {
	if err := store.ValidateMovement(in); err != nil {
		return domain.Movement{}, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_records (product_id, location_id, quantity, updated_at)
		VALUES ($1,$2,0,$3)
		ON CONFLICT (product_id, location_id) DO NOTHING
	`, in.ProductID, in.LocationID, at); err != nil {
		return domain.Movement{}, foreignKeyError(err)
	}

	var previous decimal.Decimal
	if err := tx.QueryRowContext(ctx, `
		SELECT quantity
		FROM stock_records
		WHERE product_id = $1 AND location_id = $2
		FOR UPDATE
	`, in.ProductID, in.LocationID).Scan(&previous); err != nil {
		return domain.Movement{}, err
	}

	next := previous.Add(in.ChangeAmount)
	if next.IsNegative() {
		return domain.Movement{}, &store.InsufficientStockError{
			ProductID:  in.ProductID,
			LocationID: in.LocationID,
			Available:  previous,
			Requested:  in.ChangeAmount.Neg(),
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE stock_records
		SET quantity = $3, updated_at = $4
		WHERE product_id = $1 AND location_id = $2
	`, in.ProductID, in.LocationID, next, at); err != nil {
		return domain.Movement{}, err
	}

	mov := domain.Movement{
		ID:               xid.New("mov"),
		ProductID:        in.ProductID,
		LocationID:       in.LocationID,
		ChangeType:       in.ChangeType,
		ChangeAmount:     in.ChangeAmount,
		PreviousQuantity: previous,
		NewQuantity:      next,
		Actor:            in.Actor,
		Notes:            in.Notes,
		CreatedAt:        at,
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_movements (
			id, product_id, location_id, change_type, change_amount,
			previous_quantity, new_quantity, actor, notes, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, mov.ID, mov.ProductID, mov.LocationID, string(mov.ChangeType), mov.ChangeAmount,
		mov.PreviousQuantity, mov.NewQuantity, mov.Actor, nullIfEmpty(mov.Notes), mov.CreatedAt); err != nil {
		return domain.Movement{}, err
	}
	return mov, nil
}

func applyMovementsTx(ctx context.Context, tx *sql.Tx, ins []domain.MovementInput, at time.Time) ([]domain.Movement, error) {
	movements := make([]domain.Movement, 0, len(ins))
	for _, in := range sortMovements(ins) {
		mov, err := applyMovementTx(ctx, tx, in, at)
		if err != nil {
			return nil, err
		}
		movements = append(movements, mov)
	}
	return movements, nil
}

func (s *Store) ListStockRecords(ctx context.Context, locationID string) ([]domain.StockRecord, error) {
	query := psql.Select("product_id", "location_id", "quantity", "updated_at").
		From("stock_records").
		OrderBy("location_id", "product_id")
	if locationID != "" {
		query = query.Where(sq.Eq{"location_id": locationID})
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

	records := make([]domain.StockRecord, 0, 64)
	for rows.Next() {
		var rec domain.StockRecord
		if err := rows.Scan(&rec.ProductID, &rec.LocationID, &rec.Quantity, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := psql.Select(
		"id", "product_id", "location_id", "change_type", "change_amount",
		"previous_quantity", "new_quantity", "actor", "COALESCE(notes, '')", "created_at",
	).From("inventory_movements").OrderBy("created_at DESC", "id DESC").Limit(uint64(limit))
	if filter.ProductID != "" {
		query = query.Where(sq.Eq{"product_id": filter.ProductID})
	}
	if filter.LocationID != "" {
		query = query.Where(sq.Eq{"location_id": filter.LocationID})
	}
	if filter.ChangeType != "" {
		query = query.Where(sq.Eq{"change_type": string(filter.ChangeType)})
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

	movements := make([]domain.Movement, 0, limit)
	for rows.Next() {
		var m domain.Movement
		var changeType string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.LocationID, &changeType, &m.ChangeAmount,
			&m.PreviousQuantity, &m.NewQuantity, &m.Actor, &m.Notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.ChangeType = domain.ChangeType(changeType)
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	return movements, rows.Err()
}
