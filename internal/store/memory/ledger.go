package memory

import (
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// ledgerTx stages stock changes so a multi-line operation either commits all
// of its movements or none. Callers must hold s.mu for writing.
type ledgerTx struct {
	s         *Store
	at        time.Time
	pending   map[stockKey]domain.StockRecord
	movements []domain.Movement
}

func (s *Store) begin() *ledgerTx {
	return &ledgerTx{
		s:       s,
		at:      time.Now().UTC(),
		pending: make(map[stockKey]domain.StockRecord),
	}
}

func (tx *ledgerTx) quantity(key stockKey) decimal.Decimal {
	if rec, ok := tx.pending[key]; ok {
		return rec.Quantity
	}
	if rec, ok := tx.s.stock[key]; ok {
		return rec.Quantity
	}
	return decimal.Zero
}

func (tx *ledgerTx) apply(in domain.MovementInput) (domain.Movement, error) {
	if err := store.ValidateMovement(in); err != nil {
		return domain.Movement{}, err
	}
	if _, ok := tx.s.products[in.ProductID]; !ok {
		return domain.Movement{}, store.ErrInvalidProduct
	}
	if _, ok := tx.s.locations[in.LocationID]; !ok {
		return domain.Movement{}, store.ErrInvalidLocation
	}

	key := stockKey{productID: in.ProductID, locationID: in.LocationID}
	previous := tx.quantity(key)
	next := previous.Add(in.ChangeAmount)
	if next.IsNegative() {
		return domain.Movement{}, &store.InsufficientStockError{
			ProductID:  in.ProductID,
			LocationID: in.LocationID,
			Available:  previous,
			Requested:  in.ChangeAmount.Neg(),
		}
	}

	tx.pending[key] = domain.StockRecord{
		ProductID:  in.ProductID,
		LocationID: in.LocationID,
		Quantity:   next,
		UpdatedAt:  tx.at,
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
		CreatedAt:        tx.at,
	}
	tx.movements = append(tx.movements, mov)
	return mov, nil
}

func (tx *ledgerTx) commit() {
	for key, rec := range tx.pending {
		tx.s.stock[key] = rec
	}
	tx.s.movements = append(tx.s.movements, tx.movements...)
}
