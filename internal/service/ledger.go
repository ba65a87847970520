package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/store"
)

func (s *Service) GetQuantity(ctx context.Context, productID string, locationID string) (decimal.Decimal, error) {
	productID = strings.TrimSpace(productID)
	locationID = strings.TrimSpace(locationID)
	if productID == "" || locationID == "" {
		return decimal.Zero, store.ErrInvalidTransaction
	}
	return s.repo.GetQuantity(ctx, productID, locationID)
}

// ApplyMovement records a manual stock change. Sale and return movements
// only come from their own transactions and are refused here.
func (s *Service) ApplyMovement(ctx context.Context, in domain.MovementInput) (domain.Movement, error) {
	defer observe("apply_movement", time.Now())

	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.Movement{}, err
	}
	if !in.ChangeType.External() {
		return domain.Movement{}, store.ErrInvalidTransaction
	}
	in.ProductID = strings.TrimSpace(in.ProductID)
	in.LocationID = strings.TrimSpace(in.LocationID)
	in.Notes = strings.TrimSpace(in.Notes)
	in.Actor = actor.Username

	mov, err := s.repo.ApplyMovement(ctx, in)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockTotal.Inc()
		}
		return domain.Movement{}, err
	}

	s.afterCommit(ctx, []domain.Movement{*mov})
	s.logAudit(ctx, "stock_"+string(mov.ChangeType), "stock", mov.ProductID+"@"+mov.LocationID,
		fmt.Sprintf("change=%s,previous=%s,new=%s", mov.ChangeAmount, mov.PreviousQuantity, mov.NewQuantity))
	return *mov, nil
}

func (s *Service) ListStockRecords(ctx context.Context, locationID string) ([]domain.StockRecord, error) {
	return s.repo.ListStockRecords(ctx, strings.TrimSpace(locationID))
}

func (s *Service) ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.Movement, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if filter.ChangeType != "" && !filter.ChangeType.Valid() {
		return nil, store.ErrInvalidTransaction
	}
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListMovements(ctx, filter)
}
