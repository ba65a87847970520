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
	"retailpos/backend/internal/xid"
)

// CreateReturn validates a return against its sale and commits it together
// with the stock it restores and, for exchanges, the stock it issues.
func (s *Service) CreateReturn(ctx context.Context, req domain.ReturnRequest) (domain.ReturnResponse, error) {
	defer observe("create_return", time.Now())

	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	req.ReturnType = strings.ToUpper(strings.TrimSpace(req.ReturnType))
	req.RefundMethod = strings.ToUpper(strings.TrimSpace(req.RefundMethod))
	switch req.ReturnType {
	case domain.ReturnTypeRefund:
		if !domain.ValidRefundMethod(req.RefundMethod) {
			return domain.ReturnResponse{}, store.ErrInvalidTransaction
		}
	case domain.ReturnTypeExchange:
		if req.RefundMethod != "" {
			return domain.ReturnResponse{}, store.ErrInvalidTransaction
		}
	default:
		return domain.ReturnResponse{}, store.ErrInvalidTransaction
	}
	if req.AutoComplete && actor.Role != domain.RoleAdmin {
		return domain.ReturnResponse{}, ErrForbidden
	}

	sale, err := s.repo.FindSaleByID(ctx, strings.TrimSpace(req.SaleID))
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	lines := make([]domain.ReturnLineRequest, 0, len(req.Items))
	for _, line := range req.Items {
		if line.Quantity.IsNegative() {
			return domain.ReturnResponse{}, store.ErrInvalidTransaction
		}
		if line.Quantity.IsZero() {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return domain.ReturnResponse{}, store.ErrEmptyReturn
	}

	saleItems := make(map[string]domain.SaleItem, len(sale.Items))
	for _, item := range sale.Items {
		saleItems[item.ID] = item
	}
	alreadyReturned, err := s.repo.GetReturnedQtyBySaleItem(ctx, sale.ID)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	ret := domain.Return{
		ID:          xid.New("ret"),
		SaleID:      sale.ID,
		ProcessedBy: actor.Username,
		ReturnDate:  s.now(),
		ReturnType:  req.ReturnType,
		Reason:      strings.TrimSpace(req.Reason),
		Status:      domain.ReturnStatusPending,
		Notes:       strings.TrimSpace(req.Notes),
		Items:       make([]domain.ReturnItem, 0, len(lines)),
	}
	if req.ReturnType == domain.ReturnTypeRefund {
		ret.RefundMethod = req.RefundMethod
	}
	if req.AutoComplete {
		ret.Status = domain.ReturnStatusCompleted
	}

	exchangeIDs := make([]string, 0, len(lines))
	for _, line := range lines {
		if id := strings.TrimSpace(line.ExchangeProductID); id != "" {
			exchangeIDs = append(exchangeIDs, id)
		}
	}
	exchangeProducts, err := s.repo.GetProducts(ctx, exchangeIDs)
	if err != nil {
		return domain.ReturnResponse{}, err
	}

	requested := make(map[string]decimal.Decimal, len(lines))
	exchangeValue := decimal.Zero
	exchangeIssues := make([]domain.MovementInput, 0, len(lines))
	for _, line := range lines {
		saleItem, ok := saleItems[strings.TrimSpace(line.SaleItemID)]
		if !ok {
			return domain.ReturnResponse{}, store.ErrInvalidSaleItem
		}
		if !domain.ValidQuantity(line.Quantity) {
			return domain.ReturnResponse{}, store.ErrInvalidTransaction
		}
		condition := strings.ToUpper(strings.TrimSpace(line.Condition))
		if !domain.ValidCondition(condition) {
			return domain.ReturnResponse{}, store.ErrInvalidTransaction
		}

		requested[saleItem.ID] = requested[saleItem.ID].Add(line.Quantity)
		if alreadyReturned[saleItem.ID].Add(requested[saleItem.ID]).GreaterThan(saleItem.Quantity) {
			return domain.ReturnResponse{}, &store.OverReturnError{
				SaleItemID:      saleItem.ID,
				Sold:            saleItem.Quantity,
				AlreadyReturned: alreadyReturned[saleItem.ID],
				Requested:       requested[saleItem.ID],
			}
		}

		locationID := strings.TrimSpace(line.LocationID)
		if locationID == "" {
			locationID = saleItem.LocationID
		}
		if locationID != saleItem.LocationID {
			if _, err := s.repo.GetLocation(ctx, locationID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return domain.ReturnResponse{}, store.ErrInvalidLocation
				}
				return domain.ReturnResponse{}, err
			}
		}

		// The default refund is the unit price paid times quantity. A sale-level
		// discount is not prorated into it; pass RefundAmount to override.
		refund := saleItem.UnitPrice.Mul(line.Quantity).Round(2)
		if line.RefundAmount != nil {
			if !domain.ValidMoney(*line.RefundAmount) {
				return domain.ReturnResponse{}, store.ErrInvalidTransaction
			}
			refund = *line.RefundAmount
		}

		item := domain.ReturnItem{
			ID:           xid.New("ri"),
			ReturnID:     ret.ID,
			SaleItemID:   saleItem.ID,
			ProductID:    saleItem.ProductID,
			LocationID:   locationID,
			Quantity:     line.Quantity,
			ReturnReason: strings.TrimSpace(line.ReturnReason),
			Condition:    condition,
			RefundAmount: refund,
		}

		exchangeID := strings.TrimSpace(line.ExchangeProductID)
		switch {
		case req.ReturnType == domain.ReturnTypeExchange && exchangeID == "":
			return domain.ReturnResponse{}, store.ErrInvalidTransaction
		case req.ReturnType == domain.ReturnTypeRefund && exchangeID != "":
			return domain.ReturnResponse{}, store.ErrInvalidTransaction
		case exchangeID != "":
			product, ok := exchangeProducts[exchangeID]
			if !ok || !product.Active {
				return domain.ReturnResponse{}, store.ErrInvalidProduct
			}
			item.ExchangeProductID = product.ID
			item.ExchangeUnitPrice = product.Price
			exchangeValue = exchangeValue.Add(product.Price.Mul(line.Quantity).Round(2))
			exchangeIssues = append(exchangeIssues, domain.MovementInput{
				ProductID:    product.ID,
				LocationID:   locationID,
				ChangeType:   domain.ChangeSale,
				ChangeAmount: line.Quantity.Neg(),
				Actor:        actor.Username,
				Notes:        "exchange for return " + ret.ID,
			})
		}

		ret.TotalRefundAmount = ret.TotalRefundAmount.Add(refund)
		ret.Items = append(ret.Items, item)
	}
	ret.AdditionalPayment = decimal.Max(decimal.Zero, exchangeValue.Sub(ret.TotalRefundAmount))
	ret.UpdatedAt = ret.ReturnDate

	created, saleStatus, movements, err := s.repo.CreateReturn(ctx, ret, exchangeIssues)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockTotal.Inc()
		}
		return domain.ReturnResponse{}, err
	}

	metrics.ReturnsCreatedTotal.WithLabelValues(created.ReturnType).Inc()
	s.afterCommit(ctx, movements)
	s.logAudit(ctx, "return_create", "return", created.ID,
		fmt.Sprintf("sale=%s,type=%s,status=%s,refund=%s", created.SaleID, created.ReturnType, created.Status, created.TotalRefundAmount))

	return domain.ReturnResponse{Return: *created, SaleStatus: saleStatus, Movements: movements}, nil
}

func (s *Service) ApproveReturn(ctx context.Context, id string, notes string) (domain.ReturnResponse, error) {
	return s.transitionReturn(ctx, id, domain.ReturnStatusApproved, notes)
}

func (s *Service) CompleteReturn(ctx context.Context, id string, notes string) (domain.ReturnResponse, error) {
	return s.transitionReturn(ctx, id, domain.ReturnStatusCompleted, notes)
}

// RejectReturn rejects a pending return and reverses the stock it moved at
// creation. The reversal fails with an insufficient stock error, leaving the
// return pending, when the restored units are no longer on hand.
func (s *Service) RejectReturn(ctx context.Context, id string, notes string) (domain.ReturnResponse, error) {
	return s.transitionReturn(ctx, id, domain.ReturnStatusRejected, notes)
}

func (s *Service) transitionReturn(ctx context.Context, id string, to string, notes string) (domain.ReturnResponse, error) {
	defer observe("transition_return", time.Now())

	actor, err := requireAdmin(ctx)
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	current, err := s.repo.FindReturnByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ReturnResponse{}, err
	}
	if !domain.CanTransitionReturn(current.Status, to) {
		return domain.ReturnResponse{}, store.ErrInvalidStatusTransition
	}

	tr := store.ReturnTransition{
		ReturnID: current.ID,
		To:       to,
		Actor:    actor.Username,
		Notes:    strings.TrimSpace(notes),
		At:       s.now(),
	}
	if to == domain.ReturnStatusRejected {
		tr.Movements = reversalMovements(*current, actor.Username)
	}

	updated, saleStatus, movements, err := s.repo.TransitionReturn(ctx, tr)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockTotal.Inc()
		}
		return domain.ReturnResponse{}, err
	}

	metrics.ReturnTransitionsTotal.WithLabelValues(to).Inc()
	s.afterCommit(ctx, movements)
	s.logAudit(ctx, "return_"+strings.ToLower(to), "return", updated.ID, fmt.Sprintf("from=%s,to=%s", current.Status, to))

	return domain.ReturnResponse{Return: *updated, SaleStatus: saleStatus, Movements: movements}, nil
}

func reversalMovements(ret domain.Return, actor string) []domain.MovementInput {
	note := "reversal of rejected return " + ret.ID
	out := make([]domain.MovementInput, 0, len(ret.Items)*2)
	for _, item := range ret.Items {
		out = append(out, domain.MovementInput{
			ProductID:    item.ProductID,
			LocationID:   item.LocationID,
			ChangeType:   domain.ChangeReturn,
			ChangeAmount: item.Quantity.Neg(),
			Actor:        actor,
			Notes:        note,
		})
		if item.ExchangeProductID != "" {
			out = append(out, domain.MovementInput{
				ProductID:    item.ExchangeProductID,
				LocationID:   item.LocationID,
				ChangeType:   domain.ChangeReturn,
				ChangeAmount: item.Quantity,
				Actor:        actor,
				Notes:        note,
			})
		}
	}
	return out
}

func (s *Service) GetReturn(ctx context.Context, id string) (domain.Return, error) {
	ret, err := s.repo.FindReturnByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Return{}, err
	}
	return *ret, nil
}

func (s *Service) ListReturnsBySale(ctx context.Context, saleID string) ([]domain.Return, error) {
	return s.repo.ListReturnsBySale(ctx, strings.TrimSpace(saleID))
}
