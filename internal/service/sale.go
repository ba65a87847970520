package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

// CreateSale validates a cart, prices it and commits the sale together with
// one stock decrement per line. Any failing line aborts the whole sale.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	defer observe("create_sale", time.Now())

	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if req.IdempotencyKey != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey)
		if err == nil {
			metrics.SalesReplayedTotal.Inc()
			return domain.SaleResponse{Sale: *existing, Replayed: true}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return domain.SaleResponse{}, err
		}
	}

	if len(req.Items) == 0 {
		return domain.SaleResponse{}, store.ErrEmptyCart
	}
	req.LocationID = strings.TrimSpace(req.LocationID)
	if req.LocationID == "" {
		return domain.SaleResponse{}, store.ErrInvalidLocation
	}
	if _, err := s.repo.GetLocation(ctx, req.LocationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SaleResponse{}, store.ErrInvalidLocation
		}
		return domain.SaleResponse{}, err
	}

	req.DiscountType = strings.ToLower(strings.TrimSpace(req.DiscountType))
	if req.DiscountType != "" && req.DiscountType != domain.DiscountAmount && req.DiscountType != domain.DiscountPercentage {
		return domain.SaleResponse{}, store.ErrInvalidTransaction
	}
	if !domain.ValidMoney(req.DiscountValue) {
		return domain.SaleResponse{}, store.ErrInvalidTransaction
	}
	if req.DiscountType == "" {
		req.DiscountValue = decimal.Zero
	}

	items, err := s.priceLines(ctx, req.LocationID, req.Items)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	lineTotals := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		lineTotals = append(lineTotals, item.LineTotal)
	}
	subtotal, discount, total := domain.ComputeTotals(lineTotals, req.DiscountType, req.DiscountValue)

	customerName := strings.TrimSpace(req.CustomerName)
	if customerName == "" {
		customerName = domain.WalkInCustomer
	}
	paymentMethod := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if paymentMethod == "" {
		paymentMethod = "cash"
	}

	sale := domain.Sale{
		ID:             xid.New("sale"),
		IdempotencyKey: req.IdempotencyKey,
		CustomerName:   customerName,
		CustomerPhone:  strings.TrimSpace(req.CustomerPhone),
		LocationID:     req.LocationID,
		Actor:          actor.Username,
		PaymentMethod:  paymentMethod,
		DiscountType:   req.DiscountType,
		DiscountValue:  req.DiscountValue,
		DiscountAmount: discount,
		SubtotalAmount: subtotal,
		TotalAmount:    total,
		Status:         domain.SaleStatusCompleted,
		Items:          items,
		CreatedAt:      s.now(),
	}

	created, movements, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockTotal.Inc()
		}
		s.logger.Info("sale rejected", zap.String("location_id", sale.LocationID), zap.Error(err))
		return domain.SaleResponse{}, err
	}
	if len(movements) == 0 {
		// lost an idempotency race; the stored sale wins
		metrics.SalesReplayedTotal.Inc()
		return domain.SaleResponse{Sale: *created, Replayed: true}, nil
	}

	metrics.SalesCreatedTotal.Inc()
	s.afterCommit(ctx, movements)
	s.logAudit(ctx, "sale_create", "sale", created.ID,
		fmt.Sprintf("lines=%d,subtotal=%s,discount=%s,total=%s", len(created.Items), created.SubtotalAmount, created.DiscountAmount, created.TotalAmount))

	return domain.SaleResponse{Sale: *created, Movements: movements}, nil
}

// priceLines resolves each cart line to a sale item with its unit price
// snapshot.
func (s *Service) priceLines(ctx context.Context, locationID string, lines []domain.SaleLineRequest) ([]domain.SaleItem, error) {
	ids := make([]string, 0, len(lines))
	for i := range lines {
		lines[i].ProductID = strings.TrimSpace(lines[i].ProductID)
		if lines[i].ProductID == "" || !domain.ValidQuantity(lines[i].Quantity) {
			return nil, store.ErrInvalidTransaction
		}
		ids = append(ids, lines[i].ProductID)
	}
	products, err := s.repo.GetProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]domain.SaleItem, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || !product.Active {
			return nil, store.ErrInvalidProduct
		}

		unitPrice := product.Price
		if line.Price != nil {
			if !domain.ValidMoney(*line.Price) {
				return nil, store.ErrInvalidTransaction
			}
			if s.opts.PricePolicy == PricePolicyStrict && !line.Price.Equal(product.Price) {
				return nil, &store.PriceMismatchError{ProductID: product.ID, Supplied: *line.Price, Catalog: product.Price}
			}
			unitPrice = *line.Price
		}

		items = append(items, domain.SaleItem{
			ID:         xid.New("si"),
			ProductID:  product.ID,
			LocationID: locationID,
			Quantity:   line.Quantity,
			Unit:       product.Unit,
			UnitPrice:  unitPrice,
			LineTotal:  line.Quantity.Mul(unitPrice).Round(2),
		})
	}
	return items, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Sale{}, store.ErrSaleNotFound
	}
	sale, err := s.repo.FindSaleByID(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	if limit < 1 || limit > 200 {
		limit = 50
	}
	return s.repo.ListSales(ctx, from, to, limit)
}
