package service

import (
	"context"
	"fmt"
	"strings"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, includeArchived)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Name == "" || req.Category == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if !req.Price.IsPositive() || !domain.ValidMoney(req.Price) || !domain.ValidMoney(req.Cost) || req.LowStockThreshold.IsNegative() {
		return domain.Product{}, store.ErrInvalidTransaction
	}
	if req.ID == "" {
		req.ID = xid.New("prd")
	}
	if req.Unit == "" {
		req.Unit = "pcs"
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:                req.ID,
		Name:              req.Name,
		ProductType:       strings.TrimSpace(req.ProductType),
		Unit:              req.Unit,
		Category:          req.Category,
		Price:             req.Price,
		Cost:              req.Cost,
		LowStockThreshold: req.LowStockThreshold,
		Attributes:        req.Attributes,
		Active:            true,
		CreatedAt:         s.now(),
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, "product_create", "product", created.ID, fmt.Sprintf("name=%s,price=%s", created.Name, created.Price))
	return *created, nil
}

// ArchiveProduct hides a product from the catalog. Products that still hold
// stock anywhere cannot be archived; sale history is kept either way.
func (s *Service) ArchiveProduct(ctx context.Context, id string) (domain.Product, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Product{}, store.ErrInvalidTransaction
	}

	archived, err := s.repo.ArchiveProduct(ctx, id, s.now())
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "product_archive", "product", archived.ID, "")
	return *archived, nil
}

func (s *Service) ListLocations(ctx context.Context) ([]domain.Location, error) {
	return s.repo.ListLocations(ctx)
}

func (s *Service) CreateLocation(ctx context.Context, req domain.LocationCreateRequest) (domain.Location, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Location{}, err
	}
	req.ID = strings.TrimSpace(req.ID)
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Location{}, store.ErrInvalidTransaction
	}
	if req.ID == "" {
		req.ID = xid.New("loc")
	}

	created, err := s.repo.CreateLocation(ctx, domain.Location{
		ID:        req.ID,
		Name:      req.Name,
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: s.now(),
	})
	if err != nil {
		return domain.Location{}, err
	}
	s.logAudit(ctx, "location_create", "location", created.ID, created.Name)
	return *created, nil
}
