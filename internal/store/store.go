package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidTransaction      = errors.New("invalid transaction")
	ErrEmptyCart               = errors.New("cart has no items")
	ErrEmptyReturn             = errors.New("return has no items")
	ErrInvalidLocation         = errors.New("invalid location")
	ErrInvalidProduct          = errors.New("invalid product")
	ErrInvalidSaleItem         = errors.New("sale item does not belong to sale")
	ErrSaleNotFound            = errors.New("sale not found")
	ErrOverReturn              = errors.New("return quantity exceeds sold quantity")
	ErrInvalidStatusTransition = errors.New("invalid return status transition")
	ErrPriceMismatch           = errors.New("price does not match catalog")
	ErrProductInUse            = errors.New("product still has stock")
	ErrConflict                = errors.New("concurrent update conflict, retry")
)

// InsufficientStockError names the (product, location) whose quantity would
// have gone negative.
type InsufficientStockError struct {
	ProductID  string
	LocationID string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s at location %s: available %s, requested %s",
		e.ProductID, e.LocationID, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// OverReturnError names the sale item whose cumulative returned quantity
// would exceed what was sold.
type OverReturnError struct {
	SaleItemID      string
	Sold            decimal.Decimal
	AlreadyReturned decimal.Decimal
	Requested       decimal.Decimal
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("sale item %s: sold %s, already returned %s, requested %s",
		e.SaleItemID, e.Sold, e.AlreadyReturned, e.Requested)
}

func (e *OverReturnError) Unwrap() error { return ErrOverReturn }

// PriceMismatchError is returned under the strict price policy.
type PriceMismatchError struct {
	ProductID string
	Supplied  decimal.Decimal
	Catalog   decimal.Decimal
}

func (e *PriceMismatchError) Error() string {
	return fmt.Sprintf("price for product %s is %s, catalog price is %s", e.ProductID, e.Supplied, e.Catalog)
}

func (e *PriceMismatchError) Unwrap() error { return ErrPriceMismatch }

// ReturnTransition describes a status change together with the stock
// movements that must commit with it.
type ReturnTransition struct {
	ReturnID  string
	To        string
	Actor     string
	Notes     string
	Movements []domain.MovementInput
	At        time.Time
}

type Repository interface {
	CatalogRepository
	Ledger

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, []domain.Movement, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	ListSales(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error)

	GetReturnedQtyBySaleItem(ctx context.Context, saleID string) (map[string]decimal.Decimal, error)
	CreateReturn(ctx context.Context, ret domain.Return, exchangeIssues []domain.MovementInput) (*domain.Return, string, []domain.Movement, error)
	FindReturnByID(ctx context.Context, id string) (*domain.Return, error)
	ListReturnsBySale(ctx context.Context, saleID string) ([]domain.Return, error)
	TransitionReturn(ctx context.Context, tr ReturnTransition) (*domain.Return, string, []domain.Movement, error)

	ListSoldLines(ctx context.Context, rng domain.ReportRange) ([]domain.SoldLine, error)
	GetDailySales(ctx context.Context, rng domain.ReportRange) ([]domain.DailySalesRow, error)
	GetInventoryValuation(ctx context.Context, groupBy string) ([]domain.ValuationRow, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type CatalogRepository interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, includeArchived bool) ([]domain.Product, error)
	ArchiveProduct(ctx context.Context, id string, at time.Time) (*domain.Product, error)
	CreateLocation(ctx context.Context, location domain.Location) (*domain.Location, error)
	GetLocation(ctx context.Context, id string) (*domain.Location, error)
	ListLocations(ctx context.Context) ([]domain.Location, error)
}

// Ledger is the only mutation path for stock quantities.
type Ledger interface {
	GetQuantity(ctx context.Context, productID string, locationID string) (decimal.Decimal, error)
	ApplyMovement(ctx context.Context, in domain.MovementInput) (*domain.Movement, error)
	ListStockRecords(ctx context.Context, locationID string) ([]domain.StockRecord, error)
	ListMovements(ctx context.Context, filter domain.MovementFilter) ([]domain.Movement, error)
}

// ValidateMovement checks the shape of a movement before any stock is read.
func ValidateMovement(in domain.MovementInput) error {
	if in.ProductID == "" || in.LocationID == "" || in.Actor == "" {
		return ErrInvalidTransaction
	}
	if !in.ChangeType.Valid() {
		return ErrInvalidTransaction
	}
	if in.ChangeAmount.IsZero() || !in.ChangeAmount.Equal(in.ChangeAmount.Truncate(domain.QuantityScale)) {
		return ErrInvalidTransaction
	}
	return nil
}
