package memory

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type stockKey struct {
	productID  string
	locationID string
}

// Store keeps everything behind a single lock, which serializes every ledger
// read-check-write in the process. It is meant for development and tests.
type Store struct {
	mu              sync.RWMutex
	products        map[string]domain.Product
	locations       map[string]domain.Location
	stock           map[stockKey]domain.StockRecord
	movements       []domain.Movement
	salesByID       map[string]*domain.Sale
	saleIDByIdem    map[string]string
	saleOrder       []string
	returnsByID     map[string]*domain.Return
	returnsBySale   map[string][]string
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		products:        make(map[string]domain.Product),
		locations:       make(map[string]domain.Location),
		stock:           make(map[stockKey]domain.StockRecord),
		salesByID:       make(map[string]*domain.Sale),
		saleIDByIdem:    make(map[string]string),
		returnsByID:     make(map[string]*domain.Return),
		returnsBySale:   make(map[string][]string),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with a demo catalog, two locations, opening stock
// and the dev admin/cashier accounts. Seed passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	now := time.Now().UTC()

	for _, loc := range []domain.Location{
		{ID: "loc-main", Name: "Main Store", Address: "Jl. Merdeka 1"},
		{ID: "loc-warehouse", Name: "Warehouse", Address: "Jl. Industri 9"},
	} {
		loc.CreatedAt = now
		s.locations[loc.ID] = loc
	}

	products := []domain.Product{
		{ID: "prd-rice-5kg", Name: "Rice 5kg", ProductType: "grocery", Unit: "bag", Category: "grocery", Price: dec("78000"), Cost: dec("65000"), LowStockThreshold: dec("10")},
		{ID: "prd-sugar-1kg", Name: "Sugar 1kg", ProductType: "grocery", Unit: "pack", Category: "grocery", Price: dec("17400"), Cost: dec("15300"), LowStockThreshold: dec("12")},
		{ID: "prd-coffee-200g", Name: "Ground Coffee 200g", ProductType: "beverage", Unit: "pack", Category: "beverage", Price: dec("32500"), Cost: dec("21000")},
		{ID: "prd-milk-1l", Name: "UHT Milk 1L", ProductType: "dairy", Unit: "carton", Category: "dairy", Price: dec("18900"), Cost: dec("13600"), LowStockThreshold: dec("8")},
		{ID: "prd-cable-nym", Name: "NYM Cable", ProductType: "hardware", Unit: "meter", Category: "hardware", Price: dec("9500.50"), Cost: dec("7100"), Attributes: map[string]string{"gauge": "2x1.5mm"}},
		{ID: "prd-soap-bar", Name: "Bath Soap", ProductType: "household", Unit: "pcs", Category: "household", Price: dec("7400"), Cost: dec("5000")},
	}
	opening := map[string]string{
		"prd-rice-5kg":    "40",
		"prd-sugar-1kg":   "60",
		"prd-coffee-200g": "25",
		"prd-milk-1l":     "30",
		"prd-cable-nym":   "150.5",
		"prd-soap-bar":    "80",
	}
	for _, p := range products {
		p.Active = true
		p.CreatedAt = now
		s.products[p.ID] = p
		qty := dec(opening[p.ID])
		key := stockKey{productID: p.ID, locationID: "loc-main"}
		s.stock[key] = domain.StockRecord{ProductID: p.ID, LocationID: "loc-main", Quantity: qty, UpdatedAt: now}
		s.movements = append(s.movements, domain.Movement{
			ID:               xid.New("mov"),
			ProductID:        p.ID,
			LocationID:       "loc-main",
			ChangeType:       domain.ChangeInitial,
			ChangeAmount:     qty,
			PreviousQuantity: decimal.Zero,
			NewQuantity:      qty,
			Actor:            "system",
			Notes:            "seed",
			CreatedAt:        now,
		})
	}

	s.usersByUsername = seedUsers(logger)
	return s
}

func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.MinCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	return decimal.RequireFromString(s)
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" || product.Price.IsNegative() || product.Cost.IsNegative() {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true
	s.products[product.ID] = cloneProduct(product)
	created := cloneProduct(product)
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	dup := cloneProduct(p)
	return &dup, nil
}

func (s *Store) GetProducts(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = cloneProduct(p)
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context, includeArchived bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !includeArchived && !p.Active {
			continue
		}
		result = append(result, cloneProduct(p))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Category != result[j].Category {
			return result[i].Category < result[j].Category
		}
		return result[i].Name < result[j].Name
	})
	return result, nil
}

func (s *Store) ArchiveProduct(_ context.Context, id string, at time.Time) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	for key, rec := range s.stock {
		if key.productID == id && !rec.Quantity.IsZero() {
			return nil, store.ErrProductInUse
		}
	}
	if p.ArchivedAt == nil {
		archivedAt := at.UTC()
		p.ArchivedAt = &archivedAt
	}
	p.Active = false
	s.products[id] = p
	dup := cloneProduct(p)
	return &dup, nil
}

func (s *Store) CreateLocation(_ context.Context, location domain.Location) (*domain.Location, error) {
	if location.ID == "" || location.Name == "" {
		return nil, store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.locations[location.ID]; exists {
		return nil, store.ErrInvalidTransaction
	}
	if location.CreatedAt.IsZero() {
		location.CreatedAt = time.Now().UTC()
	}
	s.locations[location.ID] = location
	created := location
	return &created, nil
}

func (s *Store) GetLocation(_ context.Context, id string) (*domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, ok := s.locations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &loc, nil
}

func (s *Store) ListLocations(_ context.Context) ([]domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		result = append(result, loc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) GetQuantity(_ context.Context, productID string, locationID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.stock[stockKey{productID: productID, locationID: locationID}]
	if !ok {
		return decimal.Zero, nil
	}
	return rec.Quantity, nil
}

func (s *Store) ApplyMovement(_ context.Context, in domain.MovementInput) (*domain.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.begin()
	mov, err := tx.apply(in)
	if err != nil {
		return nil, err
	}
	tx.commit()
	return &mov, nil
}

func (s *Store) ListStockRecords(_ context.Context, locationID string) ([]domain.StockRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockRecord, 0, len(s.stock))
	for key, rec := range s.stock {
		if locationID != "" && key.locationID != locationID {
			continue
		}
		result = append(result, rec)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].LocationID != result[j].LocationID {
			return result[i].LocationID < result[j].LocationID
		}
		return result[i].ProductID < result[j].ProductID
	})
	return result, nil
}

func (s *Store) ListMovements(_ context.Context, filter domain.MovementFilter) ([]domain.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	result := make([]domain.Movement, 0, limit)
	for i := len(s.movements) - 1; i >= 0 && len(result) < limit; i-- {
		m := s.movements[i]
		if filter.ProductID != "" && m.ProductID != filter.ProductID {
			continue
		}
		if filter.LocationID != "" && m.LocationID != filter.LocationID {
			continue
		}
		if filter.ChangeType != "" && m.ChangeType != filter.ChangeType {
			continue
		}
		result = append(result, m)
	}
	return result, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, []domain.Movement, error) {
	if len(sale.Items) == 0 {
		return nil, nil, store.ErrEmptyCart
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey != "" {
		if existingID, ok := s.saleIDByIdem[sale.IdempotencyKey]; ok {
			return cloneSale(s.salesByID[existingID]), nil, nil
		}
	}
	if _, ok := s.locations[sale.LocationID]; !ok {
		return nil, nil, store.ErrInvalidLocation
	}

	tx := s.begin()
	for i := range sale.Items {
		item := &sale.Items[i]
		if item.ID == "" {
			item.ID = xid.New("si")
		}
		item.SaleID = sale.ID
		if item.LocationID == "" {
			item.LocationID = sale.LocationID
		}
		if _, err := tx.apply(domain.MovementInput{
			ProductID:    item.ProductID,
			LocationID:   item.LocationID,
			ChangeType:   domain.ChangeSale,
			ChangeAmount: item.Quantity.Neg(),
			Actor:        sale.Actor,
			Notes:        "sale " + sale.ID,
		}); err != nil {
			return nil, nil, err
		}
	}
	tx.commit()

	sale.Status = domain.SaleStatusCompleted
	stored := cloneSale(&sale)
	s.salesByID[sale.ID] = stored
	s.saleOrder = append(s.saleOrder, sale.ID)
	if sale.IdempotencyKey != "" {
		s.saleIDByIdem[sale.IdempotencyKey] = sale.ID
	}
	return cloneSale(stored), tx.movements, nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrSaleNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.saleIDByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(s.salesByID[id]), nil
}

func (s *Store) ListSales(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	result := make([]domain.Sale, 0, limit)
	for i := len(s.saleOrder) - 1; i >= 0 && len(result) < limit; i-- {
		sale := s.salesByID[s.saleOrder[i]]
		if !inRange(sale.CreatedAt, from, to) {
			continue
		}
		result = append(result, *cloneSale(sale))
	}
	return result, nil
}

func (s *Store) GetReturnedQtyBySaleItem(_ context.Context, saleID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.returnedQtyLocked(saleID), nil
}

func (s *Store) returnedQtyLocked(saleID string) map[string]decimal.Decimal {
	result, _ := s.returnTotalsLocked(saleID)
	return result
}

// returnTotalsLocked sums returned quantity and refund per sale item over the
// sale's non-rejected returns.
func (s *Store) returnTotalsLocked(saleID string) (qty, refund map[string]decimal.Decimal) {
	qty = make(map[string]decimal.Decimal)
	refund = make(map[string]decimal.Decimal)
	for _, id := range s.returnsBySale[saleID] {
		ret := s.returnsByID[id]
		if !domain.CountsTowardReturned(ret.Status) {
			continue
		}
		for _, item := range ret.Items {
			qty[item.SaleItemID] = qty[item.SaleItemID].Add(item.Quantity)
			refund[item.SaleItemID] = refund[item.SaleItemID].Add(item.RefundAmount)
		}
	}
	return qty, refund
}

func (s *Store) CreateReturn(_ context.Context, ret domain.Return, exchangeIssues []domain.MovementInput) (*domain.Return, string, []domain.Movement, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[ret.SaleID]
	if !ok {
		return nil, "", nil, store.ErrSaleNotFound
	}
	saleItems := make(map[string]domain.SaleItem, len(sale.Items))
	for _, item := range sale.Items {
		saleItems[item.ID] = item
	}

	returned := s.returnedQtyLocked(sale.ID)
	requested := make(map[string]decimal.Decimal, len(ret.Items))
	for _, item := range ret.Items {
		saleItem, ok := saleItems[item.SaleItemID]
		if !ok {
			return nil, "", nil, store.ErrInvalidSaleItem
		}
		requested[item.SaleItemID] = requested[item.SaleItemID].Add(item.Quantity)
		if returned[item.SaleItemID].Add(requested[item.SaleItemID]).GreaterThan(saleItem.Quantity) {
			return nil, "", nil, &store.OverReturnError{
				SaleItemID:      item.SaleItemID,
				Sold:            saleItem.Quantity,
				AlreadyReturned: returned[item.SaleItemID],
				Requested:       requested[item.SaleItemID],
			}
		}
	}

	tx := s.begin()
	for i := range ret.Items {
		item := &ret.Items[i]
		if item.ID == "" {
			item.ID = xid.New("ri")
		}
		item.ReturnID = ret.ID
		if _, err := tx.apply(domain.MovementInput{
			ProductID:    item.ProductID,
			LocationID:   item.LocationID,
			ChangeType:   domain.ChangeReturn,
			ChangeAmount: item.Quantity,
			Actor:        ret.ProcessedBy,
			Notes:        "return " + ret.ID,
		}); err != nil {
			return nil, "", nil, err
		}
	}
	for _, issue := range exchangeIssues {
		if _, err := tx.apply(issue); err != nil {
			return nil, "", nil, err
		}
	}
	tx.commit()

	stored := cloneReturn(&ret)
	s.returnsByID[ret.ID] = stored
	s.returnsBySale[sale.ID] = append(s.returnsBySale[sale.ID], ret.ID)
	sale.Status = s.saleStatusLocked(sale)
	return cloneReturn(stored), sale.Status, tx.movements, nil
}

func (s *Store) FindReturnByID(_ context.Context, id string) (*domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret, ok := s.returnsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneReturn(ret), nil
}

func (s *Store) ListReturnsBySale(_ context.Context, saleID string) ([]domain.Return, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.salesByID[saleID]; !ok {
		return nil, store.ErrSaleNotFound
	}
	result := make([]domain.Return, 0, len(s.returnsBySale[saleID]))
	for _, id := range s.returnsBySale[saleID] {
		result = append(result, *cloneReturn(s.returnsByID[id]))
	}
	return result, nil
}

func (s *Store) TransitionReturn(_ context.Context, tr store.ReturnTransition) (*domain.Return, string, []domain.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret, ok := s.returnsByID[tr.ReturnID]
	if !ok {
		return nil, "", nil, store.ErrNotFound
	}
	if !domain.CanTransitionReturn(ret.Status, tr.To) {
		return nil, "", nil, store.ErrInvalidStatusTransition
	}

	tx := s.begin()
	for _, in := range tr.Movements {
		if _, err := tx.apply(in); err != nil {
			return nil, "", nil, err
		}
	}
	tx.commit()

	at := tr.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	ret.Status = tr.To
	ret.UpdatedAt = at
	if strings.TrimSpace(tr.Notes) != "" {
		ret.Notes = strings.TrimSpace(ret.Notes + "\n" + tr.Notes)
	}
	sale := s.salesByID[ret.SaleID]
	sale.Status = s.saleStatusLocked(sale)
	return cloneReturn(ret), sale.Status, tx.movements, nil
}

func (s *Store) saleStatusLocked(sale *domain.Sale) string {
	returned := s.returnedQtyLocked(sale.ID)
	sold, back := decimal.Zero, decimal.Zero
	for _, item := range sale.Items {
		sold = sold.Add(item.Quantity)
		back = back.Add(returned[item.ID])
	}
	return domain.DeriveSaleStatus(sold, back)
}

func (s *Store) ListSoldLines(_ context.Context, rng domain.ReportRange) ([]domain.SoldLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]domain.SoldLine, 0, 64)
	for _, id := range s.saleOrder {
		sale := s.salesByID[id]
		if !inRange(sale.CreatedAt, rng.From, rng.To) {
			continue
		}
		if rng.LocationID != "" && sale.LocationID != rng.LocationID {
			continue
		}
		returned, refunded := s.returnTotalsLocked(sale.ID)
		for _, item := range sale.Items {
			lines = append(lines, domain.SoldLine{
				SaleID:           sale.ID,
				ProductID:        item.ProductID,
				LocationID:       item.LocationID,
				Quantity:         item.Quantity,
				LineTotal:        item.LineTotal,
				SaleSubtotal:     sale.SubtotalAmount,
				SaleDiscount:     sale.DiscountAmount,
				ReturnedQuantity: returned[item.ID],
				RefundAmount:     refunded[item.ID],
				SoldAt:           sale.CreatedAt,
			})
		}
	}
	return lines, nil
}

func (s *Store) GetDailySales(_ context.Context, rng domain.ReportRange) ([]domain.DailySalesRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byDate := make(map[string]*domain.DailySalesRow)
	row := func(at time.Time) *domain.DailySalesRow {
		key := at.UTC().Format("2006-01-02")
		r, ok := byDate[key]
		if !ok {
			r = &domain.DailySalesRow{Date: key}
			byDate[key] = r
		}
		return r
	}

	for _, id := range s.saleOrder {
		sale := s.salesByID[id]
		if !inRange(sale.CreatedAt, rng.From, rng.To) {
			continue
		}
		if rng.LocationID != "" && sale.LocationID != rng.LocationID {
			continue
		}
		r := row(sale.CreatedAt)
		r.Sales++
		r.SubtotalAmount = r.SubtotalAmount.Add(sale.SubtotalAmount)
		r.DiscountAmount = r.DiscountAmount.Add(sale.DiscountAmount)
		r.TotalAmount = r.TotalAmount.Add(sale.TotalAmount)
	}
	for _, ret := range s.returnsByID {
		if !domain.CountsTowardReturned(ret.Status) || !inRange(ret.ReturnDate, rng.From, rng.To) {
			continue
		}
		if rng.LocationID != "" && s.salesByID[ret.SaleID].LocationID != rng.LocationID {
			continue
		}
		r := row(ret.ReturnDate)
		r.RefundAmount = r.RefundAmount.Add(ret.TotalRefundAmount)
	}

	rows := make([]domain.DailySalesRow, 0, len(byDate))
	for _, r := range byDate {
		r.NetAmount = r.TotalAmount.Sub(r.RefundAmount)
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Date < rows[j].Date })
	return rows, nil
}

func (s *Store) GetInventoryValuation(_ context.Context, groupBy string) ([]domain.ValuationRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byGroup := make(map[string]*domain.ValuationRow)
	for key, rec := range s.stock {
		if !rec.Quantity.IsPositive() {
			continue
		}
		product, ok := s.products[key.productID]
		if !ok {
			continue
		}
		group := product.Category
		if groupBy == domain.GroupByLocation {
			group = key.locationID
		}
		r, ok := byGroup[group]
		if !ok {
			r = &domain.ValuationRow{Group: group}
			byGroup[group] = r
		}
		r.Quantity = r.Quantity.Add(rec.Quantity)
		r.RetailValue = r.RetailValue.Add(rec.Quantity.Mul(product.Price))
		r.CostValue = r.CostValue.Add(rec.Quantity.Mul(product.Cost))
	}

	rows := make([]domain.ValuationRow, 0, len(byGroup))
	for _, r := range byGroup {
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Group < rows[j].Group })
	return rows, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLogs[i]
		if !inRange(entry.CreatedAt, from, to) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidTransaction
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrInvalidTransaction
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidTransaction
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func inRange(at time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func cloneProduct(src domain.Product) domain.Product {
	dup := src
	if src.Attributes != nil {
		dup.Attributes = make(map[string]string, len(src.Attributes))
		for k, v := range src.Attributes {
			dup.Attributes[k] = v
		}
	}
	if src.ArchivedAt != nil {
		at := *src.ArchivedAt
		dup.ArchivedAt = &at
	}
	return dup
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = make([]domain.SaleItem, len(src.Items))
	copy(dup.Items, src.Items)
	return &dup
}

func cloneReturn(src *domain.Return) *domain.Return {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Items = make([]domain.ReturnItem, len(src.Items))
	copy(dup.Items, src.Items)
	return &dup
}
