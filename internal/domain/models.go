package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

type Product struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	ProductType       string            `json:"product_type"`
	Unit              string            `json:"unit"`
	Category          string            `json:"category"`
	Price             decimal.Decimal   `json:"price"`
	Cost              decimal.Decimal   `json:"cost"`
	LowStockThreshold decimal.Decimal   `json:"low_stock_threshold"`
	Attributes        map[string]string `json:"attributes,omitempty"`
	Active            bool              `json:"active"`
	ArchivedAt        *time.Time        `json:"archived_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

type ProductCreateRequest struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	ProductType       string            `json:"product_type"`
	Unit              string            `json:"unit"`
	Category          string            `json:"category"`
	Price             decimal.Decimal   `json:"price"`
	Cost              decimal.Decimal   `json:"cost"`
	LowStockThreshold decimal.Decimal   `json:"low_stock_threshold"`
	Attributes        map[string]string `json:"attributes"`
}

type Location struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

type LocationCreateRequest struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

type StockRecord struct {
	ProductID  string          `json:"product_id"`
	LocationID string          `json:"location_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type ChangeType string

const (
	ChangeSale     ChangeType = "sale"
	ChangeReturn   ChangeType = "return"
	ChangeReceived ChangeType = "received"
	ChangeAdjusted ChangeType = "adjusted"
	ChangeBroken   ChangeType = "broken"
	ChangeInitial  ChangeType = "initial"
)

func (c ChangeType) Valid() bool {
	switch c {
	case ChangeSale, ChangeReturn, ChangeReceived, ChangeAdjusted, ChangeBroken, ChangeInitial:
		return true
	}
	return false
}

// External reports whether the change type may be applied outside of the
// sale and return flows.
func (c ChangeType) External() bool {
	switch c {
	case ChangeReceived, ChangeAdjusted, ChangeBroken, ChangeInitial:
		return true
	}
	return false
}

type Movement struct {
	ID               string          `json:"id"`
	ProductID        string          `json:"product_id"`
	LocationID       string          `json:"location_id"`
	ChangeType       ChangeType      `json:"change_type"`
	ChangeAmount     decimal.Decimal `json:"change_amount"`
	PreviousQuantity decimal.Decimal `json:"previous_quantity"`
	NewQuantity      decimal.Decimal `json:"new_quantity"`
	Actor            string          `json:"actor"`
	Notes            string          `json:"notes,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// MovementInput is one requested change to a (product, location) quantity.
type MovementInput struct {
	ProductID    string          `json:"product_id"`
	LocationID   string          `json:"location_id"`
	ChangeType   ChangeType      `json:"change_type"`
	ChangeAmount decimal.Decimal `json:"change_amount"`
	Actor        string          `json:"-"`
	Notes        string          `json:"notes"`
}

type MovementFilter struct {
	ProductID  string
	LocationID string
	ChangeType ChangeType
	Limit      int
}

const (
	DiscountAmount     = "amount"
	DiscountPercentage = "percentage"
)

const (
	SaleStatusCompleted         = "completed"
	SaleStatusPartiallyReturned = "partially_returned"
	SaleStatusReturned          = "returned"
)

const WalkInCustomer = "Walk-in Customer"

type Sale struct {
	ID             string          `json:"id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	CustomerName   string          `json:"customer_name"`
	CustomerPhone  string          `json:"customer_phone,omitempty"`
	LocationID     string          `json:"location_id"`
	Actor          string          `json:"actor"`
	PaymentMethod  string          `json:"payment_method"`
	DiscountType   string          `json:"discount_type,omitempty"`
	DiscountValue  decimal.Decimal `json:"discount_value"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	SubtotalAmount decimal.Decimal `json:"subtotal_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	Status         string          `json:"status"`
	Items          []SaleItem      `json:"items"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SaleItem struct {
	ID         string          `json:"id"`
	SaleID     string          `json:"sale_id"`
	ProductID  string          `json:"product_id"`
	LocationID string          `json:"location_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Unit       string          `json:"unit"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	LineTotal  decimal.Decimal `json:"line_total"`
}

type SaleLineRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  decimal.Decimal  `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
}

type SaleRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	LocationID     string            `json:"location_id"`
	CustomerName   string            `json:"customer_name"`
	CustomerPhone  string            `json:"customer_phone"`
	PaymentMethod  string            `json:"payment_method"`
	DiscountType   string            `json:"discount_type"`
	DiscountValue  decimal.Decimal   `json:"discount_value"`
	Items          []SaleLineRequest `json:"items"`
}

type SaleResponse struct {
	Sale      Sale       `json:"sale"`
	Movements []Movement `json:"movements,omitempty"`
	Replayed  bool       `json:"replayed"`
}

const (
	ReturnTypeRefund   = "REFUND"
	ReturnTypeExchange = "EXCHANGE"
)

const (
	ReturnStatusPending   = "PENDING"
	ReturnStatusApproved  = "APPROVED"
	ReturnStatusRejected  = "REJECTED"
	ReturnStatusCompleted = "COMPLETED"
)

const (
	RefundCash         = "CASH"
	RefundBankTransfer = "BANK_TRANSFER"
	RefundStoreCredit  = "STORE_CREDIT"
)

const (
	ConditionPerfect = "PERFECT"
	ConditionGood    = "GOOD"
	ConditionDamaged = "DAMAGED"
)

type Return struct {
	ID                string          `json:"id"`
	SaleID            string          `json:"sale_id"`
	ProcessedBy       string          `json:"processed_by"`
	ReturnDate        time.Time       `json:"return_date"`
	ReturnType        string          `json:"return_type"`
	Reason            string          `json:"reason"`
	Status            string          `json:"status"`
	TotalRefundAmount decimal.Decimal `json:"total_refund_amount"`
	AdditionalPayment decimal.Decimal `json:"additional_payment"`
	RefundMethod      string          `json:"refund_method,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	Items             []ReturnItem    `json:"items"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type ReturnItem struct {
	ID                string          `json:"id"`
	ReturnID          string          `json:"return_id"`
	SaleItemID        string          `json:"sale_item_id"`
	ProductID         string          `json:"product_id"`
	LocationID        string          `json:"location_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	ReturnReason      string          `json:"return_reason,omitempty"`
	Condition         string          `json:"condition"`
	RefundAmount      decimal.Decimal `json:"refund_amount"`
	ExchangeProductID string          `json:"exchange_product_id,omitempty"`
	ExchangeUnitPrice decimal.Decimal `json:"exchange_unit_price"`
}

type ReturnLineRequest struct {
	SaleItemID        string           `json:"sale_item_id"`
	Quantity          decimal.Decimal  `json:"quantity"`
	LocationID        string           `json:"location_id"`
	ReturnReason      string           `json:"return_reason"`
	Condition         string           `json:"condition"`
	RefundAmount      *decimal.Decimal `json:"refund_amount,omitempty"`
	ExchangeProductID string           `json:"exchange_product_id"`
}

type ReturnRequest struct {
	SaleID       string              `json:"sale_id"`
	ReturnType   string              `json:"return_type"`
	Reason       string              `json:"reason"`
	RefundMethod string              `json:"refund_method"`
	Notes        string              `json:"notes"`
	AutoComplete bool                `json:"auto_complete"`
	ManagerPIN   string              `json:"manager_pin"`
	Items        []ReturnLineRequest `json:"items"`
}

type ReturnTransitionRequest struct {
	ManagerPIN string `json:"manager_pin"`
	Notes      string `json:"notes"`
}

type ReturnResponse struct {
	Return     Return     `json:"return"`
	SaleStatus string     `json:"sale_status"`
	Movements  []Movement `json:"movements,omitempty"`
}

type ReportRange struct {
	From       time.Time
	To         time.Time
	LocationID string
}

type DailySalesRow struct {
	Date           string          `json:"date"`
	Sales          int             `json:"sales"`
	SubtotalAmount decimal.Decimal `json:"subtotal_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	NetAmount      decimal.Decimal `json:"net_amount"`
}

type DailySalesReport struct {
	From       string          `json:"from"`
	To         string          `json:"to"`
	LocationID string          `json:"location_id,omitempty"`
	Days       []DailySalesRow `json:"days"`
	Totals     DailySalesRow   `json:"totals"`
}

const (
	GroupByCategory = "category"
	GroupByLocation = "location"
)

type ValuationRow struct {
	Group       string          `json:"group"`
	Quantity    decimal.Decimal `json:"quantity"`
	RetailValue decimal.Decimal `json:"retail_value"`
	CostValue   decimal.Decimal `json:"cost_value"`
}

type InventoryValuationReport struct {
	GroupBy     string          `json:"group_by"`
	Rows        []ValuationRow  `json:"rows"`
	RetailValue decimal.Decimal `json:"retail_value"`
	CostValue   decimal.Decimal `json:"cost_value"`
}

type ProductMargin struct {
	ProductID     string          `json:"product_id"`
	Name          string          `json:"name"`
	Quantity      decimal.Decimal `json:"quantity"`
	Revenue       decimal.Decimal `json:"revenue"`
	Cost          decimal.Decimal `json:"cost"`
	Margin        decimal.Decimal `json:"margin"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
}

type ProfitMarginReport struct {
	From          string          `json:"from"`
	To            string          `json:"to"`
	Revenue       decimal.Decimal `json:"revenue"`
	Cost          decimal.Decimal `json:"cost"`
	Margin        decimal.Decimal `json:"margin"`
	MarginPercent decimal.Decimal `json:"margin_percent"`
	Products      []ProductMargin `json:"products"`
}

const (
	RankByQuantity = "quantity"
	RankByRevenue  = "revenue"
)

type TopProduct struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

type TopProductsReport struct {
	From     string       `json:"from"`
	To       string       `json:"to"`
	By       string       `json:"by"`
	Products []TopProduct `json:"products"`
}

// SoldLine is one sale item joined with its sale totals and the returns
// recorded against it, used by reports. Rejected returns are not counted.
type SoldLine struct {
	SaleID           string
	ProductID        string
	LocationID       string
	Quantity         decimal.Decimal
	LineTotal        decimal.Decimal
	SaleSubtotal     decimal.Decimal
	SaleDiscount     decimal.Decimal
	ReturnedQuantity decimal.Decimal
	RefundAmount     decimal.Decimal
	SoldAt           time.Time
}

const (
	EventStockChanged = "stock.changed"
	EventStockLow     = "stock.low"
)

type StockEvent struct {
	Type       string          `json:"type"`
	ProductID  string          `json:"product_id"`
	LocationID string          `json:"location_id"`
	ChangeType ChangeType      `json:"change_type"`
	Change     decimal.Decimal `json:"change_amount"`
	Quantity   decimal.Decimal `json:"quantity"`
	Threshold  decimal.Decimal `json:"threshold,omitempty"`
	MovementID string          `json:"movement_id"`
	Actor      string          `json:"actor"`
	At         time.Time       `json:"at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type UserAccount struct {
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
