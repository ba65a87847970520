package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// QuantityScale is the number of decimal places carried by quantities.
const QuantityScale = 2

// MoneyScale is the number of decimal places carried by money amounts.
const MoneyScale = 2

// ValidQuantity reports whether q is positive and carries no more than two
// decimal places.
func ValidQuantity(q decimal.Decimal) bool {
	return q.IsPositive() && q.Equal(q.Truncate(QuantityScale))
}

// ValidMoney reports whether m is non-negative and carries no more than two
// decimal places.
func ValidMoney(m decimal.Decimal) bool {
	return !m.IsNegative() && m.Equal(m.Truncate(MoneyScale))
}

// ComputeDiscount returns the discount for a subtotal. Percentage discounts
// are rounded half-up to two places; amount discounts never exceed the
// subtotal.
func ComputeDiscount(subtotal decimal.Decimal, discountType string, value decimal.Decimal) decimal.Decimal {
	if value.IsNegative() || !subtotal.IsPositive() {
		return decimal.Zero
	}
	switch discountType {
	case DiscountPercentage:
		return subtotal.Mul(value).Div(hundred).Round(2)
	case DiscountAmount:
		return decimal.Min(value, subtotal)
	default:
		return decimal.Zero
	}
}

// ComputeTotals returns subtotal, discount and total for a set of line totals.
// The total is floored at zero.
func ComputeTotals(lineTotals []decimal.Decimal, discountType string, value decimal.Decimal) (subtotal, discount, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, lt := range lineTotals {
		subtotal = subtotal.Add(lt)
	}
	discount = ComputeDiscount(subtotal, discountType, value)
	total = decimal.Max(decimal.Zero, subtotal.Sub(discount))
	return subtotal, discount, total
}

// DeriveSaleStatus maps sold and (non-rejected) returned quantities to a sale status.
func DeriveSaleStatus(sold, returned decimal.Decimal) string {
	switch {
	case !returned.IsPositive():
		return SaleStatusCompleted
	case returned.LessThan(sold):
		return SaleStatusPartiallyReturned
	default:
		return SaleStatusReturned
	}
}

// CanTransitionReturn reports whether a return may move from one status to another.
func CanTransitionReturn(from, to string) bool {
	switch from {
	case ReturnStatusPending:
		return to == ReturnStatusApproved || to == ReturnStatusRejected || to == ReturnStatusCompleted
	case ReturnStatusApproved:
		return to == ReturnStatusCompleted
	default:
		return false
	}
}

// CountsTowardReturned reports whether a return in the given status consumes
// returnable quantity of its sale items.
func CountsTowardReturned(status string) bool {
	return status != ReturnStatusRejected
}

func ValidCondition(c string) bool {
	return c == ConditionPerfect || c == ConditionGood || c == ConditionDamaged
}

func ValidRefundMethod(m string) bool {
	return m == RefundCash || m == RefundBankTransfer || m == RefundStoreCredit
}

// NetQuantity is the sold quantity less what non-rejected returns took back.
func (l SoldLine) NetQuantity() decimal.Decimal {
	return l.Quantity.Sub(l.ReturnedQuantity)
}

// NetRevenue is what the line collected after its share of the sale
// discount, less refunds issued against it. The discount is spread over the
// sale's lines by their share of the subtotal.
func (l SoldLine) NetRevenue() decimal.Decimal {
	collected := l.LineTotal
	if l.SaleDiscount.IsPositive() && l.SaleSubtotal.IsPositive() {
		collected = collected.Sub(l.SaleDiscount.Mul(l.LineTotal).Div(l.SaleSubtotal).Round(MoneyScale))
	}
	return collected.Sub(l.RefundAmount)
}
