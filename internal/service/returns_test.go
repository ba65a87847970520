package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

func (h harness) sell(t *testing.T, lines ...domain.SaleLineRequest) domain.Sale {
	t.Helper()
	resp, err := h.svc.CreateSale(h.cashier, domain.SaleRequest{LocationID: locMain, Items: lines})
	require.NoError(t, err)
	return resp.Sale
}

func refundLine(saleItemID string, qty string) domain.ReturnLineRequest {
	return domain.ReturnLineRequest{SaleItemID: saleItemID, Quantity: d(qty), Condition: domain.ConditionGood}
}

func (h harness) refund(t *testing.T, saleID string, lines ...domain.ReturnLineRequest) domain.ReturnResponse {
	t.Helper()
	resp, err := h.svc.CreateReturn(h.cashier, domain.ReturnRequest{
		SaleID:       saleID,
		ReturnType:   domain.ReturnTypeRefund,
		RefundMethod: domain.RefundCash,
		Reason:       "customer changed mind",
		Items:        lines,
	})
	require.NoError(t, err)
	return resp
}

func TestScenarioBReturnRestoresStockAndGuardsOverReturn(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "100", "60", "50")
	sale := h.sell(t, line("p1", "20", ""))
	itemID := sale.Items[0].ID

	resp := h.refund(t, sale.ID, refundLine(itemID, "5"))
	assertDecimal(t, "35", h.qty(t, "p1", locMain))
	assert.Equal(t, domain.ReturnStatusPending, resp.Return.Status)
	assert.Equal(t, domain.SaleStatusPartiallyReturned, resp.SaleStatus)
	assertDecimal(t, "500", resp.Return.TotalRefundAmount)
	require.Len(t, resp.Movements, 1)
	assert.Equal(t, domain.ChangeReturn, resp.Movements[0].ChangeType)
	assertDecimal(t, "5", resp.Movements[0].ChangeAmount)

	_, err := h.svc.CreateReturn(h.cashier, domain.ReturnRequest{
		SaleID:       sale.ID,
		ReturnType:   domain.ReturnTypeRefund,
		RefundMethod: domain.RefundCash,
		Items:        []domain.ReturnLineRequest{refundLine(itemID, "16")},
	})
	var over *store.OverReturnError
	require.ErrorAs(t, err, &over)
	assert.Equal(t, itemID, over.SaleItemID)
	assertDecimal(t, "20", over.Sold)
	assertDecimal(t, "5", over.AlreadyReturned)
	assertDecimal(t, "16", over.Requested)
	assertDecimal(t, "35", h.qty(t, "p1", locMain))
}

func TestReturnOfEverythingMarksSaleReturned(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "100", "60", "10")
	h.product(t, "p2", "40", "20", "10")
	sale := h.sell(t, line("p1", "2", ""), line("p2", "1", ""))

	first := h.refund(t, sale.ID, refundLine(sale.Items[0].ID, "2"))
	assert.Equal(t, domain.SaleStatusPartiallyReturned, first.SaleStatus)
	second := h.refund(t, sale.ID, refundLine(sale.Items[1].ID, "1"))
	assert.Equal(t, domain.SaleStatusReturned, second.SaleStatus)

	stored, err := h.svc.GetSale(h.cashier, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SaleStatusReturned, stored.Status)

	returns, err := h.svc.ListReturnsBySale(h.cashier, sale.ID)
	require.NoError(t, err)
	assert.Len(t, returns, 2)
}

func TestDefaultRefundIgnoresSaleDiscount(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "100", "60", "10")
	resp, err := h.svc.CreateSale(h.cashier, domain.SaleRequest{
		LocationID:    locMain,
		DiscountType:  domain.DiscountPercentage,
		DiscountValue: d("50"),
		Items:         []domain.SaleLineRequest{line("p1", "2", "")},
	})
	require.NoError(t, err)
	assertDecimal(t, "100", resp.Sale.TotalAmount)
	itemID := resp.Sale.Items[0].ID

	full := h.refund(t, resp.Sale.ID, refundLine(itemID, "1"))
	assertDecimal(t, "100", full.Return.TotalRefundAmount)

	override := refundLine(itemID, "1")
	override.RefundAmount = dp("50")
	prorated := h.refund(t, resp.Sale.ID, override)
	assertDecimal(t, "50", prorated.Return.TotalRefundAmount)
	assert.Equal(t, domain.SaleStatusReturned, prorated.SaleStatus)
}

func TestCreateReturnValidation(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "100", "60", "10")
	h.product(t, "p2", "100", "60", "10")
	sale := h.sell(t, line("p1", "2", ""))
	other := h.sell(t, line("p2", "1", ""))
	itemID := sale.Items[0].ID

	cases := []struct {
		name string
		req  domain.ReturnRequest
		want error
	}{
		{"unknown sale", domain.ReturnRequest{SaleID: "sale-ghost", ReturnType: domain.ReturnTypeRefund, RefundMethod: domain.RefundCash, Items: []domain.ReturnLineRequest{refundLine(itemID, "1")}}, store.ErrSaleNotFound},
		{"no lines", domain.ReturnRequest{SaleID: sale.ID, ReturnType: domain.ReturnTypeRefund, RefundMethod: domain.RefundCash}, store.ErrEmptyReturn},
		{"only zero lines", domain.ReturnRequest{SaleID: sale.ID, ReturnType: domain.ReturnTypeRefund, RefundMethod: domain.RefundCash, Items: []domain.ReturnLineRequest{refundLine(itemID, "0")}}, store.ErrEmptyReturn},
		{"item of another sale", domain.ReturnRequest{SaleID: sale.ID, ReturnType: domain.ReturnTypeRefund, RefundMethod: domain.RefundCash, Items: []domain.ReturnLineRequest{refundLine(other.Items[0].ID, "1")}}, store.ErrInvalidSaleItem},
		{"refund without method", domain.ReturnRequest{SaleID: sale.ID, ReturnType: domain.ReturnTypeRefund, Items: []domain.ReturnLineRequest{refundLine(itemID, "1")}}, store.ErrInvalidTransaction},
		{"unknown type", domain.ReturnRequest{SaleID: sale.ID, ReturnType: "SWAP", Items: []domain.ReturnLineRequest{refundLine(itemID, "1")}}, store.ErrInvalidTransaction},
		{"exchange without product", domain.ReturnRequest{SaleID: sale.ID, ReturnType: domain.ReturnTypeExchange, Items: []domain.ReturnLineRequest{refundLine(itemID, "1")}}, store.ErrInvalidTransaction},
		{"bad condition", domain.ReturnRequest{SaleID: sale.ID, ReturnType: domain.ReturnTypeRefund, RefundMethod: domain.RefundCash, Items: []domain.ReturnLineRequest{{SaleItemID: itemID, Quantity: d("1"), Condition: "BROKEN"}}}, store.ErrInvalidTransaction},
		{"negative quantity", domain.ReturnRequest{SaleID: sale.ID, ReturnType: domain.ReturnTypeRefund, RefundMethod: domain.RefundCash, Items: []domain.ReturnLineRequest{refundLine(itemID, "-1")}}, store.ErrInvalidTransaction},
		{"sub-cent refund override", domain.ReturnRequest{SaleID: sale.ID, ReturnType: domain.ReturnTypeRefund, RefundMethod: domain.RefundCash, Items: []domain.ReturnLineRequest{{SaleItemID: itemID, Quantity: d("1"), Condition: domain.ConditionGood, RefundAmount: dp("1.005")}}}, store.ErrInvalidTransaction},
		{"over return in one request", domain.ReturnRequest{SaleID: sale.ID, ReturnType: domain.ReturnTypeRefund, RefundMethod: domain.RefundCash, Items: []domain.ReturnLineRequest{refundLine(itemID, "1"), refundLine(itemID, "1.5")}}, store.ErrOverReturn},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateReturn(h.cashier, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	_, err := h.svc.CreateReturn(h.cashier, domain.ReturnRequest{
		SaleID:       sale.ID,
		ReturnType:   domain.ReturnTypeRefund,
		RefundMethod: domain.RefundCash,
		AutoComplete: true,
		Items:        []domain.ReturnLineRequest{refundLine(itemID, "1")},
	})
	assert.ErrorIs(t, err, ErrForbidden)
	assertDecimal(t, "8", h.qty(t, "p1", locMain))
}

func TestReturnToAnotherLocation(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "100", "60", "10")
	sale := h.sell(t, line("p1", "3", ""))

	req := refundLine(sale.Items[0].ID, "2")
	req.LocationID = locSouth
	req.RefundAmount = dp("150")
	resp := h.refund(t, sale.ID, req)

	assertDecimal(t, "7", h.qty(t, "p1", locMain))
	assertDecimal(t, "2", h.qty(t, "p1", locSouth))
	assertDecimal(t, "150", resp.Return.TotalRefundAmount)
	assert.Equal(t, locSouth, resp.Return.Items[0].LocationID)
}

func TestReturnStateMachine(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "100", "60", "10")
	sale := h.sell(t, line("p1", "4", ""))

	ret := h.refund(t, sale.ID, refundLine(sale.Items[0].ID, "1")).Return

	_, err := h.svc.ApproveReturn(h.cashier, ret.ID, "")
	assert.ErrorIs(t, err, ErrForbidden)

	approved, err := h.svc.ApproveReturn(h.admin, ret.ID, "checked receipt")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusApproved, approved.Return.Status)
	assert.Contains(t, approved.Return.Notes, "checked receipt")
	assert.Empty(t, approved.Movements)

	_, err = h.svc.RejectReturn(h.admin, ret.ID, "")
	assert.ErrorIs(t, err, store.ErrInvalidStatusTransition)
	_, err = h.svc.ApproveReturn(h.admin, ret.ID, "")
	assert.ErrorIs(t, err, store.ErrInvalidStatusTransition)

	completed, err := h.svc.CompleteReturn(h.admin, ret.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusCompleted, completed.Return.Status)
	assert.Equal(t, domain.SaleStatusPartiallyReturned, completed.SaleStatus)

	for _, transition := range []func() (domain.ReturnResponse, error){
		func() (domain.ReturnResponse, error) { return h.svc.ApproveReturn(h.admin, ret.ID, "") },
		func() (domain.ReturnResponse, error) { return h.svc.RejectReturn(h.admin, ret.ID, "") },
		func() (domain.ReturnResponse, error) { return h.svc.CompleteReturn(h.admin, ret.ID, "") },
	} {
		_, err := transition()
		assert.ErrorIs(t, err, store.ErrInvalidStatusTransition)
	}
	assertDecimal(t, "7", h.qty(t, "p1", locMain))

	direct := h.refund(t, sale.ID, refundLine(sale.Items[0].ID, "1")).Return
	done, err := h.svc.CompleteReturn(h.admin, direct.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusCompleted, done.Return.Status)

	_, err = h.svc.ApproveReturn(h.admin, "ret-ghost", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAutoCompletedReturn(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "100", "60", "10")
	sale := h.sell(t, line("p1", "2", ""))

	resp, err := h.svc.CreateReturn(h.admin, domain.ReturnRequest{
		SaleID:       sale.ID,
		ReturnType:   domain.ReturnTypeRefund,
		RefundMethod: domain.RefundStoreCredit,
		AutoComplete: true,
		Items:        []domain.ReturnLineRequest{refundLine(sale.Items[0].ID, "2")},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusCompleted, resp.Return.Status)
	assert.Equal(t, domain.SaleStatusReturned, resp.SaleStatus)
	assertDecimal(t, "10", h.qty(t, "p1", locMain))
}

func TestRejectedReturnReversesRestoredStock(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "100", "60", "50")
	sale := h.sell(t, line("p1", "20", ""))
	ret := h.refund(t, sale.ID, refundLine(sale.Items[0].ID, "5")).Return
	assertDecimal(t, "35", h.qty(t, "p1", locMain))

	rejected, err := h.svc.RejectReturn(h.admin, ret.ID, "receipt is forged")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusRejected, rejected.Return.Status)
	assert.Equal(t, domain.SaleStatusCompleted, rejected.SaleStatus)
	assertDecimal(t, "30", h.qty(t, "p1", locMain))

	require.Len(t, rejected.Movements, 1)
	reversal := rejected.Movements[0]
	assert.Equal(t, domain.ChangeReturn, reversal.ChangeType)
	assertDecimal(t, "-5", reversal.ChangeAmount)
	assert.Equal(t, "reversal of rejected return "+ret.ID, reversal.Notes)
	assert.Equal(t, "admin", reversal.Actor)

	// rejected units become returnable again
	again := h.refund(t, sale.ID, refundLine(sale.Items[0].ID, "20"))
	assert.Equal(t, domain.SaleStatusReturned, again.SaleStatus)
	assertDecimal(t, "50", h.qty(t, "p1", locMain))
}

func TestRejectReturnFailsWhenRestoredStockWasResold(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "100", "60", "20")
	sale := h.sell(t, line("p1", "20", ""))
	ret := h.refund(t, sale.ID, refundLine(sale.Items[0].ID, "5")).Return
	h.sell(t, line("p1", "5", ""))
	assertDecimal(t, "0", h.qty(t, "p1", locMain))

	_, err := h.svc.RejectReturn(h.admin, ret.ID, "")
	var insufficient *store.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, "p1", insufficient.ProductID)

	stored, err := h.svc.GetReturn(h.admin, ret.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusPending, stored.Status)
	assertDecimal(t, "0", h.qty(t, "p1", locMain))

	_, err = h.svc.ApplyMovement(h.admin, domain.MovementInput{ProductID: "p1", LocationID: locMain, ChangeType: domain.ChangeReceived, ChangeAmount: d("5")})
	require.NoError(t, err)
	rejected, err := h.svc.RejectReturn(h.admin, ret.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnStatusRejected, rejected.Return.Status)
	assertDecimal(t, "0", h.qty(t, "p1", locMain))
}

func TestExchangeIssuesReplacementAndChargesDifference(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "100", "60", "10")
	h.product(t, "p2", "150", "90", "5")
	sale := h.sell(t, line("p1", "2", ""))

	resp, err := h.svc.CreateReturn(h.cashier, domain.ReturnRequest{
		SaleID:     sale.ID,
		ReturnType: domain.ReturnTypeExchange,
		Items: []domain.ReturnLineRequest{{
			SaleItemID:        sale.Items[0].ID,
			Quantity:          d("2"),
			Condition:         domain.ConditionPerfect,
			ExchangeProductID: "p2",
		}},
	})
	require.NoError(t, err)
	assertDecimal(t, "200", resp.Return.TotalRefundAmount)
	assertDecimal(t, "100", resp.Return.AdditionalPayment)
	assert.Empty(t, resp.Return.RefundMethod)
	assert.Equal(t, "p2", resp.Return.Items[0].ExchangeProductID)
	assertDecimal(t, "150", resp.Return.Items[0].ExchangeUnitPrice)
	assert.Len(t, resp.Movements, 2)
	assertDecimal(t, "10", h.qty(t, "p1", locMain))
	assertDecimal(t, "3", h.qty(t, "p2", locMain))

	rejected, err := h.svc.RejectReturn(h.admin, resp.Return.ID, "")
	require.NoError(t, err)
	assert.Len(t, rejected.Movements, 2)
	assertDecimal(t, "8", h.qty(t, "p1", locMain))
	assertDecimal(t, "5", h.qty(t, "p2", locMain))
}

func TestExchangeFailsAtomicallyWhenReplacementIsShort(t *testing.T) {
	h := newHarness(t, Options{})
	h.product(t, "p1", "100", "60", "10")
	h.product(t, "p2", "80", "40", "1")
	sale := h.sell(t, line("p1", "2", ""))

	_, err := h.svc.CreateReturn(h.cashier, domain.ReturnRequest{
		SaleID:     sale.ID,
		ReturnType: domain.ReturnTypeExchange,
		Items: []domain.ReturnLineRequest{{
			SaleItemID:        sale.Items[0].ID,
			Quantity:          d("2"),
			Condition:         domain.ConditionGood,
			ExchangeProductID: "p2",
		}},
	})
	assert.ErrorIs(t, err, store.ErrInsufficientStock)
	assertDecimal(t, "8", h.qty(t, "p1", locMain))
	assertDecimal(t, "1", h.qty(t, "p2", locMain))

	returns, err := h.svc.ListReturnsBySale(h.cashier, sale.ID)
	require.NoError(t, err)
	assert.Empty(t, returns)
}
