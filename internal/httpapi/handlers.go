package httpapi

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
)

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCSRFToken returns a stateless CSRF token valid for the current hour
// bucket. Mutating requests carry it in the X-CSRF-Token header.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	includeArchived := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("include_archived")), "true")
	products, err := a.service.ListProducts(r.Context(), includeArchived)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleArchiveProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.ArchiveProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleListLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := a.service.ListLocations(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": locations})
}

func (a *API) handleCreateLocation(w http.ResponseWriter, r *http.Request) {
	var req domain.LocationCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	location, err := a.service.CreateLocation(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"location": location})
}

func (a *API) handleGetQuantity(w http.ResponseWriter, r *http.Request) {
	productID := strings.TrimSpace(r.URL.Query().Get("product_id"))
	locationID := strings.TrimSpace(r.URL.Query().Get("location_id"))
	qty, err := a.service.GetQuantity(r.Context(), productID, locationID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"product_id":  productID,
		"location_id": locationID,
		"quantity":    qty,
	})
}

func (a *API) handleStockRecords(w http.ResponseWriter, r *http.Request) {
	records, err := a.service.ListStockRecords(r.Context(), r.URL.Query().Get("location_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (a *API) handleListMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	movements, err := a.service.ListMovements(r.Context(), domain.MovementFilter{
		ProductID:  strings.TrimSpace(q.Get("product_id")),
		LocationID: strings.TrimSpace(q.Get("location_id")),
		ChangeType: domain.ChangeType(strings.ToLower(strings.TrimSpace(q.Get("change_type")))),
		Limit:      parsePositiveLimit(q.Get("limit"), 100, 500),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (a *API) handleApplyMovement(w http.ResponseWriter, r *http.Request) {
	var req domain.MovementInput
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	movement, err := a.service.ApplyMovement(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"movement": movement})
}

func (a *API) handleCreateSale(w http.ResponseWriter, r *http.Request) {
	var req domain.SaleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	resp, err := a.service.CreateSale(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (a *API) handleListSales(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := optionalRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	sales, err := a.service.ListSales(r.Context(), rng.From, rng.To, parsePositiveLimit(q.Get("limit"), 50, 200))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sales": sales})
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := a.service.GetSale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sale": sale})
}

func (a *API) handleSaleReturns(w http.ResponseWriter, r *http.Request) {
	returns, err := a.service.ListReturnsBySale(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"returns": returns})
}

func (a *API) handleCreateReturn(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.AutoComplete && !a.checkManagerPIN(w, r, "return", req.ManagerPIN) {
		return
	}

	resp, err := a.service.CreateReturn(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetReturn(w http.ResponseWriter, r *http.Request) {
	ret, err := a.service.GetReturn(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"return": ret})
}

type returnTransition func(ctx context.Context, id string, notes string) (domain.ReturnResponse, error)

func (a *API) handleReturnTransition(transition returnTransition) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req domain.ReturnTransitionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if !a.checkManagerPIN(w, r, "return-transition", req.ManagerPIN) {
			return
		}

		resp, err := transition(r.Context(), r.PathValue("id"), req.Notes)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (a *API) reportRange(r *http.Request) (domain.ReportRange, error) {
	q := r.URL.Query()
	return service.ParseReportRange(q.Get("from"), q.Get("to"), q.Get("location_id"), time.Now())
}

func (a *API) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	rng, err := a.reportRange(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	report, err := a.service.DailySales(r.Context(), rng)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("format")), "csv") {
		body, err := dailySalesCSV(report)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"daily-sales-%s-%s.csv\"", report.From, report.To))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleValuationReport(w http.ResponseWriter, r *http.Request) {
	report, err := a.service.InventoryValuation(r.Context(), r.URL.Query().Get("group_by"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleProfitMarginReport(w http.ResponseWriter, r *http.Request) {
	rng, err := a.reportRange(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	report, err := a.service.ProfitMargin(r.Context(), rng)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleTopProductsReport(w http.ResponseWriter, r *http.Request) {
	rng, err := a.reportRange(r)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	q := r.URL.Query()
	report, err := a.service.TopProducts(r.Context(), rng, q.Get("by"), parsePositiveLimit(q.Get("limit"), 10, 100))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rng, err := optionalRange(q.Get("from"), q.Get("to"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	logs, err := a.service.ListAuditLogs(r.Context(), rng.From, rng.To, parsePositiveLimit(q.Get("limit"), 100, 500))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleListCashiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCreateCashier(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cashier": cashier})
}

// optionalRange parses from/to only when at least one is given; an empty
// pair means no date filter.
func optionalRange(from string, to string) (domain.ReportRange, error) {
	if strings.TrimSpace(from) == "" && strings.TrimSpace(to) == "" {
		return domain.ReportRange{}, nil
	}
	return service.ParseReportRange(from, to, "", time.Now())
}

func dailySalesCSV(report domain.DailySalesReport) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	header := []string{"date", "sales", "subtotal_amount", "discount_amount", "total_amount", "refund_amount", "net_amount"}
	if err := cw.Write(header); err != nil {
		return nil, err
	}
	rows := append(append([]domain.DailySalesRow{}, report.Days...), report.Totals)
	for _, row := range rows {
		record := []string{
			row.Date,
			strconv.Itoa(row.Sales),
			row.SubtotalAmount.StringFixed(2),
			row.DiscountAmount.StringFixed(2),
			row.TotalAmount.StringFixed(2),
			row.RefundAmount.StringFixed(2),
			row.NetAmount.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return nil, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
