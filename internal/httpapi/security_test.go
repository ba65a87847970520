package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, res.Header().Get("Referrer-Policy"))
	assert.Equal(t, "*", res.Header().Get("Access-Control-Allow-Origin"))
}

func TestPreflightShortCircuits(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/sales", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, http.StatusNoContent, res.Code)
	assert.Contains(t, res.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for attempt := 1; attempt <= 6; attempt++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		want := http.StatusUnauthorized
		if attempt == 6 {
			want = http.StatusTooManyRequests
		}
		require.Equalf(t, want, res.Code, "attempt %d", attempt)
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, strings.Repeat("a", (1<<20)+1024))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestUnknownJSONFieldsRejected(t *testing.T) {
	api := newTestAPI(t)
	cashier := newSession(t, api, "cashier", "cashier123")

	res := cashier.do(http.MethodPost, "/api/v1/sales", map[string]any{
		"location_id": "loc-main",
		"total":       "1",
		"items":       []map[string]any{{"product_id": "prd-soap-bar", "quantity": "1"}},
	})

	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestManagerPINRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)
	body, _ := json.Marshal(domain.ReturnTransitionRequest{ManagerPIN: "000000", Notes: "test"})

	for attempt := 1; attempt <= 9; attempt++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/returns/ret-nonexistent/approve", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		req.RemoteAddr = "127.0.0.1:5001"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		want := http.StatusForbidden
		if attempt == 9 {
			want = http.StatusTooManyRequests
		}
		require.Equalf(t, want, res.Code, "attempt %d", attempt)
	}
}

func TestMutationWithoutCSRFTokenRejected(t *testing.T) {
	api := newTestAPI(t)
	token := loginAsAdmin(t, api)
	body, _ := json.Marshal(map[string]string{
		"product_id":    "prd-soap-bar",
		"location_id":   "loc-main",
		"change_type":   "received",
		"change_amount": "5",
	})

	for _, csrf := range []string{"", "forged"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/stock/movements", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		if csrf != "" {
			req.Header.Set("X-CSRF-Token", csrf)
		}
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		assert.Equalf(t, http.StatusForbidden, res.Code, "csrf token %q", csrf)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	assert.Equal(t, 200, parsePositiveLimit("9999", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("invalid", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("-3", 50, 200))
	assert.Equal(t, 7, parsePositiveLimit("7", 50, 200))
}

func TestStatusForErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrActorRequired, http.StatusUnauthorized},
		{service.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("load sale: %w", store.ErrSaleNotFound), http.StatusNotFound},
		{&store.InsufficientStockError{ProductID: "p", LocationID: "l"}, http.StatusConflict},
		{store.ErrInvalidStatusTransition, http.StatusConflict},
		{&store.OverReturnError{SaleItemID: "si"}, http.StatusUnprocessableEntity},
		{&store.PriceMismatchError{ProductID: "p"}, http.StatusUnprocessableEntity},
		{store.ErrEmptyCart, http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equalf(t, tc.want, statusForError(tc.err), "%v", tc.err)
	}
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil))
	require.Equal(t, http.StatusOK, res.Code)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.NotEmpty(t, strings.TrimSpace(payload["csrf_token"]))
	return payload["csrf_token"]
}

func loginAsAdmin(t *testing.T, api *API) string {
	t.Helper()
	s := newSession(t, api, "admin", "admin123")
	require.NotEmpty(t, s.token)
	return s.token
}
