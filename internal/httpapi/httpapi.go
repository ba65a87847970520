package httpapi

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/metrics"
	"retailpos/backend/internal/service"
	"retailpos/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	stockFeed     http.Handler
	allowedOrigin string
	logger        *zap.Logger
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

// New builds the HTTP API. stockFeed serves /ws/stock and may be nil.
func New(svc *service.Service, auth *AuthManager, stockFeed http.Handler, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		stockFeed:     stockFeed,
		allowedOrigin: allowedOrigin,
		logger:        logger.Named("http"),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (expressed as Unix time truncated to the hour). The token is hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts tokens of the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	cashier := []string{domain.RoleCashier, domain.RoleAdmin}
	admin := []string{domain.RoleAdmin}

	a.route(mux, "GET /healthz", a.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.route(mux, "POST /api/v1/auth/login", a.handleLogin)
	a.route(mux, "GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	a.route(mux, "GET /api/v1/products", a.requireAuth(a.handleListProducts, cashier...))
	a.route(mux, "POST /api/v1/products", a.requireAuth(a.handleCreateProduct, admin...))
	a.route(mux, "POST /api/v1/products/{id}/archive", a.requireAuth(a.handleArchiveProduct, admin...))
	a.route(mux, "GET /api/v1/locations", a.requireAuth(a.handleListLocations, cashier...))
	a.route(mux, "POST /api/v1/locations", a.requireAuth(a.handleCreateLocation, admin...))

	a.route(mux, "GET /api/v1/stock", a.requireAuth(a.handleGetQuantity, cashier...))
	a.route(mux, "GET /api/v1/stock/records", a.requireAuth(a.handleStockRecords, cashier...))
	a.route(mux, "GET /api/v1/stock/movements", a.requireAuth(a.handleListMovements, admin...))
	a.route(mux, "POST /api/v1/stock/movements", a.requireAuth(a.handleApplyMovement, admin...))

	a.route(mux, "POST /api/v1/sales", a.requireAuth(a.handleCreateSale, cashier...))
	a.route(mux, "GET /api/v1/sales", a.requireAuth(a.handleListSales, cashier...))
	a.route(mux, "GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, cashier...))
	a.route(mux, "GET /api/v1/sales/{id}/returns", a.requireAuth(a.handleSaleReturns, admin...))

	a.route(mux, "POST /api/v1/returns", a.requireAuth(a.handleCreateReturn, admin...))
	a.route(mux, "GET /api/v1/returns/{id}", a.requireAuth(a.handleGetReturn, admin...))
	a.route(mux, "POST /api/v1/returns/{id}/approve", a.requireAuth(a.handleReturnTransition(a.service.ApproveReturn), admin...))
	a.route(mux, "POST /api/v1/returns/{id}/reject", a.requireAuth(a.handleReturnTransition(a.service.RejectReturn), admin...))
	a.route(mux, "POST /api/v1/returns/{id}/complete", a.requireAuth(a.handleReturnTransition(a.service.CompleteReturn), admin...))

	a.route(mux, "GET /api/v1/reports/daily", a.requireAuth(a.handleDailyReport, admin...))
	a.route(mux, "GET /api/v1/reports/inventory-valuation", a.requireAuth(a.handleValuationReport, admin...))
	a.route(mux, "GET /api/v1/reports/profit-margin", a.requireAuth(a.handleProfitMarginReport, admin...))
	a.route(mux, "GET /api/v1/reports/top-products", a.requireAuth(a.handleTopProductsReport, admin...))

	a.route(mux, "GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, admin...))
	a.route(mux, "GET /api/v1/users/cashiers", a.requireAuth(a.handleListCashiers, admin...))
	a.route(mux, "POST /api/v1/users/cashiers", a.requireAuth(a.handleCreateCashier, admin...))

	if a.stockFeed != nil {
		mux.Handle("GET /ws/stock", a.stockFeed)
	}

	return a.withMiddleware(mux)
}

// route registers h and records its latency under the route pattern, which
// keeps ids out of the metric labels.
func (a *API) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	method, path, _ := strings.Cut(pattern, " ")
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		rec, ok := w.(*statusRecorder)
		if !ok {
			rec = &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		}
		h(rec, r)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(startedAt).Seconds())
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// checkManagerPIN enforces the rate-limited manager PIN used by return
// approval actions. It writes the error response when the check fails.
func (a *API) checkManagerPIN(w http.ResponseWriter, r *http.Request, action string, pin string) bool {
	if !a.pinLimiter.Allow("pin:" + action + ":" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return false
	}
	if !a.auth.ValidateManagerPIN(pin) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return false
	}
	return true
}

// csrfExemptPaths lists paths that are exempt from CSRF validation.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	method := r.Method
	if method != http.MethodPost && method != http.MethodPut && method != http.MethodPatch {
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade reach the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token, Idempotency-Key")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", time.Since(startedAt)))
	})
}

// statusForError maps service and store errors to HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrActorRequired):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrSaleNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrInvalidStatusTransition),
		errors.Is(err, store.ErrProductInUse):
		return http.StatusConflict
	case errors.Is(err, store.ErrOverReturn), errors.Is(err, store.ErrPriceMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrInvalidTransaction),
		errors.Is(err, store.ErrEmptyCart),
		errors.Is(err, store.ErrEmptyReturn),
		errors.Is(err, store.ErrInvalidLocation),
		errors.Is(err, store.ErrInvalidProduct),
		errors.Is(err, store.ErrInvalidSaleItem):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError writes err with its mapped status. Typed stock and
// return errors also carry their details.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusForError(err)
	if status >= 500 {
		writeError(w, status, err)
		return
	}

	body := map[string]any{"error": err.Error()}
	var insufficient *store.InsufficientStockError
	var over *store.OverReturnError
	var mismatch *store.PriceMismatchError
	switch {
	case errors.As(err, &insufficient):
		body["details"] = map[string]any{
			"product_id":  insufficient.ProductID,
			"location_id": insufficient.LocationID,
			"available":   insufficient.Available,
			"requested":   insufficient.Requested,
		}
	case errors.As(err, &over):
		body["details"] = map[string]any{
			"sale_item_id":     over.SaleItemID,
			"sold":             over.Sold,
			"already_returned": over.AlreadyReturned,
			"requested":        over.Requested,
		}
	case errors.As(err, &mismatch):
		body["details"] = map[string]any{
			"product_id": mismatch.ProductID,
			"supplied":   mismatch.Supplied,
			"catalog":    mismatch.Catalog,
		}
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log.
	msg := err.Error()
	if status >= 500 {
		zap.L().Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
