package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/service"
	"kasirinaja/terminal/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	validate      *validator.Validate
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		validate:      validator.New(),
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	staff := []string{"cashier", "admin"}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleProducts, staff...))

	mux.HandleFunc("GET /api/v1/terminals/{terminal}/cart", a.requireAuth(a.handleCartGet, staff...))
	mux.HandleFunc("DELETE /api/v1/terminals/{terminal}/cart", a.requireAuth(a.handleCartClear, staff...))
	mux.HandleFunc("POST /api/v1/terminals/{terminal}/cart/lines", a.requireAuth(a.handleCartAddLine, staff...))
	mux.HandleFunc("PATCH /api/v1/terminals/{terminal}/cart/lines/{line}", a.requireAuth(a.handleCartUpdateLine, staff...))
	mux.HandleFunc("DELETE /api/v1/terminals/{terminal}/cart/lines/{line}", a.requireAuth(a.handleCartRemoveLine, staff...))
	mux.HandleFunc("POST /api/v1/terminals/{terminal}/cart/lines/{line}/discount", a.requireAuth(a.handleItemDiscount, staff...))
	mux.HandleFunc("POST /api/v1/terminals/{terminal}/cart/discount", a.requireAuth(a.handleOrderDiscount, staff...))

	mux.HandleFunc("POST /api/v1/terminals/{terminal}/returns/load", a.requireAuth(a.handleReturnLoad, staff...))
	mux.HandleFunc("GET /api/v1/terminals/{terminal}/returns", a.requireAuth(a.handleReturnGet, staff...))
	mux.HandleFunc("DELETE /api/v1/terminals/{terminal}/returns", a.requireAuth(a.handleReturnCancel, staff...))
	mux.HandleFunc("PATCH /api/v1/terminals/{terminal}/returns/lines/{line}", a.requireAuth(a.handleReturnLine, staff...))
	mux.HandleFunc("POST /api/v1/terminals/{terminal}/returns/commit", a.requireAuth(a.handleReturnCommit, staff...))

	mux.HandleFunc("POST /api/v1/terminals/{terminal}/checkout", a.requireAuth(a.handleCheckout, staff...))
	mux.HandleFunc("GET /api/v1/invoices/{invoice}", a.requireAuth(a.handleInvoice, staff...))

	mux.HandleFunc("POST /api/v1/shifts/open", a.requireAuth(a.handleShiftOpen, staff...))
	mux.HandleFunc("GET /api/v1/shifts/active", a.requireAuth(a.handleShiftActive, staff...))
	mux.HandleFunc("POST /api/v1/shifts/close", a.requireAuth(a.handleShiftClose, staff...))
	mux.HandleFunc("GET /api/v1/shifts/{shift}/dayend", a.requireAuth(a.handleDayEnd, staff...))

	mux.HandleFunc("POST /api/v1/expenses", a.requireAuth(a.handleExpenseCreate, staff...))
	mux.HandleFunc("GET /api/v1/expenses", a.requireAuth(a.handleExpenseList, staff...))

	mux.HandleFunc("GET /api/v1/tiers/loyalty/{customer}", a.requireAuth(a.handleLoyaltyTier, staff...))
	mux.HandleFunc("GET /api/v1/tiers/supplier-discount", a.requireAuth(a.handleSupplierDiscount, staff...))
	mux.HandleFunc("GET /api/v1/tiers/expiry", a.requireAuth(a.handleExpiryUrgency, staff...))

	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, "admin"))
	mux.HandleFunc("GET /api/v1/users/cashiers", a.requireAuth(a.handleCashierList, "admin"))
	mux.HandleFunc("POST /api/v1/users/cashiers", a.requireAuth(a.handleCashierCreate, "admin"))

	return a.withMiddleware(mux)
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

// handleCSRFToken returns a stateless token valid for the current hour
// bucket. Mutating requests carry it in X-CSRF-Token.
func (a *API) handleCSRFToken(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
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

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func storeParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("store_id"))
}

func (a *API) handleCartGet(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.Cart(storeParam(r), r.PathValue("terminal"))
	writeResult(w, http.StatusOK, map[string]any{"cart": view}, err)
}

func (a *API) handleCartClear(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.ClearCart(storeParam(r), r.PathValue("terminal"))
	writeResult(w, http.StatusOK, map[string]any{"cart": view}, err)
}

func (a *API) handleCartAddLine(w http.ResponseWriter, r *http.Request) {
	var req domain.AddLineRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	view, err := a.service.AddToCart(r.Context(), storeParam(r), r.PathValue("terminal"), req)
	writeResult(w, http.StatusCreated, map[string]any{"cart": view}, err)
}

func (a *API) handleCartUpdateLine(w http.ResponseWriter, r *http.Request) {
	var req domain.SetQuantityRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	view, err := a.service.UpdateCartLine(storeParam(r), r.PathValue("terminal"), r.PathValue("line"), req)
	writeResult(w, http.StatusOK, map[string]any{"cart": view}, err)
}

func (a *API) handleCartRemoveLine(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.RemoveCartLine(storeParam(r), r.PathValue("terminal"), r.PathValue("line"))
	writeResult(w, http.StatusOK, map[string]any{"cart": view}, err)
}

func (a *API) handleItemDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	view, err := a.service.SetItemDiscount(storeParam(r), r.PathValue("terminal"), r.PathValue("line"), req)
	writeResult(w, http.StatusOK, map[string]any{"cart": view}, err)
}

func (a *API) handleOrderDiscount(w http.ResponseWriter, r *http.Request) {
	var req domain.DiscountRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	view, err := a.service.SetOrderDiscount(storeParam(r), r.PathValue("terminal"), req)
	writeResult(w, http.StatusOK, map[string]any{"cart": view}, err)
}

func (a *API) handleReturnLoad(w http.ResponseWriter, r *http.Request) {
	var req domain.LoadInvoiceRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	view, err := a.service.LoadReturn(r.Context(), storeParam(r), r.PathValue("terminal"), req.InvoiceID)
	writeResult(w, http.StatusOK, map[string]any{"return": view}, err)
}

func (a *API) handleReturnGet(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.Returns(storeParam(r), r.PathValue("terminal"))
	writeResult(w, http.StatusOK, map[string]any{"return": view}, err)
}

func (a *API) handleReturnCancel(w http.ResponseWriter, r *http.Request) {
	view, err := a.service.CancelReturn(storeParam(r), r.PathValue("terminal"))
	writeResult(w, http.StatusOK, map[string]any{"return": view}, err)
}

func (a *API) handleReturnLine(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnLineRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	view, err := a.service.UpdateReturnLine(storeParam(r), r.PathValue("terminal"), r.PathValue("line"), req)
	writeResult(w, http.StatusOK, map[string]any{"return": view}, err)
}

func (a *API) handleReturnCommit(w http.ResponseWriter, r *http.Request) {
	var req domain.ReturnCommitRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	if !a.pinLimiter.Allow("pin:return:" + clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many manager pin attempts"))
		return
	}
	if !a.auth.ValidateManagerPIN(req.ManagerPIN) {
		writeError(w, http.StatusForbidden, errors.New("invalid manager pin"))
		return
	}

	view, err := a.service.CommitReturn(r.Context(), storeParam(r), r.PathValue("terminal"))
	writeResult(w, http.StatusOK, map[string]any{"cart": view}, err)
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req domain.CheckoutRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	if req.StoreID == "" {
		req.StoreID = storeParam(r)
	}
	resp, err := a.service.Checkout(r.Context(), r.PathValue("terminal"), req)
	writeResult(w, http.StatusCreated, resp, err)
}

func (a *API) handleInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := a.service.GetInvoice(r.Context(), r.PathValue("invoice"))
	writeResult(w, http.StatusOK, map[string]any{"invoice": inv}, err)
}

func (a *API) handleShiftOpen(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftOpenRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	resp, err := a.service.OpenShift(r.Context(), req)
	writeResult(w, http.StatusCreated, resp, err)
}

func (a *API) handleShiftActive(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.GetActiveShift(r.Context(), storeParam(r), strings.TrimSpace(r.URL.Query().Get("terminal_id")))
	writeResult(w, http.StatusOK, resp, err)
}

func (a *API) handleShiftClose(w http.ResponseWriter, r *http.Request) {
	var req domain.ShiftCloseRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	resp, err := a.service.CloseShift(r.Context(), req)
	writeResult(w, http.StatusOK, resp, err)
}

func (a *API) handleDayEnd(w http.ResponseWriter, r *http.Request) {
	shiftID := r.PathValue("shift")
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" || format == "json" {
		summary, err := a.service.DayEndSummary(r.Context(), shiftID)
		writeResult(w, http.StatusOK, map[string]any{"summary": summary}, err)
		return
	}

	rendered, err := a.service.RenderDayEnd(r.Context(), shiftID, format)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", rendered.ContentType)
	if !strings.HasPrefix(rendered.ContentType, "text/html") {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rendered.FileName))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(rendered.Body)
}

func (a *API) handleExpenseCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.ExpenseCreateRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	expense, err := a.service.CreateExpense(r.Context(), req)
	writeResult(w, http.StatusCreated, map[string]any{"expense": expense}, err)
}

func (a *API) handleExpenseList(w http.ResponseWriter, r *http.Request) {
	expenses, err := a.service.ListExpenses(r.Context(), storeParam(r), r.URL.Query().Get("shift_id"))
	writeResult(w, http.StatusOK, map[string]any{"expenses": expenses}, err)
}

func (a *API) handleLoyaltyTier(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.CustomerLoyalty(r.Context(), r.PathValue("customer"))
	writeResult(w, http.StatusOK, resp, err)
}

func (a *API) handleSupplierDiscount(w http.ResponseWriter, r *http.Request) {
	qty, err := cast.ToIntE(strings.TrimSpace(r.URL.Query().Get("qty")))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("qty must be an integer"))
		return
	}
	unitCost, err := cast.ToInt64E(strings.TrimSpace(r.URL.Query().Get("unit_cost")))
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("unit_cost must be an integer"))
		return
	}
	resp, err := a.service.SupplierDiscountQuote(qty, unitCost)
	writeResult(w, http.StatusOK, resp, err)
}

func (a *API) handleExpiryUrgency(w http.ResponseWriter, r *http.Request) {
	resp, err := a.service.ExpiryUrgency(r.URL.Query().Get("date"))
	writeResult(w, http.StatusOK, resp, err)
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), storeParam(r), r.URL.Query().Get("date"), limit)
	writeResult(w, http.StatusOK, map[string]any{"logs": logs}, err)
}

func (a *API) handleCashierList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cashiers": a.auth.ListCashiers(r.Context())})
}

func (a *API) handleCashierCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.CashierCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cashier, err := a.auth.CreateCashier(r.Context(), req)
	writeResult(w, http.StatusCreated, map[string]any{"cashier": cashier}, err)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
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
		next.ServeHTTP(w, r)
		zap.L().Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(startedAt)),
		)
	})
}

// decodeValid decodes the JSON body into dest and runs struct validation,
// writing a 400 and returning false on failure.
func (a *API) decodeValid(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	if err := a.validate.Struct(dest); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			fields := make(map[string]string, len(invalid))
			for _, fe := range invalid {
				fields[fe.Field()] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
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

// statusFor maps domain sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientPayment):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrSubmissionFailed):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrInvalidState), errors.Is(err, store.ErrInvalidTransaction):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNothingSelected),
		errors.Is(err, domain.ErrReasonRequired),
		errors.Is(err, domain.ErrExcessiveDiscount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidConfiguration):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeResult(w http.ResponseWriter, status int, payload any, err error) {
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, status, payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the detail goes to the log.
	msg := err.Error()
	if status >= 500 {
		zap.S().Errorw("internal error", "status", status, "error", err)
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
