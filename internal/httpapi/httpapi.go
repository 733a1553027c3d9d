package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
	"github.com/tonyb8121/Inventory-Management-System/internal/service"
	"github.com/tonyb8121/Inventory-Management-System/internal/store"
)

type Options struct {
	AllowedOrigins     []string
	LoginRatePerMinute int
}

type API struct {
	service      *service.Service
	auth         *AuthManager
	opts         Options
	loginLimiter *ipRateLimiter
	logger       *zap.Logger
}

func New(svc *service.Service, auth *AuthManager, opts Options, logger *zap.Logger) *API {
	if opts.LoginRatePerMinute <= 0 {
		opts.LoginRatePerMinute = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		service:      svc,
		auth:         auth,
		opts:         opts,
		loginLimiter: newIPRateLimiter(opts.LoginRatePerMinute),
		logger:       logger.Named("http"),
	}
}

func (a *API) Handler() *gin.Engine {
	r := gin.New()
	r.Use(
		requestLogger(a.logger),
		gin.CustomRecovery(func(c *gin.Context, recovered any) {
			a.logger.Error("panic in handler", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
			abortWithError(c, http.StatusInternalServerError, errors.New("panic"))
		}),
		securityHeaders(),
		corsMiddleware(a.opts.AllowedOrigins),
	)

	r.GET("/healthz", a.handleHealth)

	api := r.Group("/api")
	api.POST("/auth/login", a.loginLimiter.Middleware(), a.handleLogin)

	anyRole := a.requireAuth(domain.RoleOwner, domain.RoleCashier)
	ownerOnly := a.requireAuth(domain.RoleOwner)

	sales := api.Group("/sales")
	sales.POST("/receipts/batch", anyRole, a.handleRecordSale)
	sales.GET("/receipts", anyRole, a.handleListReceipts)
	sales.GET("/receipts/:id", anyRole, a.handleGetReceipt)
	sales.DELETE("/receipts/:id", ownerOnly, a.handleReverseReceipt)
	sales.GET("", anyRole, a.handleListSales)

	stock := api.Group("/stock")
	stock.POST("/adjustments", ownerOnly, a.handleAdjustStock)
	stock.GET("/adjustments/history", anyRole, a.handleAdjustmentHistory)

	api.GET("/products/low-stock", anyRole, a.handleLowStock)

	return r
}

func (a *API) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(c *gin.Context) {
	var req domain.LoginRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(c.Request.Context(), req)
	switch {
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInactiveAccount):
		writeError(c, http.StatusUnauthorized, err)
		return
	case err != nil:
		writeError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) handleRecordSale(c *gin.Context) {
	actor, _ := actorFrom(c)

	var req domain.RecordSaleRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	req.PaymentMethod = domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(string(req.PaymentMethod))))

	receipt, err := a.service.RecordSale(c.Request.Context(), actor, req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

func (a *API) handleListReceipts(c *gin.Context) {
	filter, err := receiptFilterFromQuery(c)
	if err != nil {
		writeServiceError(c, err)
		return
	}

	receipts, err := a.service.ListReceipts(c.Request.Context(), filter)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipts)
}

func (a *API) handleGetReceipt(c *gin.Context) {
	id, err := parseReceiptID(c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	receipt, err := a.service.GetReceipt(c.Request.Context(), id)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func (a *API) handleReverseReceipt(c *gin.Context) {
	actor, _ := actorFrom(c)
	id, err := parseReceiptID(c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}

	if err := a.service.ReverseReceipt(c.Request.Context(), actor, id); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) handleListSales(c *gin.Context) {
	sales, err := a.service.ListSales(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, sales)
}

func (a *API) handleAdjustStock(c *gin.Context) {
	actor, _ := actorFrom(c)

	var req domain.StockAdjustmentRequest
	if err := decodeJSON(c, &req); err != nil {
		writeError(c, http.StatusBadRequest, err)
		return
	}
	req.AdjustmentType = domain.AdjustmentType(strings.ToUpper(strings.TrimSpace(string(req.AdjustmentType))))

	adjustment, err := a.service.AdjustStock(c.Request.Context(), actor, req)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, adjustment)
}

func (a *API) handleAdjustmentHistory(c *gin.Context) {
	limit := parsePositiveLimit(c.Query("limit"), 100, 1000)
	history, err := a.service.StockAdjustmentHistory(c.Request.Context(), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (a *API) handleLowStock(c *gin.Context) {
	report, err := a.service.LowStockProducts(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// parseDate accepts RFC3339, a zone-less timestamp read as UTC, or a bare
// date. A bare date used as an upper bound covers the whole day.
func parseDate(field, raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, raw)
		if err != nil {
			continue
		}
		t = t.UTC()
		if layout == "2006-01-02" && endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t, nil
	}
	return nil, store.Invalid(field, "unrecognised date %q", raw)
}

func receiptFilterFromQuery(c *gin.Context) (domain.ReceiptFilter, error) {
	var (
		filter domain.ReceiptFilter
		err    error
	)
	if filter.Start, err = parseDate("startDate", c.Query("startDate"), false); err != nil {
		return filter, err
	}
	if filter.End, err = parseDate("endDate", c.Query("endDate"), true); err != nil {
		return filter, err
	}
	if raw := strings.TrimSpace(c.Query("cashierId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return filter, store.Invalid("cashierId", "must be a positive integer")
		}
		filter.CashierID = &id
	}
	filter.PaymentMethod = domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(c.Query("paymentMethod"))))
	filter.ProductName = c.Query("productName")
	return filter, nil
}

// parseReceiptID treats an id that cannot name a receipt as a missing one.
func parseReceiptID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, store.NotFound("receipt", raw)
	}
	return id, nil
}

func decodeJSON(c *gin.Context, dest any) error {
	decoder := json.NewDecoder(c.Request.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
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

// writeServiceError maps the store error taxonomy onto HTTP statuses.
func writeServiceError(c *gin.Context, err error) {
	var (
		shortage *store.InsufficientStockError
		invalid  *store.ValidationError
		missing  *store.NotFoundError
	)
	switch {
	case errors.As(err, &shortage):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       err.Error(),
			"productId":   shortage.ProductID,
			"productName": shortage.ProductName,
			"available":   shortage.Available,
			"requested":   shortage.Requested,
		})
	case errors.As(err, &invalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "field": invalid.Field})
	case errors.As(err, &missing):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "entity": missing.Entity})
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, err)
	case errors.Is(err, store.ErrValidation), errors.Is(err, store.ErrInsufficientStock):
		writeError(c, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrIntegrityViolation), errors.Is(err, store.ErrConflict):
		writeError(c, http.StatusConflict, err)
	default:
		writeError(c, http.StatusInternalServerError, err)
	}
}

// writeError hides the message of 5xx responses; the error itself is kept on
// the gin context for the request logger.
func writeError(c *gin.Context, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal server error"
	}
	c.JSON(status, gin.H{"error": msg})
}

func abortWithError(c *gin.Context, status int, err error) {
	writeError(c, status, err)
	c.Abort()
}
