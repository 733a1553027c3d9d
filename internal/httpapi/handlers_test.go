package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/bcrypt"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
	"github.com/tonyb8121/Inventory-Management-System/internal/recommendation"
	"github.com/tonyb8121/Inventory-Management-System/internal/service"
	"github.com/tonyb8121/Inventory-Management-System/internal/store/memory"
)

const testSecret = "test-secret-key-that-is-long-enough!!"

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testServer struct {
	handler http.Handler
	repo    *memory.Store
	soda    int64
	bread   int64
}

// newTestServer wires the real service and auth manager over an in-memory
// store so handler tests exercise the complete request path.
func newTestServer(t *testing.T) testServer {
	t.Helper()
	ctx := context.Background()
	repo := memory.New()

	for _, u := range []struct{ name, role string }{
		{"owner", domain.RoleOwner},
		{"cashier", domain.RoleCashier},
	} {
		_, err := repo.CreateUser(ctx, domain.User{
			Username: u.name,
			Password: mustHashPassword(t, u.name+"-pass"),
			Role:     u.role,
			Active:   true,
		})
		require.NoError(t, err)
	}

	soda, err := repo.CreateProduct(ctx, domain.Product{Name: "Soda 500ml", Price: decimal.RequireFromString("50"), Quantity: 10, MinStockLevel: 2})
	require.NoError(t, err)
	bread, err := repo.CreateProduct(ctx, domain.Product{Name: "White Bread", Price: decimal.RequireFromString("65"), Quantity: 3, MinStockLevel: 5})
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	svc := service.New(repo, nil, time.Minute, recommendation.NewEngine(2, 0), logger)
	auth := NewAuthManager(testSecret, time.Hour, repo, logger)
	api := New(svc, auth, Options{AllowedOrigins: []string{"*"}, LoginRatePerMinute: 5}, logger)

	return testServer{handler: api.Handler(), repo: repo, soda: soda.ID, bread: bread.ID}
}

// mustHashPassword uses the minimum bcrypt cost to keep tests fast.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func (s testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s testServer) login(t *testing.T, username string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: username, Password: username + "-pass"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLogin(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: " Owner ", Password: "owner-pass"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[domain.LoginResponse](t, rec)
	assert.Equal(t, domain.RoleOwner, resp.Role)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", domain.LoginRequest{Username: "owner", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "owner", "pin": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/sales/receipts", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/sales/receipts", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecordSaleEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "cashier")

	rec := s.do(t, http.MethodPost, "/api/sales/receipts/batch", token, map[string]any{
		"saleItems": []map[string]any{
			{"productId": s.soda, "quantity": 2},
			{"productId": s.bread, "quantity": 1},
		},
		"paymentMethod": "cash",
		"cashAmount":    200,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	receipt := decodeBody[domain.Receipt](t, rec)
	assert.True(t, receipt.TotalAmount.Equal(decimal.RequireFromString("165")))
	assert.Equal(t, "cashier", receipt.Cashier.Username)
	assert.Len(t, receipt.Sales, 2)

	rec = s.do(t, http.MethodGet, "/api/sales/receipts/"+itoa(receipt.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, receipt.ReceiptNumber, decodeBody[domain.Receipt](t, rec).ReceiptNumber)

	rec = s.do(t, http.MethodGet, "/api/sales", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.Sale](t, rec), 2)
}

func TestRecordSaleInsufficientStockReportsProduct(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "cashier")

	rec := s.do(t, http.MethodPost, "/api/sales/receipts/batch", token, map[string]any{
		"saleItems":     []map[string]any{{"productId": s.soda, "quantity": 1}, {"productId": s.bread, "quantity": 4}},
		"paymentMethod": "CASH",
		"cashAmount":    "1000",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody[map[string]any](t, rec)
	assert.EqualValues(t, s.bread, body["productId"])
	assert.EqualValues(t, 3, body["available"])
	assert.EqualValues(t, 4, body["requested"])

	p, err := s.repo.GetProduct(context.Background(), s.soda)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)
}

func TestRecordSaleUnknownProductIs404(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "cashier")

	rec := s.do(t, http.MethodPost, "/api/sales/receipts/batch", token, map[string]any{
		"saleItems":     []map[string]any{{"productId": 404, "quantity": 1}},
		"paymentMethod": "CASH",
		"cashAmount":    100,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReverseReceiptIsOwnerOnly(t *testing.T) {
	s := newTestServer(t)
	cashierToken := s.login(t, "cashier")
	ownerToken := s.login(t, "owner")

	rec := s.do(t, http.MethodPost, "/api/sales/receipts/batch", cashierToken, map[string]any{
		"saleItems":     []map[string]any{{"productId": s.soda, "quantity": 4}},
		"paymentMethod": "CASH",
		"cashAmount":    200,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	receipt := decodeBody[domain.Receipt](t, rec)
	path := "/api/sales/receipts/" + itoa(receipt.ID)

	rec = s.do(t, http.MethodDelete, path, cashierToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodDelete, path, ownerToken, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	p, err := s.repo.GetProduct(context.Background(), s.soda)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)

	rec = s.do(t, http.MethodDelete, path, ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReverseReceiptWithDeletedProductIs409(t *testing.T) {
	s := newTestServer(t)
	ownerToken := s.login(t, "owner")

	rec := s.do(t, http.MethodPost, "/api/sales/receipts/batch", ownerToken, map[string]any{
		"saleItems":     []map[string]any{{"productId": s.bread, "quantity": 1}},
		"paymentMethod": "CASH",
		"cashAmount":    65,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	receipt := decodeBody[domain.Receipt](t, rec)
	require.NoError(t, s.repo.DeleteProduct(context.Background(), s.bread))

	rec = s.do(t, http.MethodDelete, "/api/sales/receipts/"+itoa(receipt.ID), ownerToken, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListReceiptsFilters(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "cashier")

	for _, body := range []map[string]any{
		{"saleItems": []map[string]any{{"productId": s.soda, "quantity": 1}}, "paymentMethod": "CASH", "cashAmount": 50},
		{"saleItems": []map[string]any{{"productId": s.bread, "quantity": 1}}, "paymentMethod": "MPESA", "mpesaAmount": 65, "mpesaTransactionId": "QAB12"},
	} {
		rec := s.do(t, http.MethodPost, "/api/sales/receipts/batch", token, body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := s.do(t, http.MethodGet, "/api/sales/receipts?paymentMethod=mpesa", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	receipts := decodeBody[[]domain.Receipt](t, rec)
	require.Len(t, receipts, 1)
	assert.Equal(t, domain.PaymentMpesa, receipts[0].PaymentMethod)

	rec = s.do(t, http.MethodGet, "/api/sales/receipts?productName=SODA", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.Receipt](t, rec), 1)

	today := time.Now().UTC().Format("2006-01-02")
	rec = s.do(t, http.MethodGet, "/api/sales/receipts?startDate="+today+"&endDate="+today, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]domain.Receipt](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/api/sales/receipts?startDate=yesterday", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/sales/receipts?cashierId=abc", token, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStockAdjustmentEndpoints(t *testing.T) {
	s := newTestServer(t)
	ownerToken := s.login(t, "owner")
	cashierToken := s.login(t, "cashier")

	body := map[string]any{"productId": s.bread, "quantityChange": 7, "reason": "delivery", "adjustmentType": "addition"}

	rec := s.do(t, http.MethodPost, "/api/stock/adjustments", cashierToken, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/stock/adjustments", ownerToken, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	adjustment := decodeBody[domain.StockAdjustment](t, rec)
	assert.Equal(t, 3, adjustment.QuantityBefore)
	assert.Equal(t, 10, adjustment.QuantityAfter)

	rec = s.do(t, http.MethodPost, "/api/stock/adjustments", ownerToken, map[string]any{
		"productId": s.bread, "quantityChange": -20, "reason": "damaged", "adjustmentType": "SUBTRACTION",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/stock/adjustments/history?limit=5", cashierToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decodeBody[[]domain.StockAdjustment](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "owner", history[0].Username)
}

func TestLowStockEndpoint(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, "cashier")

	rec := s.do(t, http.MethodGet, "/api/products/low-stock", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	report := decodeBody[domain.LowStockResponse](t, rec)
	require.Len(t, report.Items, 1)
	assert.Equal(t, s.bread, report.Items[0].ProductID)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func TestMalformedReceiptIDIsNotFound(t *testing.T) {
	s := newTestServer(t)
	ownerToken := s.login(t, "owner")

	for _, id := range []string{"abc", "0", "-4", "99999999999999999999"} {
		rec := s.do(t, http.MethodGet, "/api/sales/receipts/"+id, ownerToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, id)

		rec = s.do(t, http.MethodDelete, "/api/sales/receipts/"+id, ownerToken, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, id)
	}
}
