package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
	"github.com/tonyb8121/Inventory-Management-System/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestRecordAndReverseReceiptRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()
	stamp := time.Now().UnixNano()

	user, err := s.CreateUser(ctx, domain.User{
		Username: fmt.Sprintf("it-cashier-%d", stamp),
		Password: "$2a$10$integration",
		Role:     domain.RoleCashier,
		Active:   true,
	})
	require.NoError(t, err)
	product, err := s.CreateProduct(ctx, domain.Product{
		Name:     fmt.Sprintf("IT Soda %d", stamp),
		Price:    decimal.RequireFromString("5.00"),
		Quantity: 10,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM receipts WHERE cashier_id = $1`, user.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_adjustments WHERE product_id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product.ID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, user.ID)
	})

	receipt, err := s.CreateReceipt(ctx, domain.ReceiptDraft{
		ReceiptNumber:   fmt.Sprintf("RIT%d", stamp),
		CashierID:       user.ID,
		TransactionDate: time.Now().UTC(),
		PaymentMethod:   domain.PaymentCash,
		CashAmount:      decimal.RequireFromString("20"),
		MpesaAmount:     decimal.Zero,
		Items:           []domain.SaleItem{{ProductID: product.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.True(t, receipt.TotalAmount.Equal(decimal.RequireFromString("15")))

	after, err := s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, after.Quantity)

	_, err = s.CreateReceipt(ctx, domain.ReceiptDraft{
		ReceiptNumber: fmt.Sprintf("RIT%d-2", stamp),
		CashierID:     user.ID,
		PaymentMethod: domain.PaymentCash,
		CashAmount:    decimal.RequireFromString("1000"),
		Items:         []domain.SaleItem{{ProductID: product.ID, Quantity: 8}},
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	found, err := s.ListReceipts(ctx, domain.ReceiptFilter{ProductName: fmt.Sprintf("it soda %d", stamp)})
	require.NoError(t, err)
	require.Len(t, found, 1)
	require.Len(t, found[0].Sales, 1)

	_, err = s.DeleteReceipt(ctx, receipt.ID)
	require.NoError(t, err)

	after, err = s.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, after.Quantity)

	_, err = s.GetReceipt(ctx, receipt.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	adjusted, err := s.AdjustStock(ctx, domain.StockAdjustment{
		ProductID:      product.ID,
		QuantityChange: -3,
		Reason:         "damaged",
		AdjustmentType: domain.AdjustmentSubtraction,
		UserID:         user.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, adjusted.QuantityAfter)
}
