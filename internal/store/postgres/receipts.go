package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
)

const receiptSelect = `
	SELECT r.id, r.receipt_number, r.cashier_id, u.username AS cashier_username,
	       r.transaction_date, r.total_amount, r.payment_method, r.cash_amount,
	       r.mpesa_amount, COALESCE(r.mpesa_transaction_id, '') AS mpesa_transaction_id
	FROM receipts r
	JOIN users u ON u.id = r.cashier_id`

const saleSelect = `
	SELECT s.id, s.receipt_id, s.product_id, COALESCE(p.name, '') AS product_name,
	       s.quantity, s.unit_price, s.total_price, s.sale_date
	FROM sales s
	LEFT JOIN products p ON p.id = s.product_id`

type receiptRow struct {
	ID                 int64           `db:"id"`
	ReceiptNumber      string          `db:"receipt_number"`
	CashierID          int64           `db:"cashier_id"`
	CashierUsername    string          `db:"cashier_username"`
	TransactionDate    time.Time       `db:"transaction_date"`
	TotalAmount        decimal.Decimal `db:"total_amount"`
	PaymentMethod      string          `db:"payment_method"`
	CashAmount         decimal.Decimal `db:"cash_amount"`
	MpesaAmount        decimal.Decimal `db:"mpesa_amount"`
	MpesaTransactionID string          `db:"mpesa_transaction_id"`
}

func (r receiptRow) toDomain() domain.Receipt {
	return domain.Receipt{
		ID:                 r.ID,
		ReceiptNumber:      r.ReceiptNumber,
		Cashier:            domain.Cashier{ID: r.CashierID, Username: r.CashierUsername},
		TransactionDate:    r.TransactionDate.UTC(),
		TotalAmount:        r.TotalAmount,
		PaymentMethod:      domain.PaymentMethod(r.PaymentMethod),
		CashAmount:         r.CashAmount,
		MpesaAmount:        r.MpesaAmount,
		MpesaTransactionID: r.MpesaTransactionID,
		Sales:              []domain.Sale{},
	}
}

// buildReceiptQuery turns the optional filters into a WHERE clause with
// positional arguments. Date bounds are inclusive and the product name is a
// case-insensitive substring match against any sale line of the receipt.
func buildReceiptQuery(filter domain.ReceiptFilter) (string, []any) {
	conditions := make([]string, 0, 5)
	args := make([]any, 0, 5)
	next := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Start != nil {
		conditions = append(conditions, "r.transaction_date >= "+next(filter.Start.UTC()))
	}
	if filter.End != nil {
		conditions = append(conditions, "r.transaction_date <= "+next(filter.End.UTC()))
	}
	if filter.CashierID != nil {
		conditions = append(conditions, "r.cashier_id = "+next(*filter.CashierID))
	}
	if filter.PaymentMethod != "" {
		conditions = append(conditions, "r.payment_method = "+next(string(filter.PaymentMethod)))
	}
	if name := strings.TrimSpace(filter.ProductName); name != "" {
		conditions = append(conditions, `EXISTS (
		SELECT 1 FROM sales s
		JOIN products p ON p.id = s.product_id
		WHERE s.receipt_id = r.id AND p.name ILIKE `+next("%"+escapeLike(name)+"%")+`)`)
	}

	query := receiptSelect
	if len(conditions) > 0 {
		query += "\n\tWHERE " + strings.Join(conditions, "\n\t  AND ")
	}
	query += "\n\tORDER BY r.transaction_date DESC, r.id DESC"
	return query, args
}

// attachSales loads every sale of the given receipts in one query and keeps
// the receipt order of rows.
func attachSales(ctx context.Context, q sqlx.QueryerContext, rows []receiptRow) ([]domain.Receipt, error) {
	receipts := make([]domain.Receipt, 0, len(rows))
	if len(rows) == 0 {
		return receipts, nil
	}

	ids := make([]int64, 0, len(rows))
	index := make(map[int64]int, len(rows))
	for i, row := range rows {
		receipts = append(receipts, row.toDomain())
		ids = append(ids, row.ID)
		index[row.ID] = i
	}

	query, args, err := sqlx.In(saleSelect+` WHERE s.receipt_id IN (?) ORDER BY s.id`, ids)
	if err != nil {
		return nil, err
	}
	sales := make([]domain.Sale, 0, len(rows)*2)
	if err := sqlx.SelectContext(ctx, q, &sales, sqlx.Rebind(sqlx.DOLLAR, query), args...); err != nil {
		return nil, err
	}
	for _, sale := range sales {
		sale.SaleDate = sale.SaleDate.UTC()
		i := index[sale.ReceiptID]
		receipts[i].Sales = append(receipts[i].Sales, sale)
	}
	return receipts, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}
