package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
	"github.com/tonyb8121/Inventory-Management-System/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger.Named("postgres")}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("schema applied")
	return nil
}

const userColumns = `id, username, password, role, active, created_at`

func (s *Store) CreateUser(ctx context.Context, user domain.User) (*domain.User, error) {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.Invalid("username", "username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING id
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	var user domain.User
	err := s.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username = $1`,
		strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("user", username)
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	users := make([]domain.User, 0, 16)
	if err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY username ASC`); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("password", "username and password are required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound("user", username)
	}
	return nil
}

const productColumns = `id, name, price, quantity, min_stock_level, category_id, created_at, updated_at`

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" {
		return nil, store.Invalid("name", "product name is required")
	}
	if product.Price.IsNegative() || product.Quantity < 0 || product.MinStockLevel < 0 {
		return nil, store.Invalid("product", "price, quantity and minimum stock must not be negative")
	}

	var created domain.Product
	err := s.db.GetContext(ctx, &created, `
		INSERT INTO products (name, price, quantity, min_stock_level, category_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING `+productColumns,
		product.Name, product.Price, product.Quantity, product.MinStockLevel, product.CategoryID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.NotFound("category", derefID(product.CategoryID))
		}
		if isCheckViolation(err) {
			return nil, store.Invalid("product", "%s", pgMessage(err))
		}
		return nil, err
	}
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var product domain.Product
	err := s.db.GetContext(ctx, &product, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("product", id)
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products := make([]domain.Product, 0, 128)
	if err := s.db.SelectContext(ctx, &products, `SELECT `+productColumns+` FROM products ORDER BY name`); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return store.Integrity("product %d is referenced by sales or adjustments", id)
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.NotFound("product", id)
	}
	return nil
}

func (s *Store) CreateReceipt(ctx context.Context, draft domain.ReceiptDraft) (*domain.Receipt, error) {
	if draft.ReceiptNumber == "" {
		return nil, store.Invalid("receiptNumber", "receipt number is required")
	}
	if draft.TransactionDate.IsZero() {
		draft.TransactionDate = time.Now().UTC()
	}

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var cashier domain.User
	if err := tx.GetContext(ctx, &cashier, `SELECT `+userColumns+` FROM users WHERE id = $1`, draft.CashierID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("user", draft.CashierID)
		}
		return nil, err
	}

	ids := make([]int64, 0, len(draft.Items))
	for _, item := range draft.Items {
		ids = append(ids, item.ProductID)
	}
	locked, err := lockProducts(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	sales, total, err := store.PriceSale(draft, locked)
	if err != nil {
		return nil, err
	}

	receipt := domain.Receipt{
		ReceiptNumber:      draft.ReceiptNumber,
		Cashier:            domain.Cashier{ID: cashier.ID, Username: cashier.Username},
		TransactionDate:    draft.TransactionDate,
		TotalAmount:        total,
		PaymentMethod:      draft.PaymentMethod,
		CashAmount:         draft.CashAmount,
		MpesaAmount:        draft.MpesaAmount,
		MpesaTransactionID: draft.MpesaTransactionID,
		Sales:              sales,
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO receipts (
			receipt_number, cashier_id, transaction_date, total_amount,
			payment_method, cash_amount, mpesa_amount, mpesa_transaction_id
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, receipt.ReceiptNumber, receipt.Cashier.ID, receipt.TransactionDate, receipt.TotalAmount,
		string(receipt.PaymentMethod), receipt.CashAmount, receipt.MpesaAmount,
		nullIfEmpty(receipt.MpesaTransactionID)).Scan(&receipt.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for i := range receipt.Sales {
		sale := &receipt.Sales[i]
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity - $1, updated_at = now()
			WHERE id = $2 AND quantity >= $1
		`, sale.Quantity, sale.ProductID)
		if err != nil {
			return nil, err
		}
		if affected, err := res.RowsAffected(); err != nil {
			return nil, err
		} else if affected == 0 {
			product := locked[sale.ProductID]
			return nil, &store.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Quantity,
				Requested:   sale.Quantity,
			}
		}

		sale.ReceiptID = receipt.ID
		sale.SaleDate = receipt.TransactionDate
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO sales (receipt_id, product_id, quantity, unit_price, total_price, sale_date)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, sale.ReceiptID, sale.ProductID, sale.Quantity, sale.UnitPrice, sale.TotalPrice, sale.SaleDate).Scan(&sale.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (s *Store) GetReceipt(ctx context.Context, id int64) (*domain.Receipt, error) {
	var row receiptRow
	if err := s.db.GetContext(ctx, &row, receiptSelect+` WHERE r.id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("receipt", id)
		}
		return nil, err
	}
	receipts, err := attachSales(ctx, s.db, []receiptRow{row})
	if err != nil {
		return nil, err
	}
	return &receipts[0], nil
}

// ListReceipts reads the receipts and their sales inside one read-only
// snapshot so both queries see the same committed state.
func (s *Store) ListReceipts(ctx context.Context, filter domain.ReceiptFilter) ([]domain.Receipt, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	query, args := buildReceiptQuery(filter)
	rows := make([]receiptRow, 0, 32)
	if err := tx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	receipts, err := attachSales(ctx, tx, rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return receipts, nil
}

func (s *Store) DeleteReceipt(ctx context.Context, id int64) (*domain.Receipt, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var row receiptRow
	if err := tx.GetContext(ctx, &row, receiptSelect+` WHERE r.id = $1 FOR UPDATE OF r`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("receipt", id)
		}
		return nil, err
	}
	receipts, err := attachSales(ctx, tx, []receiptRow{row})
	if err != nil {
		return nil, err
	}
	receipt := receipts[0]

	ids := make([]int64, 0, len(receipt.Sales))
	for _, sale := range receipt.Sales {
		ids = append(ids, sale.ProductID)
	}
	locked, err := lockProducts(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	for _, sale := range receipt.Sales {
		if _, ok := locked[sale.ProductID]; !ok {
			s.logger.Warn("reversal blocked by missing product",
				zap.String("receipt_number", receipt.ReceiptNumber),
				zap.Int64("product_id", sale.ProductID))
			return nil, store.Integrity("receipt %s references deleted product %d", receipt.ReceiptNumber, sale.ProductID)
		}
	}

	for _, sale := range receipt.Sales {
		if _, err := tx.ExecContext(ctx, `
			UPDATE products
			SET quantity = quantity + $1, updated_at = now()
			WHERE id = $2
		`, sale.Quantity, sale.ProductID); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM receipts WHERE id = $1`, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (s *Store) ListSales(ctx context.Context) ([]domain.Sale, error) {
	sales := make([]domain.Sale, 0, 128)
	if err := s.db.SelectContext(ctx, &sales, saleSelect+` ORDER BY s.sale_date DESC, s.id DESC`); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) AdjustStock(ctx context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var user domain.User
	if err := tx.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE id = $1`, adjustment.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NotFound("user", adjustment.UserID)
		}
		return nil, err
	}

	locked, err := lockProducts(ctx, tx, []int64{adjustment.ProductID})
	if err != nil {
		return nil, err
	}
	product, ok := locked[adjustment.ProductID]
	if !ok {
		return nil, store.NotFound("product", adjustment.ProductID)
	}

	next, err := store.ApplyAdjustment(product, adjustment.AdjustmentType, adjustment.QuantityChange)
	if err != nil {
		return nil, err
	}
	if adjustment.AdjustmentDate.IsZero() {
		adjustment.AdjustmentDate = time.Now().UTC()
	}
	adjustment.ProductName = product.Name
	adjustment.Username = user.Username
	adjustment.QuantityBefore = product.Quantity
	adjustment.QuantityAfter = next

	if _, err := tx.ExecContext(ctx, `
		UPDATE products
		SET quantity = $1, updated_at = now()
		WHERE id = $2
	`, next, product.ID); err != nil {
		if isCheckViolation(err) {
			return nil, store.Invalid("quantityChange", "product %d cannot go below zero", product.ID)
		}
		return nil, err
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO stock_adjustments (
			product_id, quantity_change, quantity_before, quantity_after,
			reason, adjustment_type, user_id, adjustment_date
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, adjustment.ProductID, adjustment.QuantityChange, adjustment.QuantityBefore, adjustment.QuantityAfter,
		adjustment.Reason, string(adjustment.AdjustmentType), adjustment.UserID, adjustment.AdjustmentDate).Scan(&adjustment.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &adjustment, nil
}

func (s *Store) ListStockAdjustments(ctx context.Context, limit int) ([]domain.StockAdjustment, error) {
	query := `
		SELECT a.id, a.product_id, p.name AS product_name, a.quantity_change,
		       a.quantity_before, a.quantity_after, a.reason, a.adjustment_type,
		       a.user_id, u.username, a.adjustment_date
		FROM stock_adjustments a
		JOIN products p ON p.id = a.product_id
		JOIN users u ON u.id = a.user_id
		ORDER BY a.adjustment_date DESC, a.id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	history := make([]domain.StockAdjustment, 0, 64)
	if err := s.db.SelectContext(ctx, &history, query, args...); err != nil {
		return nil, err
	}
	return history, nil
}

// lockProducts takes row locks in ascending id order so that two baskets
// touching the same products cannot deadlock. Missing ids are simply absent
// from the returned map.
func lockProducts(ctx context.Context, tx *sqlx.Tx, ids []int64) (map[int64]domain.Product, error) {
	locked := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return locked, nil
	}

	query, args, err := sqlx.In(`
		SELECT `+productColumns+`
		FROM products
		WHERE id IN (?)
		ORDER BY id
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(ids))
	if err := tx.SelectContext(ctx, &products, tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, product := range products {
		locked[product.ID] = product
	}
	return locked, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

func pgMessage(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Message
	}
	return err.Error()
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
