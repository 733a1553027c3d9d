package memory

import (
	"cmp"
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
	"github.com/tonyb8121/Inventory-Management-System/internal/store"
)

// Store keeps everything behind a single RWMutex. Every write operation
// validates fully before it mutates, so a failed call leaves no trace.
type Store struct {
	mu              sync.RWMutex
	usersByID       map[int64]domain.User
	usersByUsername map[string]int64
	products        map[int64]domain.Product
	receipts        map[int64]*domain.Receipt
	receiptNumbers  map[string]int64
	adjustments     []domain.StockAdjustment
	nextUserID      int64
	nextProductID   int64
	nextReceiptID   int64
	nextSaleID      int64
	nextAdjustID    int64
}

func New() *Store {
	return &Store{
		usersByID:       make(map[int64]domain.User),
		usersByUsername: make(map[string]int64),
		products:        make(map[int64]domain.Product),
		receipts:        make(map[int64]*domain.Receipt),
		receiptNumbers:  make(map[string]int64),
		adjustments:     make([]domain.StockAdjustment, 0, 64),
	}
}

// NewSeeded returns a store with an owner, a cashier and a small catalogue
// for dev/demo mode. Passwords come from SEED_OWNER_PASSWORD and
// SEED_CASHIER_PASSWORD; the dev defaults are only used when those are unset.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()

	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		logger.Warn("memory store is using default dev credentials; set SEED_OWNER_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		s.nextUserID++
		s.usersByID[s.nextUserID] = domain.User{
			ID:        s.nextUserID,
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: time.Now().UTC(),
		}
		s.usersByUsername[u.username] = s.nextUserID
	}

	for _, p := range []struct {
		name  string
		price string
		qty   int
		min   int
	}{
		{"Soda 500ml", "50.00", 120, 24},
		{"White Bread 400g", "65.00", 40, 10},
		{"Fresh Milk 500ml", "60.00", 60, 12},
		{"Sugar 1kg", "160.00", 30, 10},
		{"Maize Flour 2kg", "190.00", 25, 8},
		{"Cooking Oil 1L", "320.00", 18, 6},
		{"Bar Soap", "120.00", 35, 10},
		{"Airtime Voucher 100", "100.00", 8, 10},
	} {
		s.nextProductID++
		s.products[s.nextProductID] = domain.Product{
			ID:            s.nextProductID,
			Name:          p.name,
			Price:         decimal.RequireFromString(p.price),
			Quantity:      p.qty,
			MinStockLevel: p.min,
			CreatedAt:     time.Now().UTC(),
			UpdatedAt:     time.Now().UTC(),
		}
	}

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateUser(_ context.Context, user domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return nil, store.Invalid("username", "username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return nil, store.ErrConflict
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.nextUserID++
	user.ID = s.nextUserID
	user.Username = username
	s.usersByID[user.ID] = user
	s.usersByUsername[username] = user.ID
	return &user, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.NotFound("user", username)
	}
	user := s.usersByID[id]
	return &user, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.User, 0, len(s.usersByID))
	for _, user := range s.usersByID {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.User) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("password", "username and password are required")
	}
	id, exists := s.usersByUsername[username]
	if !exists {
		return store.NotFound("user", username)
	}
	user := s.usersByID[id]
	user.Password = password
	s.usersByID[id] = user
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product.Name = strings.TrimSpace(product.Name)
	if product.Name == "" {
		return nil, store.Invalid("name", "product name is required")
	}
	if product.Price.IsNegative() || product.Quantity < 0 || product.MinStockLevel < 0 {
		return nil, store.Invalid("product", "price, quantity and minimum stock must not be negative")
	}
	if product.Quantity > store.MaxQuantity {
		return nil, store.Invalid("quantity", "must not exceed %d", store.MaxQuantity)
	}
	// Prices are kept in cents, like the NUMERIC(12,2) column.
	product.Price = product.Price.Round(2)
	now := time.Now().UTC()
	s.nextProductID++
	product.ID = s.nextProductID
	product.CreatedAt = now
	product.UpdatedAt = now
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.NotFound("product", id)
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		products = append(products, product)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return products, nil
}

// DeleteProduct removes a product unconditionally. Sales keep pointing at the
// missing id, which is how a later reversal can meet an integrity violation.
func (s *Store) DeleteProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return store.NotFound("product", id)
	}
	delete(s.products, id)
	return nil
}

func (s *Store) CreateReceipt(_ context.Context, draft domain.ReceiptDraft) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cashier, ok := s.usersByID[draft.CashierID]
	if !ok {
		return nil, store.NotFound("user", draft.CashierID)
	}
	if draft.ReceiptNumber == "" {
		return nil, store.Invalid("receiptNumber", "receipt number is required")
	}
	if _, taken := s.receiptNumbers[draft.ReceiptNumber]; taken {
		return nil, store.ErrConflict
	}

	locked := make(map[int64]domain.Product, len(draft.Items))
	for _, item := range draft.Items {
		if product, exists := s.products[item.ProductID]; exists {
			locked[item.ProductID] = product
		}
	}
	sales, total, err := store.PriceSale(draft, locked)
	if err != nil {
		return nil, err
	}

	if draft.TransactionDate.IsZero() {
		draft.TransactionDate = time.Now().UTC()
	}
	s.nextReceiptID++
	receipt := &domain.Receipt{
		ID:                 s.nextReceiptID,
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
	now := time.Now().UTC()
	for i := range receipt.Sales {
		s.nextSaleID++
		receipt.Sales[i].ID = s.nextSaleID
		receipt.Sales[i].ReceiptID = receipt.ID
		receipt.Sales[i].SaleDate = draft.TransactionDate

		product := s.products[receipt.Sales[i].ProductID]
		product.Quantity -= receipt.Sales[i].Quantity
		product.UpdatedAt = now
		s.products[product.ID] = product
	}

	s.receipts[receipt.ID] = receipt
	s.receiptNumbers[receipt.ReceiptNumber] = receipt.ID
	return cloneReceipt(receipt), nil
}

func (s *Store) GetReceipt(_ context.Context, id int64) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, ok := s.receipts[id]
	if !ok {
		return nil, store.NotFound("receipt", id)
	}
	return cloneReceipt(receipt), nil
}

func (s *Store) ListReceipts(_ context.Context, filter domain.ReceiptFilter) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(filter.ProductName))
	result := make([]domain.Receipt, 0, len(s.receipts))
	for _, receipt := range s.receipts {
		if filter.Start != nil && receipt.TransactionDate.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && receipt.TransactionDate.After(*filter.End) {
			continue
		}
		if filter.CashierID != nil && receipt.Cashier.ID != *filter.CashierID {
			continue
		}
		if filter.PaymentMethod != "" && receipt.PaymentMethod != filter.PaymentMethod {
			continue
		}
		if needle != "" && !s.receiptHasProductLike(receipt, needle) {
			continue
		}
		result = append(result, *cloneReceipt(receipt))
	}

	slices.SortFunc(result, func(a, b domain.Receipt) int {
		if c := b.TransactionDate.Compare(a.TransactionDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return result, nil
}

func (s *Store) receiptHasProductLike(receipt *domain.Receipt, needle string) bool {
	for _, sale := range receipt.Sales {
		name := sale.ProductName
		if product, ok := s.products[sale.ProductID]; ok {
			name = product.Name
		}
		if strings.Contains(strings.ToLower(name), needle) {
			return true
		}
	}
	return false
}

func (s *Store) DeleteReceipt(_ context.Context, id int64) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, ok := s.receipts[id]
	if !ok {
		return nil, store.NotFound("receipt", id)
	}
	for _, sale := range receipt.Sales {
		if _, exists := s.products[sale.ProductID]; !exists {
			return nil, store.Integrity("receipt %s references deleted product %d", receipt.ReceiptNumber, sale.ProductID)
		}
	}

	now := time.Now().UTC()
	for _, sale := range receipt.Sales {
		product := s.products[sale.ProductID]
		product.Quantity += sale.Quantity
		product.UpdatedAt = now
		s.products[product.ID] = product
	}
	delete(s.receipts, id)
	delete(s.receiptNumbers, receipt.ReceiptNumber)
	return cloneReceipt(receipt), nil
}

func (s *Store) ListSales(_ context.Context) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]domain.Sale, 0, len(s.receipts)*2)
	for _, receipt := range s.receipts {
		sales = append(sales, receipt.Sales...)
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := b.SaleDate.Compare(a.SaleDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return sales, nil
}

func (s *Store) AdjustStock(_ context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.usersByID[adjustment.UserID]
	if !ok {
		return nil, store.NotFound("user", adjustment.UserID)
	}
	product, ok := s.products[adjustment.ProductID]
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
	s.nextAdjustID++
	adjustment.ID = s.nextAdjustID
	adjustment.ProductName = product.Name
	adjustment.Username = user.Username
	adjustment.QuantityBefore = product.Quantity
	adjustment.QuantityAfter = next

	product.Quantity = next
	product.UpdatedAt = adjustment.AdjustmentDate
	s.products[product.ID] = product
	s.adjustments = append(s.adjustments, adjustment)
	return &adjustment, nil
}

func (s *Store) ListStockAdjustments(_ context.Context, limit int) ([]domain.StockAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]domain.StockAdjustment, len(s.adjustments))
	copy(history, s.adjustments)
	slices.SortStableFunc(history, func(a, b domain.StockAdjustment) int {
		if c := b.AdjustmentDate.Compare(a.AdjustmentDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	return history, nil
}

func cloneReceipt(src *domain.Receipt) *domain.Receipt {
	if src == nil {
		return nil
	}
	dup := *src
	dup.Sales = make([]domain.Sale, len(src.Sales))
	copy(dup.Sales, src.Sales)
	return &dup
}
