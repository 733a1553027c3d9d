package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleOwner   = "OWNER"
	RoleCashier = "CASHIER"
)

type PaymentMethod string

const (
	PaymentCash  PaymentMethod = "CASH"
	PaymentMpesa PaymentMethod = "MPESA"
	PaymentMixed PaymentMethod = "MIXED"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentMpesa, PaymentMixed:
		return true
	}
	return false
}

type AdjustmentType string

const (
	AdjustmentAddition    AdjustmentType = "ADDITION"
	AdjustmentSubtraction AdjustmentType = "SUBTRACTION"
	AdjustmentCorrection  AdjustmentType = "CORRECTION"
)

func (t AdjustmentType) Valid() bool {
	switch t {
	case AdjustmentAddition, AdjustmentSubtraction, AdjustmentCorrection:
		return true
	}
	return false
}

type Product struct {
	ID            int64           `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Quantity      int             `json:"quantity" db:"quantity"`
	MinStockLevel int             `json:"minStockLevel" db:"min_stock_level"`
	CategoryID    *int64          `json:"categoryId,omitempty" db:"category_id"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

type Actor struct {
	Username string `json:"username"`
	Role     string `json:"role"`
}

type User struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Password  string    `json:"-" db:"password"`
	Role      string    `json:"role" db:"role"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

type Cashier struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type Sale struct {
	ID          int64           `json:"id" db:"id"`
	ReceiptID   int64           `json:"receiptId" db:"receipt_id"`
	ProductID   int64           `json:"productId" db:"product_id"`
	ProductName string          `json:"productName" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice" db:"unit_price"`
	TotalPrice  decimal.Decimal `json:"totalPrice" db:"total_price"`
	SaleDate    time.Time       `json:"saleDate" db:"sale_date"`
}

type Receipt struct {
	ID                 int64           `json:"id"`
	ReceiptNumber      string          `json:"receiptNumber"`
	Cashier            Cashier         `json:"cashier"`
	TransactionDate    time.Time       `json:"transactionDate"`
	TotalAmount        decimal.Decimal `json:"totalAmount"`
	PaymentMethod      PaymentMethod   `json:"paymentMethod"`
	CashAmount         decimal.Decimal `json:"cashAmount"`
	MpesaAmount        decimal.Decimal `json:"mpesaAmount"`
	MpesaTransactionID string          `json:"mpesaTransactionId,omitempty"`
	Sales              []Sale          `json:"sales"`
}

type SaleItem struct {
	ProductID int64 `json:"productId"`
	Quantity  int   `json:"quantity"`
}

type RecordSaleRequest struct {
	SaleItems          []SaleItem      `json:"saleItems"`
	PaymentMethod      PaymentMethod   `json:"paymentMethod"`
	CashAmount         decimal.Decimal `json:"cashAmount"`
	MpesaAmount        decimal.Decimal `json:"mpesaAmount"`
	MpesaTransactionID string          `json:"mpesaTransactionId"`
}

// ReceiptDraft is a validated sale on its way into the store. Prices and
// totals are filled in by the store under the product row locks.
type ReceiptDraft struct {
	ReceiptNumber      string
	CashierID          int64
	TransactionDate    time.Time
	PaymentMethod      PaymentMethod
	CashAmount         decimal.Decimal
	MpesaAmount        decimal.Decimal
	MpesaTransactionID string
	Items              []SaleItem
}

type ReceiptFilter struct {
	Start         *time.Time
	End           *time.Time
	CashierID     *int64
	PaymentMethod PaymentMethod
	ProductName   string
}

type StockAdjustmentRequest struct {
	ProductID      int64          `json:"productId"`
	QuantityChange int            `json:"quantityChange"`
	Reason         string         `json:"reason"`
	AdjustmentType AdjustmentType `json:"adjustmentType"`
}

type StockAdjustment struct {
	ID             int64          `json:"id" db:"id"`
	ProductID      int64          `json:"productId" db:"product_id"`
	ProductName    string         `json:"productName" db:"product_name"`
	QuantityChange int            `json:"quantityChange" db:"quantity_change"`
	QuantityBefore int            `json:"quantityBefore" db:"quantity_before"`
	QuantityAfter  int            `json:"quantityAfter" db:"quantity_after"`
	Reason         string         `json:"reason" db:"reason"`
	AdjustmentType AdjustmentType `json:"adjustmentType" db:"adjustment_type"`
	UserID         int64          `json:"userId" db:"user_id"`
	Username       string         `json:"username" db:"username"`
	AdjustmentDate time.Time      `json:"adjustmentDate" db:"adjustment_date"`
}

type LowStockItem struct {
	ProductID          int64  `json:"productId"`
	Name               string `json:"name"`
	Quantity           int    `json:"quantity"`
	MinStockLevel      int    `json:"minStockLevel"`
	Shortfall          int    `json:"shortfall"`
	RecommendedReorder int    `json:"recommendedReorder"`
}

type LowStockResponse struct {
	GeneratedAt string         `json:"generatedAt"`
	Items       []LowStockItem `json:"items"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"accessToken"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expiresAt"`
}
