package store

import (
	"context"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
)

type Repository interface {
	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	DeleteProduct(ctx context.Context, id int64) error

	// CreateReceipt prices the draft against locked product rows, deducts
	// stock and persists the receipt with its sales in one transaction.
	CreateReceipt(ctx context.Context, draft domain.ReceiptDraft) (*domain.Receipt, error)
	GetReceipt(ctx context.Context, id int64) (*domain.Receipt, error)
	ListReceipts(ctx context.Context, filter domain.ReceiptFilter) ([]domain.Receipt, error)
	// DeleteReceipt restores the stock taken by the receipt and removes it
	// together with its sales. The deleted receipt is returned.
	DeleteReceipt(ctx context.Context, id int64) (*domain.Receipt, error)
	ListSales(ctx context.Context) ([]domain.Sale, error)

	AdjustStock(ctx context.Context, adjustment domain.StockAdjustment) (*domain.StockAdjustment, error)
	ListStockAdjustments(ctx context.Context, limit int) ([]domain.StockAdjustment, error)
}
