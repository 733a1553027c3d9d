package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tonyb8121/Inventory-Management-System/internal/cache"
	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
	"github.com/tonyb8121/Inventory-Management-System/internal/recommendation"
	"github.com/tonyb8121/Inventory-Management-System/internal/store"
	"github.com/tonyb8121/Inventory-Management-System/internal/xid"
)

const receiptNumberAttempts = 3

type Service struct {
	repo     store.Repository
	receipts cache.ReceiptCache
	cacheTTL time.Duration
	restock  *recommendation.Engine
	logger   *zap.Logger
	now      func() time.Time
}

func New(repo store.Repository, receipts cache.ReceiptCache, cacheTTL time.Duration, restock *recommendation.Engine, logger *zap.Logger) *Service {
	if receipts == nil {
		receipts = cache.NoopReceiptCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if restock == nil {
		restock = recommendation.NewEngine(2, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		repo:     repo,
		receipts: receipts,
		cacheTTL: cacheTTL,
		restock:  restock,
		logger:   logger.Named("service"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RecordSale validates the basket, then hands it to the store which deducts
// stock and writes the receipt atomically. Nothing is written when any line
// fails.
func (s *Service) RecordSale(ctx context.Context, actor domain.Actor, req domain.RecordSaleRequest) (domain.Receipt, error) {
	items, err := validateSale(req)
	if err != nil {
		return domain.Receipt{}, err
	}

	cashier, err := s.resolveActor(ctx, actor)
	if err != nil {
		return domain.Receipt{}, err
	}

	draft := domain.ReceiptDraft{
		CashierID:          cashier.ID,
		PaymentMethod:      req.PaymentMethod,
		CashAmount:         req.CashAmount,
		MpesaAmount:        req.MpesaAmount,
		MpesaTransactionID: strings.TrimSpace(req.MpesaTransactionID),
		Items:              items,
	}

	var receipt *domain.Receipt
	for attempt := 1; attempt <= receiptNumberAttempts; attempt++ {
		draft.TransactionDate = s.now()
		draft.ReceiptNumber = xid.ReceiptNumber(draft.TransactionDate)
		receipt, err = s.repo.CreateReceipt(ctx, draft)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		s.logger.Warn("receipt number collision, retrying",
			zap.String("receipt_number", draft.ReceiptNumber),
			zap.Int("attempt", attempt))
	}
	if err != nil {
		return domain.Receipt{}, err
	}

	s.logger.Info("sale recorded",
		zap.String("receipt_number", receipt.ReceiptNumber),
		zap.String("cashier", receipt.Cashier.Username),
		zap.String("payment_method", string(receipt.PaymentMethod)),
		zap.String("total", receipt.TotalAmount.StringFixed(2)),
		zap.Int("lines", len(receipt.Sales)))

	if err := s.receipts.Set(ctx, receipt, s.cacheTTL); err != nil {
		s.logger.Warn("cache receipt", zap.Int64("receipt_id", receipt.ID), zap.Error(err))
	}

	productIDs := make([]int64, 0, len(receipt.Sales))
	for _, sale := range receipt.Sales {
		productIDs = append(productIDs, sale.ProductID)
	}
	s.warnLowStock(ctx, productIDs...)

	return *receipt, nil
}

// ReverseReceipt deletes a receipt and gives back exactly the stock it took.
func (s *Service) ReverseReceipt(ctx context.Context, actor domain.Actor, receiptID int64) error {
	if receiptID <= 0 {
		return store.NotFound("receipt", receiptID)
	}
	user, err := s.resolveActor(ctx, actor)
	if err != nil {
		return err
	}

	receipt, err := s.repo.DeleteReceipt(ctx, receiptID)
	if err != nil {
		return err
	}

	if err := s.receipts.Invalidate(ctx, receiptID, s.cacheTTL); err != nil {
		s.logger.Error("invalidate cached receipt", zap.Int64("receipt_id", receiptID), zap.Error(err))
	}

	restored := 0
	for _, sale := range receipt.Sales {
		restored += sale.Quantity
	}
	s.logger.Info("receipt reversed",
		zap.String("receipt_number", receipt.ReceiptNumber),
		zap.String("actor", user.Username),
		zap.String("total", receipt.TotalAmount.StringFixed(2)),
		zap.Int("units_restored", restored))
	return nil
}

func (s *Service) AdjustStock(ctx context.Context, actor domain.Actor, req domain.StockAdjustmentRequest) (domain.StockAdjustment, error) {
	reason := strings.TrimSpace(req.Reason)
	if req.ProductID <= 0 {
		return domain.StockAdjustment{}, store.Invalid("productId", "product id is required")
	}
	if reason == "" {
		return domain.StockAdjustment{}, store.Invalid("reason", "reason is required")
	}
	if req.QuantityChange == 0 {
		return domain.StockAdjustment{}, store.Invalid("quantityChange", "must not be zero")
	}
	if req.QuantityChange > store.MaxQuantity || req.QuantityChange < -store.MaxQuantity {
		return domain.StockAdjustment{}, store.Invalid("quantityChange", "must be within ±%d", store.MaxQuantity)
	}
	if !req.AdjustmentType.Valid() {
		return domain.StockAdjustment{}, store.Invalid("adjustmentType", "must be one of ADDITION, SUBTRACTION, CORRECTION")
	}

	user, err := s.resolveActor(ctx, actor)
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	adjustment, err := s.repo.AdjustStock(ctx, domain.StockAdjustment{
		ProductID:      req.ProductID,
		QuantityChange: req.QuantityChange,
		Reason:         reason,
		AdjustmentType: req.AdjustmentType,
		UserID:         user.ID,
		AdjustmentDate: s.now(),
	})
	if err != nil {
		return domain.StockAdjustment{}, err
	}

	s.logger.Info("stock adjusted",
		zap.Int64("product_id", adjustment.ProductID),
		zap.String("type", string(adjustment.AdjustmentType)),
		zap.Int("change", adjustment.QuantityChange),
		zap.Int("quantity_after", adjustment.QuantityAfter),
		zap.String("actor", user.Username))
	s.warnLowStock(ctx, adjustment.ProductID)

	return *adjustment, nil
}

func (s *Service) GetReceipt(ctx context.Context, receiptID int64) (domain.Receipt, error) {
	if receiptID <= 0 {
		return domain.Receipt{}, store.NotFound("receipt", receiptID)
	}

	if cached, ok, err := s.receipts.Get(ctx, receiptID); err != nil {
		s.logger.Warn("read cached receipt", zap.Int64("receipt_id", receiptID), zap.Error(err))
	} else if ok {
		return *cached, nil
	}

	receipt, err := s.repo.GetReceipt(ctx, receiptID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if err := s.receipts.Set(ctx, receipt, s.cacheTTL); err != nil {
		s.logger.Warn("cache receipt", zap.Int64("receipt_id", receipt.ID), zap.Error(err))
	}
	return *receipt, nil
}

func (s *Service) ListReceipts(ctx context.Context, filter domain.ReceiptFilter) ([]domain.Receipt, error) {
	if filter.Start != nil && filter.End != nil && filter.Start.After(*filter.End) {
		return nil, store.Invalid("startDate", "must not be after endDate")
	}
	if filter.PaymentMethod != "" && !filter.PaymentMethod.Valid() {
		return nil, store.Invalid("paymentMethod", "must be one of CASH, MPESA, MIXED")
	}
	filter.ProductName = strings.TrimSpace(filter.ProductName)
	return s.repo.ListReceipts(ctx, filter)
}

func (s *Service) StockAdjustmentHistory(ctx context.Context, limit int) ([]domain.StockAdjustment, error) {
	return s.repo.ListStockAdjustments(ctx, limit)
}

func (s *Service) ListSales(ctx context.Context) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx)
}

func (s *Service) LowStockProducts(ctx context.Context) (domain.LowStockResponse, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.LowStockResponse{}, err
	}
	sales, err := s.repo.ListSales(ctx)
	if err != nil {
		return domain.LowStockResponse{}, err
	}
	return s.restock.Reorder(products, sales, s.now()), nil
}

func (s *Service) resolveActor(ctx context.Context, actor domain.Actor) (*domain.User, error) {
	username := strings.TrimSpace(actor.Username)
	if username == "" {
		return nil, store.NotFound("user", "(anonymous)")
	}
	user, err := s.repo.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, store.NotFound("user", user.Username)
	}
	return user, nil
}

func (s *Service) warnLowStock(ctx context.Context, productIDs ...int64) {
	seen := make(map[int64]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		product, err := s.repo.GetProduct(ctx, id)
		if err != nil {
			s.logger.Debug("low stock check skipped", zap.Int64("product_id", id), zap.Error(err))
			continue
		}
		if s.restock.IsLow(*product) {
			s.logger.Warn("product at or below minimum stock",
				zap.Int64("product_id", product.ID),
				zap.String("name", product.Name),
				zap.Int("quantity", product.Quantity),
				zap.Int("min_stock_level", product.MinStockLevel))
		}
	}
}

func validateSale(req domain.RecordSaleRequest) ([]domain.SaleItem, error) {
	if len(req.SaleItems) == 0 {
		return nil, store.Invalid("saleItems", "at least one item is required")
	}
	for i, item := range req.SaleItems {
		if item.ProductID <= 0 {
			return nil, store.Invalid(fmt.Sprintf("saleItems[%d].productId", i), "product id is required")
		}
		if item.Quantity <= 0 || item.Quantity > store.MaxQuantity {
			return nil, store.Invalid(fmt.Sprintf("saleItems[%d].quantity", i), "must be between 1 and %d, got %d", store.MaxQuantity, item.Quantity)
		}
	}

	if !req.PaymentMethod.Valid() {
		return nil, store.Invalid("paymentMethod", "must be one of CASH, MPESA, MIXED")
	}
	if req.CashAmount.IsNegative() || req.MpesaAmount.IsNegative() {
		return nil, store.Invalid("payment", "amounts must not be negative")
	}
	switch req.PaymentMethod {
	case domain.PaymentMpesa:
		if strings.TrimSpace(req.MpesaTransactionID) == "" {
			return nil, store.Invalid("mpesaTransactionId", "required for MPESA payments")
		}
	case domain.PaymentMixed:
		if strings.TrimSpace(req.MpesaTransactionID) == "" {
			return nil, store.Invalid("mpesaTransactionId", "required for MIXED payments")
		}
		if !req.CashAmount.IsPositive() || !req.MpesaAmount.IsPositive() {
			return nil, store.Invalid("payment", "MIXED payments need both a cash and an M-Pesa amount")
		}
	}

	return normalizeItems(req.SaleItems)
}

// normalizeItems merges repeated products into one line, keeping the order in
// which products first appear. Line quantities are already within
// store.MaxQuantity, so the running sum cannot wrap before it is checked.
func normalizeItems(items []domain.SaleItem) ([]domain.SaleItem, error) {
	index := make(map[int64]int, len(items))
	merged := make([]domain.SaleItem, 0, len(items))
	for i, item := range items {
		if at, ok := index[item.ProductID]; ok {
			merged[at].Quantity += item.Quantity
			if merged[at].Quantity > store.MaxQuantity {
				return nil, store.Invalid(fmt.Sprintf("saleItems[%d].quantity", i),
					"combined quantity for product %d exceeds %d", item.ProductID, store.MaxQuantity)
			}
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, item)
	}
	return merged, nil
}
