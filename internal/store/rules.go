package store

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
)

// MaxQuantity is the largest stock level or quantity change a row can hold.
// Quantities are stored in INTEGER columns.
const MaxQuantity = math.MaxInt32

// PriceSale checks every draft line against the locked product rows before
// anything is written, then prices the lines at the current product price.
// Lines for the same product are checked against their combined demand.
func PriceSale(draft domain.ReceiptDraft, products map[int64]domain.Product) ([]domain.Sale, decimal.Decimal, error) {
	if len(draft.Items) == 0 {
		return nil, decimal.Zero, Invalid("saleItems", "at least one item is required")
	}

	demand := make(map[int64]int, len(draft.Items))
	for _, item := range draft.Items {
		if item.Quantity <= 0 || item.Quantity > MaxQuantity {
			return nil, decimal.Zero, Invalid("quantity", "must be between 1 and %d, got %d", MaxQuantity, item.Quantity)
		}
		if _, ok := products[item.ProductID]; !ok {
			return nil, decimal.Zero, NotFound("product", item.ProductID)
		}
		demand[item.ProductID] += item.Quantity
		if demand[item.ProductID] > MaxQuantity {
			return nil, decimal.Zero, Invalid("quantity", "combined quantity for product %d exceeds %d", item.ProductID, MaxQuantity)
		}
	}
	for _, item := range draft.Items {
		product := products[item.ProductID]
		if requested := demand[item.ProductID]; product.Quantity < requested {
			return nil, decimal.Zero, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Quantity,
				Requested:   requested,
			}
		}
	}

	total := decimal.Zero
	sales := make([]domain.Sale, 0, len(draft.Items))
	for _, item := range draft.Items {
		product := products[item.ProductID]
		unitPrice := product.Price.Round(2)
		lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
		sales = append(sales, domain.Sale{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			TotalPrice:  lineTotal,
			SaleDate:    draft.TransactionDate,
		})
		total = total.Add(lineTotal)
	}

	// A zero tender means the till did not report one.
	tendered := draft.CashAmount.Add(draft.MpesaAmount)
	if tendered.IsPositive() && tendered.LessThan(total) {
		return nil, decimal.Zero, Invalid("payment", "tendered %s does not cover total %s", tendered.StringFixed(2), total.StringFixed(2))
	}

	return sales, total, nil
}

// ApplyAdjustment returns the product quantity after a signed change under
// the rules of the adjustment type.
func ApplyAdjustment(product domain.Product, kind domain.AdjustmentType, change int) (int, error) {
	if change == 0 {
		return 0, Invalid("quantityChange", "must not be zero")
	}
	if change > MaxQuantity || change < -MaxQuantity {
		return 0, Invalid("quantityChange", "must be within ±%d, got %d", MaxQuantity, change)
	}
	next := product.Quantity + change
	if next > MaxQuantity {
		return 0, Invalid("quantityChange", "would raise %s to %d, above %d", product.Name, next, MaxQuantity)
	}

	switch kind {
	case domain.AdjustmentAddition:
		if change < 0 {
			return 0, Invalid("quantityChange", "ADDITION requires a positive change, got %d", change)
		}
		if next < 0 {
			return 0, Invalid("quantityChange", "addition would leave %s at %d", product.Name, next)
		}
	case domain.AdjustmentSubtraction:
		if change > 0 {
			return 0, Invalid("quantityChange", "SUBTRACTION requires a negative change, got %d", change)
		}
		if next < 0 {
			return 0, &InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Available:   product.Quantity,
				Requested:   -change,
			}
		}
	case domain.AdjustmentCorrection:
		if next < 0 {
			return 0, Invalid("quantityChange", "correction would leave %s at %d", product.Name, next)
		}
	default:
		return 0, Invalid("adjustmentType", "unknown adjustment type %q", kind)
	}

	return next, nil
}
