package recommendation

import (
	"sort"
	"time"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
)

// Engine turns stock levels and recent sales into restock suggestions.
type Engine struct {
	targetMultiplier int
	lookback         time.Duration
}

func NewEngine(targetMultiplier int, lookback time.Duration) *Engine {
	if targetMultiplier < 1 {
		targetMultiplier = 2
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}

	return &Engine{
		targetMultiplier: targetMultiplier,
		lookback:         lookback,
	}
}

// IsLow reports whether a product has fallen to or below its threshold.
func (e *Engine) IsLow(product domain.Product) bool {
	return product.Quantity <= product.MinStockLevel
}

// Reorder lists every low product with the quantity needed to get back to
// the target level. The target is the threshold times the multiplier, raised
// to the units sold within the lookback window when those are higher.
func (e *Engine) Reorder(products []domain.Product, sales []domain.Sale, now time.Time) domain.LowStockResponse {
	since := now.Add(-e.lookback)
	velocity := make(map[int64]int, len(products))
	for _, sale := range sales {
		if sale.SaleDate.Before(since) {
			continue
		}
		velocity[sale.ProductID] += sale.Quantity
	}

	items := make([]domain.LowStockItem, 0, 16)
	for _, product := range products {
		if !e.IsLow(product) {
			continue
		}

		target := product.MinStockLevel * e.targetMultiplier
		if sold := velocity[product.ID]; sold > target {
			target = sold
		}
		recommended := target - product.Quantity
		if recommended < 1 {
			recommended = 1
		}

		items = append(items, domain.LowStockItem{
			ProductID:          product.ID,
			Name:               product.Name,
			Quantity:           product.Quantity,
			MinStockLevel:      product.MinStockLevel,
			Shortfall:          product.MinStockLevel - product.Quantity,
			RecommendedReorder: recommended,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].Quantity != items[j].Quantity {
			return items[i].Quantity < items[j].Quantity
		}
		if items[i].Shortfall != items[j].Shortfall {
			return items[i].Shortfall > items[j].Shortfall
		}
		return items[i].Name < items[j].Name
	})

	return domain.LowStockResponse{
		GeneratedAt: now.UTC().Format(time.RFC3339),
		Items:       items,
	}
}
