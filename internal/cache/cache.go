package cache

import (
	"context"
	"time"

	"github.com/tonyb8121/Inventory-Management-System/internal/domain"
)

// ReceiptCache holds receipts by id. Receipts never change after they are
// written, so the only invalidation needed is on deletion.
//
// Invalidate leaves a tombstone for ttl. Set never replaces an existing entry,
// so a read that loaded the row before a reversal cannot cache it again.
type ReceiptCache interface {
	Get(ctx context.Context, id int64) (*domain.Receipt, bool, error)
	Set(ctx context.Context, receipt *domain.Receipt, ttl time.Duration) error
	Invalidate(ctx context.Context, id int64, ttl time.Duration) error
}

type NoopReceiptCache struct{}

func (NoopReceiptCache) Get(_ context.Context, _ int64) (*domain.Receipt, bool, error) {
	return nil, false, nil
}

func (NoopReceiptCache) Set(_ context.Context, _ *domain.Receipt, _ time.Duration) error {
	return nil
}

func (NoopReceiptCache) Invalidate(_ context.Context, _ int64, _ time.Duration) error {
	return nil
}
