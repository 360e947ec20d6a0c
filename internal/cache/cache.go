// Package cache mirrors confirmed stock values for fast reads. Entries are
// written only after a successful ledger call, never speculatively.
package cache

import (
	"context"

	"innovaclean/backend/internal/domain"
)

type StockCache interface {
	Get(ctx context.Context, sku string) (*domain.StockSnapshot, bool, error)
	// Put stores the snapshot unless a newer version is already present.
	Put(ctx context.Context, snapshot domain.StockSnapshot) error
}

type NoopStockCache struct{}

func (NoopStockCache) Get(_ context.Context, _ string) (*domain.StockSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopStockCache) Put(_ context.Context, _ domain.StockSnapshot) error {
	return nil
}
