package cache

import (
	"context"
	"time"

	"github.com/EnZo1826/SmartPOS/internal/domain"
)

// CatalogCache holds recently computed catalog delta pages so repeated
// pulls with the same watermark do not re-resolve every product.
type CatalogCache interface {
	Get(ctx context.Context, key string) (*domain.CatalogDelta, bool, error)
	Set(ctx context.Context, key string, value *domain.CatalogDelta, ttl time.Duration) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) (*domain.CatalogDelta, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ *domain.CatalogDelta, _ time.Duration) error {
	return nil
}
