package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jinzhu/copier"
	"github.com/voicedesk/voicequote/internal/crm"
	"github.com/voicedesk/voicequote/internal/domain"
	"github.com/voicedesk/voicequote/pkg/logger"
	"go.uber.org/zap"
)

// DefaultCatalogTTL is how long a fetched product catalog stays fresh.
// The catalog changes rarely compared to call volume, so every concurrent
// call shares one CRM read per window.
const DefaultCatalogTTL = 5 * time.Minute

// CatalogCache wraps a CRM backend and memoizes the product catalog.
// All other backend operations pass straight through.
type CatalogCache struct {
	crm.Backend

	ttl       time.Duration
	mutex     sync.RWMutex
	products  []domain.Product
	fetchedAt time.Time
}

// NewCatalogCache wraps the given backend with catalog memoization
func NewCatalogCache(backend crm.Backend, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &CatalogCache{Backend: backend, ttl: ttl}
}

// ListActiveProducts returns a deep copy of the cached catalog, refreshing
// from the CRM when the cache is cold or stale. A failed refresh serves the
// stale catalog when one exists, so a CRM blip does not break matching.
func (c *CatalogCache) ListActiveProducts(ctx context.Context) ([]domain.Product, error) {
	c.mutex.RLock()
	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl {
		products := copyProducts(c.products)
		c.mutex.RUnlock()
		return products, nil
	}
	c.mutex.RUnlock()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	// Another goroutine may have refreshed while we waited for the lock
	if !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl {
		return copyProducts(c.products), nil
	}

	products, err := c.Backend.ListActiveProducts(ctx)
	if err != nil {
		if c.fetchedAt.IsZero() {
			return nil, err
		}
		logger.Base().Warn("catalog refresh failed, serving stale catalog",
			zap.Int("cached_products", len(c.products)),
			zap.Error(err))
		return copyProducts(c.products), nil
	}

	c.products = products
	c.fetchedAt = time.Now()
	logger.Base().Info("product catalog refreshed", zap.Int("products", len(products)))
	return copyProducts(c.products), nil
}

// Invalidate drops the cached catalog so the next read hits the CRM
func (c *CatalogCache) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.products = nil
	c.fetchedAt = time.Time{}
}

// copyProducts deep copies the catalog so callers cannot mutate the cache
func copyProducts(products []domain.Product) []domain.Product {
	if products == nil {
		return nil
	}
	var out []domain.Product
	if err := copier.CopyWithOption(&out, &products, copier.Option{DeepCopy: true}); err != nil {
		logger.Base().Warn("failed to copy product catalog", zap.Error(err))
		return append([]domain.Product(nil), products...)
	}
	return out
}
