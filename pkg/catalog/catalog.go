package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"storefront/pkg/cache"
	"storefront/pkg/domain"
	"storefront/pkg/kv"
)

// ResourceKey is the cache key for the product catalog document.
const ResourceKey = "products"

// Catalog serves the product list through a cached fetch resource. Records
// are re-exposed verbatim from the upstream JSON document.
type Catalog struct {
	resource *cache.Resource
}

// New builds a catalog over the product resource URL and an ephemeral store.
func New(url string, ephemeral kv.Store, opts ...cache.Option) *Catalog {
	return &Catalog{resource: cache.New(ResourceKey, url, ephemeral, opts...)}
}

// Products returns the catalog, from cache when fresh.
func (c *Catalog) Products(ctx context.Context) ([]domain.Product, error) {
	data, err := c.resource.Load(ctx)
	if err != nil {
		return nil, err
	}
	var products []domain.Product
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}
	return products, nil
}

// ProductByID finds one catalog record.
func (c *Catalog) ProductByID(ctx context.Context, id string) (domain.Product, bool, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return domain.Product{}, false, err
	}
	for _, p := range products {
		if p.ID == id {
			return p, true, nil
		}
	}
	return domain.Product{}, false, nil
}

// BySeller filters the catalog by seller id.
func (c *Catalog) BySeller(ctx context.Context, sellerID string) ([]domain.Product, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Product
	for _, p := range products {
		if p.SellerID == sellerID {
			out = append(out, p)
		}
	}
	return out, nil
}

// Categories returns the distinct category names, sorted.
func (c *Catalog) Categories(ctx context.Context) ([]string, error) {
	products, err := c.Products(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []string
	for _, p := range products {
		if p.Category == "" {
			continue
		}
		if _, ok := seen[p.Category]; !ok {
			seen[p.Category] = struct{}{}
			out = append(out, p.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

// ForceRefetch drops the cached document and reloads.
func (c *Catalog) ForceRefetch(ctx context.Context) ([]domain.Product, error) {
	if _, err := c.resource.ForceRefetch(ctx); err != nil {
		return nil, err
	}
	return c.Products(ctx)
}

// Snapshot exposes the resource's data/loading/error view.
func (c *Catalog) Snapshot() cache.Snapshot { return c.resource.Snapshot() }

// Close tears the underlying resource down.
func (c *Catalog) Close() { c.resource.Close() }
