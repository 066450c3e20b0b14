package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"storefront/pkg/kv"
)

const payload = `[
  {"id":"p1","name":"Shirt","price":10,"category":"Tops","sellerId":"seller-1"},
  {"id":"p2","name":"Jeans","price":25,"category":"Bottoms","sellerId":"seller-2"},
  {"id":"p3","name":"Tee","price":8,"category":"Tops","sellerId":"seller-1"}
]`

func testCatalog(t *testing.T) (*Catalog, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, kv.NewMemoryStore()), &calls
}

func TestProductsCachedAcrossCalls(t *testing.T) {
	ctx := context.Background()
	c, calls := testCatalog(t)

	products, err := c.Products(ctx)
	if err != nil {
		t.Fatalf("products: %v", err)
	}
	if len(products) != 3 || products[0].ID != "p1" {
		t.Fatalf("unexpected products: %+v", products)
	}

	if _, err := c.Products(ctx); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("second call should hit the cache, got %d fetches", calls.Load())
	}
}

func TestProductByIDAndBySeller(t *testing.T) {
	ctx := context.Background()
	c, _ := testCatalog(t)

	p, ok, err := c.ProductByID(ctx, "p2")
	if err != nil || !ok || p.Name != "Jeans" {
		t.Fatalf("product by id: ok=%v err=%v p=%+v", ok, err, p)
	}
	if _, ok, _ := c.ProductByID(ctx, "nope"); ok {
		t.Fatalf("unknown id must report absent")
	}

	mine, err := c.BySeller(ctx, "seller-1")
	if err != nil || len(mine) != 2 {
		t.Fatalf("by seller: err=%v n=%d", err, len(mine))
	}
}

func TestCategoriesDistinctSorted(t *testing.T) {
	ctx := context.Background()
	c, _ := testCatalog(t)

	cats, err := c.Categories(ctx)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 2 || cats[0] != "Bottoms" || cats[1] != "Tops" {
		t.Fatalf("unexpected categories: %v", cats)
	}
}

func TestForceRefetchHitsNetwork(t *testing.T) {
	ctx := context.Background()
	c, calls := testCatalog(t)

	if _, err := c.Products(ctx); err != nil {
		t.Fatalf("products: %v", err)
	}
	if _, err := c.ForceRefetch(ctx); err != nil {
		t.Fatalf("force refetch: %v", err)
	}
	if calls.Load() < 2 {
		t.Fatalf("force refetch must hit the network, got %d fetches", calls.Load())
	}
}
