package products

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"storefront/pkg/domain"
	"storefront/pkg/kv"
	"storefront/pkg/storage"
)

// CustomProductsKey is the durable key holding seller-created products.
const CustomProductsKey = "products.custom"

var (
	// ErrSellerOnly is returned when a non-seller tries to manage products.
	ErrSellerOnly = errors.New("only signed-in sellers can manage products")
	// ErrNotOwner is returned when a seller touches another seller's product.
	ErrNotOwner = errors.New("product belongs to another seller")
	// ErrProductNotFound is returned for unknown or non-editable product ids.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidProduct is returned for listings missing required fields.
	ErrInvalidProduct = errors.New("product needs a name and a positive price")
	// ErrNoImageStore is returned when image upload is not configured.
	ErrNoImageStore = errors.New("image storage is not configured")
)

// CatalogSource provides the seed catalog records.
type CatalogSource interface {
	Products(ctx context.Context) ([]domain.Product, error)
}

// Manager handles seller-created listings. Seed catalog records are
// read-only; only runtime products can be edited or deleted.
type Manager struct {
	durable kv.Store
	catalog CatalogSource
	images  storage.ImageStore
	log     *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// Option customizes a Manager.
type Option func(*Manager)

// WithImageStore enables product image upload.
func WithImageStore(images storage.ImageStore) Option {
	return func(m *Manager) { m.images = images }
}

// WithNow overrides the clock used for id generation.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New builds a manager over durable storage and the seed catalog.
func New(durable kv.Store, catalog CatalogSource, log *slog.Logger, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{durable: durable, catalog: catalog, log: log, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// All merges the seed catalog with runtime products, seed records first.
func (m *Manager) All(ctx context.Context) ([]domain.Product, error) {
	seed, err := m.catalog.Products(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	runtime, err := m.loadRuntime(ctx)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return append(seed, runtime...), nil
}

// ForSeller returns the seller's listings across seed and runtime records.
func (m *Manager) ForSeller(ctx context.Context, sellerID string) ([]domain.Product, error) {
	all, err := m.All(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Product
	for _, p := range all {
		if p.SellerID == sellerID {
			out = append(out, p)
		}
	}
	return out, nil
}

// Create adds a new listing owned by the seller.
func (m *Manager) Create(ctx context.Context, seller domain.Principal, p domain.Product) (domain.Product, error) {
	if seller.ID == "" || seller.Role != domain.RoleSeller {
		return domain.Product{}, ErrSellerOnly
	}
	if strings.TrimSpace(p.Name) == "" || p.Price <= 0 {
		return domain.Product{}, ErrInvalidProduct
	}
	p.ID = fmt.Sprintf("product-custom-%d", m.now().UnixMilli())
	p.SellerID = seller.ID
	p.Reviews = nil
	p.AverageRating = 0
	p.NumberOfReviews = 0

	m.mu.Lock()
	defer m.mu.Unlock()
	runtime, err := m.loadRuntime(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	runtime = append(runtime, p)
	if err := m.durable.Set(ctx, CustomProductsKey, runtime); err != nil {
		return domain.Product{}, fmt.Errorf("persist products: %w", err)
	}
	return p, nil
}

// Update replaces an editable listing's fields. The id, owner, and review
// data are preserved.
func (m *Manager) Update(ctx context.Context, seller domain.Principal, p domain.Product) (domain.Product, error) {
	if seller.ID == "" || seller.Role != domain.RoleSeller {
		return domain.Product{}, ErrSellerOnly
	}
	if strings.TrimSpace(p.Name) == "" || p.Price <= 0 {
		return domain.Product{}, ErrInvalidProduct
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	runtime, err := m.loadRuntime(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	for i := range runtime {
		if runtime[i].ID != p.ID {
			continue
		}
		if runtime[i].SellerID != seller.ID {
			return domain.Product{}, ErrNotOwner
		}
		runtime[i].Name = p.Name
		runtime[i].Description = p.Description
		runtime[i].Price = p.Price
		runtime[i].Category = p.Category
		if p.Image != "" {
			runtime[i].Image = p.Image
		}
		if err := m.durable.Set(ctx, CustomProductsKey, runtime); err != nil {
			return domain.Product{}, fmt.Errorf("persist products: %w", err)
		}
		return runtime[i], nil
	}
	return domain.Product{}, ErrProductNotFound
}

// Delete removes an editable listing.
func (m *Manager) Delete(ctx context.Context, seller domain.Principal, productID string) error {
	if seller.ID == "" || seller.Role != domain.RoleSeller {
		return ErrSellerOnly
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	runtime, err := m.loadRuntime(ctx)
	if err != nil {
		return err
	}
	for i := range runtime {
		if runtime[i].ID != productID {
			continue
		}
		if runtime[i].SellerID != seller.ID {
			return ErrNotOwner
		}
		image := runtime[i].Image
		runtime = append(runtime[:i], runtime[i+1:]...)
		if err := m.durable.Set(ctx, CustomProductsKey, runtime); err != nil {
			return fmt.Errorf("persist products: %w", err)
		}
		if m.images != nil && strings.HasPrefix(image, "products/") {
			if err := m.images.RemoveImage(ctx, image); err != nil {
				m.log.Warn("remove product image failed", "key", image, "error", err)
			}
		}
		return nil
	}
	return ErrProductNotFound
}

// AttachImage uploads a listing image and records its object key on the
// product. It returns a presigned URL for immediate display.
func (m *Manager) AttachImage(ctx context.Context, seller domain.Principal, productID string, r io.Reader, size int64, contentType string) (string, error) {
	if seller.ID == "" || seller.Role != domain.RoleSeller {
		return "", ErrSellerOnly
	}
	if m.images == nil {
		return "", ErrNoImageStore
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	runtime, err := m.loadRuntime(ctx)
	if err != nil {
		return "", err
	}
	for i := range runtime {
		if runtime[i].ID != productID {
			continue
		}
		if runtime[i].SellerID != seller.ID {
			return "", ErrNotOwner
		}
		key, err := m.images.PutImage(ctx, productID, r, size, contentType)
		if err != nil {
			return "", err
		}
		runtime[i].Image = key
		if err := m.durable.Set(ctx, CustomProductsKey, runtime); err != nil {
			return "", fmt.Errorf("persist products: %w", err)
		}
		return m.images.ImageURL(ctx, key)
	}
	return "", ErrProductNotFound
}

func (m *Manager) loadRuntime(ctx context.Context) ([]domain.Product, error) {
	var runtime []domain.Product
	if _, err := m.durable.Get(ctx, CustomProductsKey, &runtime); err != nil {
		return nil, fmt.Errorf("load custom products: %w", err)
	}
	return runtime, nil
}
