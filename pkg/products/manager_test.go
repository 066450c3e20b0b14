package products

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"storefront/pkg/domain"
	"storefront/pkg/kv"
)

type staticCatalog []domain.Product

func (c staticCatalog) Products(context.Context) ([]domain.Product, error) {
	return c, nil
}

type fakeImages struct {
	objects map[string][]byte
}

func (f *fakeImages) PutImage(_ context.Context, productID string, r io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	key := "products/" + productID
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return key, nil
}

func (f *fakeImages) ImageURL(_ context.Context, key string) (string, error) {
	return "https://images.test/" + key, nil
}

func (f *fakeImages) RemoveImage(_ context.Context, key string) error {
	delete(f.objects, key)
	return nil
}

func seller(id string) domain.Principal {
	return domain.Principal{ID: id, Role: domain.RoleSeller}
}

func seedCatalog() staticCatalog {
	return staticCatalog{
		{ID: "p1", Name: "Shirt", Price: 10, SellerID: "s1"},
		{ID: "p2", Name: "Jeans", Price: 25, SellerID: "s2"},
	}
}

func newManager(opts ...Option) (*Manager, kv.Store) {
	store := kv.NewMemoryStore()
	ticks := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	opts = append(opts, WithNow(func() time.Time {
		ticks = ticks.Add(time.Millisecond)
		return ticks
	}))
	return New(store, seedCatalog(), nil, opts...), store
}

func TestCreateGatedToSellers(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	p := domain.Product{Name: "Hat", Price: 5}

	if _, err := m.Create(ctx, domain.Principal{}, p); !errors.Is(err, ErrSellerOnly) {
		t.Fatalf("anonymous create: want ErrSellerOnly got %v", err)
	}
	buyer := domain.Principal{ID: "b1", Role: domain.RoleBuyer}
	if _, err := m.Create(ctx, buyer, p); !errors.Is(err, ErrSellerOnly) {
		t.Fatalf("buyer create: want ErrSellerOnly got %v", err)
	}
	if _, err := m.Create(ctx, seller("s1"), domain.Product{Name: " ", Price: 5}); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("blank name: want ErrInvalidProduct got %v", err)
	}
	if _, err := m.Create(ctx, seller("s1"), domain.Product{Name: "Hat", Price: 0}); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("zero price: want ErrInvalidProduct got %v", err)
	}
}

func TestCreatePersistsAndMerges(t *testing.T) {
	ctx := context.Background()
	m, store := newManager()

	created, err := m.Create(ctx, seller("s1"), domain.Product{Name: "Hat", Price: 5, SellerID: "spoofed"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" || created.SellerID != "s1" {
		t.Fatalf("owner must come from the caller: %+v", created)
	}

	var runtime []domain.Product
	if ok, _ := store.Get(ctx, CustomProductsKey, &runtime); !ok || len(runtime) != 1 {
		t.Fatalf("runtime products not persisted: ok=%v %+v", ok, runtime)
	}

	all, err := m.All(ctx)
	if err != nil || len(all) != 3 {
		t.Fatalf("merged view: err=%v n=%d", err, len(all))
	}
	if all[2].ID != created.ID {
		t.Fatalf("runtime products must follow seed records: %+v", all)
	}

	mine, _ := m.ForSeller(ctx, "s1")
	if len(mine) != 2 {
		t.Fatalf("seller view must span seed and runtime: %+v", mine)
	}
}

func TestUpdateRespectsOwnership(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	created, _ := m.Create(ctx, seller("s1"), domain.Product{Name: "Hat", Price: 5})

	created.Price = 7
	if _, err := m.Update(ctx, seller("s2"), created); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign update: want ErrNotOwner got %v", err)
	}

	updated, err := m.Update(ctx, seller("s1"), created)
	if err != nil || updated.Price != 7 {
		t.Fatalf("owner update: err=%v %+v", err, updated)
	}

	// Seed catalog records are not editable.
	if _, err := m.Update(ctx, seller("s1"), domain.Product{ID: "p1", Name: "Shirt", Price: 11}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("seed update: want ErrProductNotFound got %v", err)
	}
}

func TestDeleteRemovesListingAndImage(t *testing.T) {
	ctx := context.Background()
	images := &fakeImages{}
	m, store := newManager(WithImageStore(images))
	created, _ := m.Create(ctx, seller("s1"), domain.Product{Name: "Hat", Price: 5})

	if _, err := m.AttachImage(ctx, seller("s1"), created.ID, bytes.NewReader([]byte("img")), 3, "image/png"); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if err := m.Delete(ctx, seller("s2"), created.ID); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("foreign delete: want ErrNotOwner got %v", err)
	}
	if err := m.Delete(ctx, seller("s1"), created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var runtime []domain.Product
	ok, _ := store.Get(ctx, CustomProductsKey, &runtime)
	if !ok || len(runtime) != 0 {
		t.Fatalf("listing must be gone: ok=%v %+v", ok, runtime)
	}
	if len(images.objects) != 0 {
		t.Fatalf("image must be cleaned up: %v", images.objects)
	}
}

func TestAttachImageRequiresStore(t *testing.T) {
	ctx := context.Background()
	m, _ := newManager()
	created, _ := m.Create(ctx, seller("s1"), domain.Product{Name: "Hat", Price: 5})

	_, err := m.AttachImage(ctx, seller("s1"), created.ID, bytes.NewReader(nil), 0, "image/png")
	if !errors.Is(err, ErrNoImageStore) {
		t.Fatalf("want ErrNoImageStore got %v", err)
	}
}
