package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront/pkg/domain"
	"storefront/pkg/kv"
)

type capturePublisher struct {
	events []domain.Order
	err    error
}

func (p *capturePublisher) PublishOrderPlaced(_ context.Context, order domain.Order) error {
	p.events = append(p.events, order)
	return p.err
}

func buyer(id string) domain.Principal {
	return domain.Principal{ID: id, Role: domain.RoleBuyer}
}

func lines() []domain.CartItem {
	return []domain.CartItem{
		{Product: domain.Product{ID: "p1", Name: "Shirt", Price: 10, SellerID: "s1"}, Quantity: 2},
		{Product: domain.Product{ID: "p2", Name: "Jeans", Price: 25, SellerID: "s2"}, Quantity: 1},
	}
}

func TestPlaceAppendsAndTotals(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	l := New(store, nil)

	order, err := l.Place(ctx, buyer("b1"), lines())
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.ID == "" || order.Total != 45 || len(order.Items) != 2 {
		t.Fatalf("unexpected order: %+v", order)
	}

	var history []domain.Order
	if ok, _ := store.Get(ctx, LedgerKey, &history); !ok || len(history) != 1 {
		t.Fatalf("order not persisted: ok=%v n=%d", ok, len(history))
	}
}

func TestPlaceGatedToBuyers(t *testing.T) {
	ctx := context.Background()
	l := New(kv.NewMemoryStore(), nil)

	if _, err := l.Place(ctx, domain.Principal{}, lines()); !errors.Is(err, ErrBuyerOnly) {
		t.Fatalf("anonymous place: want ErrBuyerOnly got %v", err)
	}
	seller := domain.Principal{ID: "s1", Role: domain.RoleSeller}
	if _, err := l.Place(ctx, seller, lines()); !errors.Is(err, ErrBuyerOnly) {
		t.Fatalf("seller place: want ErrBuyerOnly got %v", err)
	}
	if _, err := l.Place(ctx, buyer("b1"), nil); !errors.Is(err, ErrEmptyOrder) {
		t.Fatalf("empty place: want ErrEmptyOrder got %v", err)
	}
}

func TestListByBuyerNewestFirst(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(kv.NewMemoryStore(), nil, WithNow(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))

	first, _ := l.Place(ctx, buyer("b1"), lines())
	second, _ := l.Place(ctx, buyer("b1"), lines())
	_, _ = l.Place(ctx, buyer("b2"), lines())

	got, err := l.ListByBuyer(ctx, "b1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != second.ID || got[1].ID != first.ID {
		t.Fatalf("unexpected order list: %+v", got)
	}
}

func TestListBySellerNarrowsItems(t *testing.T) {
	ctx := context.Background()
	l := New(kv.NewMemoryStore(), nil)
	_, _ = l.Place(ctx, buyer("b1"), lines())

	got, err := l.ListBySeller(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || len(got[0].Items) != 1 || got[0].Items[0].ProductID != "p1" {
		t.Fatalf("seller view must only contain the seller's lines: %+v", got)
	}
	if got[0].Total != 20 {
		t.Fatalf("seller total must cover only their lines: %v", got[0].Total)
	}

	if none, _ := l.ListBySeller(ctx, "s9"); len(none) != 0 {
		t.Fatalf("uninvolved seller sees nothing: %+v", none)
	}
}

func TestPublishFailureDoesNotFailCheckout(t *testing.T) {
	ctx := context.Background()
	pub := &capturePublisher{err: errors.New("broker down")}
	l := New(kv.NewMemoryStore(), nil, WithPublisher(pub))

	order, err := l.Place(ctx, buyer("b1"), lines())
	if err != nil {
		t.Fatalf("place must succeed despite publish failure: %v", err)
	}
	if len(pub.events) != 1 || pub.events[0].ID != order.ID {
		t.Fatalf("event not attempted: %+v", pub.events)
	}
}
