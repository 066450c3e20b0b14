package cart

import (
	"context"
	"log/slog"
	"sync"

	"storefront/pkg/domain"
	"storefront/pkg/identity"
	"storefront/pkg/kv"
)

// GuestScope is the anonymous storage scope. Authenticated buyers get
// buyer:<id>; sellers and anonymous visitors share the guest scope.
const GuestScope = "guest"

// Aggregator maintains the quantity-keyed cart for the active scope. It
// derives the scope from identity changes and performs the one-time
// guest-to-buyer merge on login.
type Aggregator struct {
	durable kv.Store
	log     *slog.Logger

	mu         sync.Mutex
	scope      string
	items      []domain.CartItem
	generation uint64
}

// New builds an aggregator starting in the guest scope.
func New(durable kv.Store, log *slog.Logger) *Aggregator {
	if log == nil {
		log = slog.Default()
	}
	return &Aggregator{durable: durable, log: log, scope: GuestScope}
}

// Load reads the active scope's persisted cart.
func (a *Aggregator) Load(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = a.loadScope(ctx, a.scope)
}

// Bind subscribes the aggregator to a session manager and returns the
// unsubscribe function.
func (a *Aggregator) Bind(m *identity.Manager) func() {
	return m.Subscribe(func(id identity.Identity) {
		a.OnIdentityChange(context.Background(), id)
	})
}

// OnIdentityChange re-resolves the scope. A guest-to-buyer transition merges
// the guest cart into the buyer's durable cart exactly once: quantities sum
// on productId collision, other guest lines append, and the guest key is
// cleared. A completed merge applies only if no newer transition started.
func (a *Aggregator) OnIdentityChange(ctx context.Context, id identity.Identity) {
	scope := GuestScope
	if id.State == identity.StateAuthenticated && id.Role == domain.RoleBuyer && id.User.ID != "" {
		scope = "buyer:" + id.User.ID
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if scope == a.scope {
		return
	}
	a.generation++
	gen := a.generation

	if a.scope == GuestScope && scope != GuestScope {
		guest := a.items
		buyer := a.loadScope(ctx, scope)
		merged := mergeCarts(buyer, guest)
		if a.generation != gen {
			// A newer transition superseded this merge.
			return
		}
		a.scope = scope
		a.items = merged
		a.persistLocked(ctx)
		if err := a.durable.Remove(ctx, scopeKey(GuestScope)); err != nil {
			a.log.Warn("clear guest cart failed", "err", err)
		}
		return
	}

	a.scope = scope
	a.items = a.loadScope(ctx, scope)
}

// AddToCart adds qty of product, incrementing an existing line instead of
// duplicating it. Non-positive qty defaults to 1.
func (a *Aggregator) AddToCart(ctx context.Context, product domain.Product, qty int) {
	if qty <= 0 {
		qty = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.items {
		if a.items[i].ID == product.ID {
			a.items[i].Quantity += qty
			a.persistLocked(ctx)
			return
		}
	}
	a.items = append(a.items, domain.CartItem{Product: product, Quantity: qty})
	a.persistLocked(ctx)
}

// RemoveFromCart drops the line for productID.
func (a *Aggregator) RemoveFromCart(ctx context.Context, productID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.removeLocked(ctx, productID)
}

// UpdateQuantity sets the line quantity. Zero or negative removes the line.
func (a *Aggregator) UpdateQuantity(ctx context.Context, productID string, qty int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if qty <= 0 {
		a.removeLocked(ctx, productID)
		return
	}
	for i := range a.items {
		if a.items[i].ID == productID {
			a.items[i].Quantity = qty
			a.persistLocked(ctx)
			return
		}
	}
}

// ClearCart empties the active scope's cart.
func (a *Aggregator) ClearCart(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.items = nil
	a.persistLocked(ctx)
}

// Items returns a snapshot of the cart lines.
func (a *Aggregator) Items() []domain.CartItem {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.CartItem(nil), a.items...)
}

// Total is the derived sum of price times quantity. Never persisted.
func (a *Aggregator) Total() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total float64
	for _, it := range a.items {
		total += it.Price * float64(it.Quantity)
	}
	return total
}

// ItemCount is the derived sum of line quantities.
func (a *Aggregator) ItemCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	count := 0
	for _, it := range a.items {
		count += it.Quantity
	}
	return count
}

// Scope exposes the active scope key suffix, mainly for tests and logs.
func (a *Aggregator) Scope() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scope
}

func (a *Aggregator) removeLocked(ctx context.Context, productID string) {
	kept := a.items[:0]
	for _, it := range a.items {
		if it.ID != productID {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(a.items) {
		return
	}
	a.items = kept
	a.persistLocked(ctx)
}

// persistLocked writes the full cart under the active scope key. A write
// failure keeps the in-memory change and logs a warning; the divergence
// lasts until the next successful write.
func (a *Aggregator) persistLocked(ctx context.Context) {
	items := a.items
	if items == nil {
		items = []domain.CartItem{}
	}
	if err := a.durable.Set(ctx, scopeKey(a.scope), items); err != nil {
		a.log.Warn("persist cart failed", "scope", a.scope, "err", err)
	}
}

func (a *Aggregator) loadScope(ctx context.Context, scope string) []domain.CartItem {
	var items []domain.CartItem
	// Corrupt cart data reads as absent and heals to empty.
	if _, err := a.durable.Get(ctx, scopeKey(scope), &items); err != nil {
		a.log.Warn("load cart failed", "scope", scope, "err", err)
		return nil
	}
	return items
}

func mergeCarts(buyer, guest []domain.CartItem) []domain.CartItem {
	merged := append([]domain.CartItem(nil), buyer...)
	for _, g := range guest {
		found := false
		for i := range merged {
			if merged[i].ID == g.ID {
				merged[i].Quantity += g.Quantity
				found = true
				break
			}
		}
		if !found {
			merged = append(merged, g)
		}
	}
	return merged
}

func scopeKey(scope string) string {
	return "cart." + scope
}
