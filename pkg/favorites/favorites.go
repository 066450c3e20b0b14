package favorites

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"storefront/pkg/domain"
	"storefront/pkg/identity"
	"storefront/pkg/kv"
)

// ErrBuyerOnly is the uniform denial for toggles by sellers and anonymous
// visitors.
var ErrBuyerOnly = errors.New("favorites require a signed-in buyer")

// Manager maintains the per-buyer favorite product-id set. Guests and
// sellers have no persisted set; their view is always empty.
type Manager struct {
	durable kv.Store
	log     *slog.Logger

	mu      sync.Mutex
	buyerID string // empty unless an authenticated buyer is active
	ids     map[string]struct{}
}

// New builds a manager with no active buyer.
func New(durable kv.Store, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{durable: durable, log: log, ids: map[string]struct{}{}}
}

// Bind subscribes the manager to a session manager and returns the
// unsubscribe function.
func (m *Manager) Bind(mgr *identity.Manager) func() {
	return mgr.Subscribe(func(id identity.Identity) {
		m.OnIdentityChange(context.Background(), id)
	})
}

// OnIdentityChange loads the buyer's durable set or resets to empty. Another
// buyer's durable data is never touched on reset.
func (m *Manager) OnIdentityChange(ctx context.Context, id identity.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id.State == identity.StateAuthenticated && id.Role == domain.RoleBuyer && id.User.ID != "" {
		m.buyerID = id.User.ID
		m.ids = m.loadLocked(ctx, id.User.ID)
		return
	}
	m.buyerID = ""
	m.ids = map[string]struct{}{}
}

// Toggle adds or removes the product from the active buyer's set. Denied
// uniformly for any other identity.
func (m *Manager) Toggle(ctx context.Context, product domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buyerID == "" {
		return ErrBuyerOnly
	}
	if _, ok := m.ids[product.ID]; ok {
		delete(m.ids, product.ID)
	} else {
		m.ids[product.ID] = struct{}{}
	}
	m.persistLocked(ctx)
	return nil
}

// IsFavorite is safe for any identity; it never loads and never fails.
func (m *Manager) IsFavorite(productID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[productID]
	return ok
}

// Count returns the size of the active set.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ids)
}

// IDs returns a snapshot of the favorite product ids.
func (m *Manager) IDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	return out
}

// persistLocked writes the full set. The buyer gate was already re-checked
// under the same lock, so a logout cannot sneak a stale write in.
func (m *Manager) persistLocked(ctx context.Context) {
	if m.buyerID == "" {
		return
	}
	ids := make([]string, 0, len(m.ids))
	for id := range m.ids {
		ids = append(ids, id)
	}
	if err := m.durable.Set(ctx, favoritesKey(m.buyerID), ids); err != nil {
		m.log.Warn("persist favorites failed", "buyer", m.buyerID, "err", err)
	}
}

func (m *Manager) loadLocked(ctx context.Context, buyerID string) map[string]struct{} {
	var ids []string
	// Corrupt favorites data reads as absent and heals to empty.
	if _, err := m.durable.Get(ctx, favoritesKey(buyerID), &ids); err != nil {
		m.log.Warn("load favorites failed", "buyer", buyerID, "err", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func favoritesKey(buyerID string) string {
	return "favorites." + buyerID
}
