package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/pkg/domain"
	"storefront/pkg/kv"
)

// LedgerKey is the durable key holding the full order history.
const LedgerKey = "orders"

var (
	// ErrBuyerOnly is returned when a non-buyer tries to place an order.
	ErrBuyerOnly = errors.New("only signed-in buyers can place orders")
	// ErrEmptyOrder is returned for a checkout with no cart lines.
	ErrEmptyOrder = errors.New("order has no items")
)

// Publisher emits order events to interested consumers. Publishing is best
// effort; failures never roll the order back.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, order domain.Order) error
}

// Ledger is the append-only order history over durable storage.
type Ledger struct {
	durable kv.Store
	pub     Publisher
	log     *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithPublisher attaches an order-event publisher.
func WithPublisher(pub Publisher) Option {
	return func(l *Ledger) { l.pub = pub }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// New builds a ledger over durable storage.
func New(durable kv.Store, log *slog.Logger, opts ...Option) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	l := &Ledger{durable: durable, log: log, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Place appends an order built from the buyer's cart lines and returns it.
func (l *Ledger) Place(ctx context.Context, buyer domain.Principal, items []domain.CartItem) (domain.Order, error) {
	if buyer.ID == "" || buyer.Role != domain.RoleBuyer {
		return domain.Order{}, ErrBuyerOnly
	}
	if len(items) == 0 {
		return domain.Order{}, ErrEmptyOrder
	}

	order := domain.Order{
		ID:        uuid.NewString(),
		BuyerID:   buyer.ID,
		CreatedAt: l.now().UTC(),
	}
	for _, item := range items {
		order.Items = append(order.Items, domain.OrderItem{
			ProductID: item.Product.ID,
			Name:      item.Name,
			SellerID:  item.SellerID,
			Price:     item.Price,
			Quantity:  item.Quantity,
		})
		order.Total += item.Price * float64(item.Quantity)
	}

	l.mu.Lock()
	history, err := l.load(ctx)
	if err != nil {
		l.mu.Unlock()
		return domain.Order{}, err
	}
	history = append(history, order)
	err = l.durable.Set(ctx, LedgerKey, history)
	l.mu.Unlock()
	if err != nil {
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	if l.pub != nil {
		if err := l.pub.PublishOrderPlaced(ctx, order); err != nil {
			l.log.Warn("publish order event failed", "order_id", order.ID, "error", err)
		}
	}
	return order, nil
}

// ListByBuyer returns the buyer's orders, newest first.
func (l *Ledger) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Order, error) {
	l.mu.Lock()
	history, err := l.load(ctx)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []domain.Order
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].BuyerID == buyerID {
			out = append(out, history[i])
		}
	}
	return out, nil
}

// ListBySeller returns orders containing the seller's products, newest
// first, with each order's items narrowed to that seller's lines and the
// total recomputed over them.
func (l *Ledger) ListBySeller(ctx context.Context, sellerID string) ([]domain.Order, error) {
	l.mu.Lock()
	history, err := l.load(ctx)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	var out []domain.Order
	for i := len(history) - 1; i >= 0; i-- {
		order := history[i]
		var mine []domain.OrderItem
		var total float64
		for _, item := range order.Items {
			if item.SellerID == sellerID {
				mine = append(mine, item)
				total += item.Price * float64(item.Quantity)
			}
		}
		if len(mine) == 0 {
			continue
		}
		order.Items = mine
		order.Total = total
		out = append(out, order)
	}
	return out, nil
}

func (l *Ledger) load(ctx context.Context) ([]domain.Order, error) {
	var history []domain.Order
	if _, err := l.durable.Get(ctx, LedgerKey, &history); err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	return history, nil
}
