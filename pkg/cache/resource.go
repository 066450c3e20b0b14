package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"storefront/pkg/kv"
)

// DefaultTTL is how long a cached document stays fresh unless overridden.
const DefaultTTL = 5 * time.Minute

// ErrClosed is returned when a resource is used after Close.
var ErrClosed = errors.New("cache: resource closed")

type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // epoch ms
}

// Snapshot is the consumer-facing view of a resource.
type Snapshot struct {
	Data    json.RawMessage
	Loading bool
	Err     error
}

// Resource fetches a JSON document once and caches it in an ephemeral store
// under cache.<key> with a TTL. Concurrent loads of the same resource are
// collapsed into a single fetch; completions arriving after Close are
// discarded.
type Resource struct {
	key    string
	url    string
	ttl    time.Duration
	store  kv.Store
	client *http.Client
	now    func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	closed  bool
	data    json.RawMessage
	loading bool
	err     error
}

// Option customizes a Resource.
type Option func(*Resource)

// WithTTL overrides the cache TTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resource) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resource) {
		if c != nil {
			r.client = c
		}
	}
}

// WithNow overrides the clock, for TTL tests.
func WithNow(now func() time.Time) Option {
	return func(r *Resource) {
		if now != nil {
			r.now = now
		}
	}
}

// New builds a resource bound to a cache key, a URL, and an ephemeral store.
func New(key, url string, store kv.Store, opts ...Option) *Resource {
	r := &Resource{
		key:    key,
		url:    url,
		ttl:    DefaultTTL,
		store:  store,
		client: http.DefaultClient,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load returns the document, from cache when fresh, fetching otherwise.
// Fetch failures leave previously loaded data in place.
func (r *Resource) Load(ctx context.Context) (json.RawMessage, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.loading = true
	r.err = nil
	r.mu.Unlock()

	v, err, _ := r.group.Do(r.key, func() (any, error) {
		return r.lookup(ctx)
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		// Torn down while the fetch was in flight: do not apply.
		return nil, ErrClosed
	}
	r.loading = false
	if err != nil {
		r.err = err
		return r.data, err
	}
	r.data = v.(json.RawMessage)
	return r.data, nil
}

// ForceRefetch drops the cache entry and reloads from the network.
func (r *Resource) ForceRefetch(ctx context.Context) (json.RawMessage, error) {
	if err := r.store.Remove(ctx, r.cacheKey()); err != nil {
		return nil, err
	}
	return r.Load(ctx)
}

// Snapshot returns the current data/loading/error view.
func (r *Resource) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{Data: r.data, Loading: r.loading, Err: r.err}
}

// Close marks the resource torn down. Later completions are discarded.
func (r *Resource) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

func (r *Resource) lookup(ctx context.Context) (json.RawMessage, error) {
	var e entry
	ok, err := r.store.Get(ctx, r.cacheKey(), &e)
	if err == nil && ok {
		age := r.now().UnixMilli() - e.Timestamp
		if age >= 0 && time.Duration(age)*time.Millisecond < r.ttl {
			return e.Data, nil
		}
	}
	return r.fetch(ctx)
}

func (r *Resource) fetch(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", r.url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	var data json.RawMessage
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("parse body: %w", err)
	}
	e := entry{Data: data, Timestamp: r.now().UnixMilli()}
	if err := r.store.Set(ctx, r.cacheKey(), e); err != nil {
		// Cache write failure degrades to uncached data.
		return data, nil
	}
	return data, nil
}

func (r *Resource) cacheKey() string {
	return "cache." + r.key
}
