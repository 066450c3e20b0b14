package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storefront/pkg/cache"
	"storefront/pkg/cart"
	"storefront/pkg/catalog"
	"storefront/pkg/chat"
	"storefront/pkg/directory"
	"storefront/pkg/favorites"
	"storefront/pkg/identity"
	"storefront/pkg/kv"
	"storefront/pkg/orders"
	"storefront/pkg/products"
	"storefront/pkg/queue"
	"storefront/pkg/storage"
)

// Config holds runtime configuration for the core application.
type Config struct {
	Durable        kv.Store
	DurableBackend string
	DataDir        string
	RedisAddr      string
	RedisPassword  string
	DatabaseURL    string
	KeyPrefix      string

	CatalogURL     string
	CatalogTTL     time.Duration
	SeedUsersPath  string
	SessionLatency time.Duration
	MessageLatency time.Duration
	SessionSecret  string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	AMQPURL      string
	AMQPExchange string

	Logger *slog.Logger
}

// App wires the storefront state core: durable and ephemeral stores, the
// user directory, session manager, and the per-concern managers hanging off
// identity changes.
type App struct {
	Durable   kv.Store
	Ephemeral *kv.MemoryStore
	Directory *directory.Directory
	Identity  *identity.Manager
	Cart      *cart.Aggregator
	Favorites *favorites.Manager
	Chat      *chat.Store
	Catalog   *catalog.Catalog
	Products  *products.Manager
	Orders    *orders.Ledger

	publisher *queue.AMQPPublisher
	unbinds   []func()
}

// New constructs the application and binds the cart and favorites managers
// to identity changes.
func New(cfg Config) (*App, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	durable := cfg.Durable
	if durable == nil {
		var err error
		durable, err = newDurableStore(cfg)
		if err != nil {
			return nil, err
		}
	}
	ephemeral := kv.NewMemoryStore()

	dir := directory.New(durable)
	if cfg.SeedUsersPath != "" {
		creds, err := directory.LoadSeedFile(cfg.SeedUsersPath)
		if err != nil {
			return nil, fmt.Errorf("load seed users: %w", err)
		}
		dir = directory.New(durable, creds)
	}

	idOpts := []identity.Option{identity.WithLogger(log), identity.WithLatency(cfg.SessionLatency)}
	if cfg.SessionSecret != "" {
		idOpts = append(idOpts, identity.WithTokenSecret([]byte(cfg.SessionSecret)))
	}
	ident := identity.NewManager(durable, dir, idOpts...)

	catalogOpts := []cache.Option{}
	if cfg.CatalogTTL > 0 {
		catalogOpts = append(catalogOpts, cache.WithTTL(cfg.CatalogTTL))
	}
	cat := catalog.New(cfg.CatalogURL, ephemeral, catalogOpts...)

	app := &App{
		Durable:   durable,
		Ephemeral: ephemeral,
		Directory: dir,
		Identity:  ident,
		Cart:      cart.New(durable, log),
		Favorites: favorites.New(durable, log),
		Chat:      chat.New(dir, chat.WithLatency(cfg.MessageLatency)),
		Catalog:   cat,
	}

	productOpts := []products.Option{}
	if cfg.MinioEndpoint != "" {
		images, err := storage.NewMinioImageStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			return nil, fmt.Errorf("init image store: %w", err)
		}
		productOpts = append(productOpts, products.WithImageStore(images))
	}
	app.Products = products.New(durable, cat, log, productOpts...)

	orderOpts := []orders.Option{}
	if cfg.AMQPURL != "" {
		pub, err := queue.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return nil, fmt.Errorf("init order publisher: %w", err)
		}
		app.publisher = pub
		orderOpts = append(orderOpts, orders.WithPublisher(pub))
	}
	app.Orders = orders.New(durable, log, orderOpts...)

	app.unbinds = append(app.unbinds, app.Cart.Bind(ident), app.Favorites.Bind(ident))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ident.Load(ctx); err != nil {
		return nil, fmt.Errorf("restore session: %w", err)
	}
	app.Cart.Load(ctx)
	return app, nil
}

// Close releases subscriptions and external connections.
func (a *App) Close() error {
	for _, unbind := range a.unbinds {
		unbind()
	}
	a.Catalog.Close()
	if a.publisher != nil {
		return a.publisher.Close()
	}
	return nil
}

func newDurableStore(cfg Config) (kv.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.DurableBackend)) {
	case "", "file":
		store, err := kv.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("init file store: %w", err)
		}
		return store, nil
	case "redis":
		return kv.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.KeyPrefix), nil
	case "postgres":
		store, err := kv.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return store, nil
	case "memory":
		return kv.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown durable backend %q", cfg.DurableBackend)
	}
}
