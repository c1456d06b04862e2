package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/oolio-delivery/internal/domain/auth"
	"github.com/xenking/oolio-delivery/internal/domain/cart"
	"github.com/xenking/oolio-delivery/internal/domain/catalog"
	"github.com/xenking/oolio-delivery/internal/domain/order"
	"github.com/xenking/oolio-delivery/internal/seed"
	"github.com/xenking/oolio-delivery/internal/storage/memory"
	"github.com/xenking/oolio-delivery/internal/storage/postgres"
	"github.com/xenking/oolio-delivery/pkg/health"
)

type menu interface {
	catalog.Resolver
	catalog.Lister
}

// stores bundles the repositories of one storage backend.
type stores struct {
	catalog menu
	carts   cart.Repository
	orders  order.Repository
	users   order.Users
	keys    auth.Repository

	checks []health.Check
	close  func()
}

func openStores(ctx context.Context, lg *zap.Logger, cfg *Config) (*stores, error) {
	if cfg.Storage == StorageMemory {
		return openMemory(lg, cfg)
	}
	return openPostgres(ctx, cfg)
}

func openPostgres(ctx context.Context, cfg *Config) (*stores, error) {
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{
		MaxConns: cfg.Database.MaxConns,
		MinConns: cfg.Database.MinConns,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}

	return &stores{
		catalog: postgres.NewCatalogRepository(pool),
		carts:   postgres.NewCartRepository(pool),
		orders:  postgres.NewOrderRepository(pool),
		users:   postgres.NewUserRepository(pool),
		keys:    postgres.NewAPIKeyRepository(pool),
		checks: []health.Check{
			{Name: "postgres", Timeout: 5 * time.Second, Func: health.PingCheck(pool)},
		},
		close: pool.Close,
	}, nil
}

// openMemory builds process-local stores seeded from the catalog file.
func openMemory(lg *zap.Logger, cfg *Config) (*stores, error) {
	items := memory.NewCatalogStore()
	users := memory.NewUserDirectory()
	keys := memory.NewAPIKeyRepository()

	if cfg.CatalogFile != "" {
		data, err := seed.LoadFile(cfg.CatalogFile)
		if err != nil {
			return nil, errors.Wrap(err, "load catalog")
		}
		items.Put(data.Items...)
		for _, u := range data.Users {
			users.Put(u)
		}
		lg.Info("Catalog loaded",
			zap.String("path", cfg.CatalogFile),
			zap.Int("items", len(data.Items)),
			zap.Int("users", len(data.Users)),
		)
	}
	if cfg.StaffAPIKey != "" {
		keys.Put(auth.APIKeyInfo{
			ID:      "bootstrap",
			KeyHash: auth.HashKey([]byte(cfg.APIKeyPepper), cfg.StaffAPIKey),
			Name:    "Bootstrap staff key",
			Scopes:  []string{auth.ScopeStaff},
		})
	}

	return &stores{
		catalog: items,
		carts:   memory.NewCartRepository(),
		orders:  memory.NewOrderRepository(),
		users:   users,
		keys:    keys,
		close:   func() {},
	}, nil
}
