package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xenking/oolio-delivery/internal/domain/auth"
	"github.com/xenking/oolio-delivery/internal/seed"
	"github.com/xenking/oolio-delivery/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	var (
		databaseURL  string
		catalogFile  string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog seed file (.json or .json.gz)")
	flag.StringVar(&apiKey, "api-key", "", "staff API key to seed (or DELIVERY_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or DELIVERY_API_KEY_PEPPER env)")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("DELIVERY_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("DELIVERY_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, catalogFile, apiKey, apiKeyPepper); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		cancel()
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile, apiKey, pepper string) error {
	data, err := seed.LoadFile(catalogFile)
	if err != nil {
		return err
	}

	lg.Info("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL, postgres.PoolConfig{MaxConns: 2})
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.NewCatalogRepository(pool).Upsert(ctx, data.Items); err != nil {
		return errors.Wrap(err, "seed catalog")
	}
	lg.Info("Upserted catalog items", zap.Int("count", len(data.Items)))

	users := postgres.NewUserRepository(pool)
	for _, u := range data.Users {
		if err := users.Upsert(ctx, u); err != nil {
			return errors.Wrapf(err, "upsert user %s", u.ID)
		}
	}
	lg.Info("Upserted users", zap.Int("count", len(data.Users)))

	if apiKey == "" {
		lg.Warn("No staff API key given, skipping")
		return nil
	}
	info := auth.APIKeyInfo{
		ID:      "staff",
		KeyHash: auth.HashKey([]byte(pepper), apiKey),
		Name:    "Back office",
		Scopes:  []string{auth.ScopeStaff},
	}
	if err := postgres.NewAPIKeyRepository(pool).Upsert(ctx, info); err != nil {
		return errors.Wrap(err, "upsert staff API key")
	}
	lg.Info("Upserted staff API key", zap.String("id", info.ID))
	return nil
}
