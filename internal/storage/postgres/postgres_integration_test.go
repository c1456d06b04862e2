//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/oolio-delivery/internal/domain/apperr"
	"github.com/xenking/oolio-delivery/internal/domain/auth"
	"github.com/xenking/oolio-delivery/internal/domain/cart"
	"github.com/xenking/oolio-delivery/internal/domain/catalog"
	"github.com/xenking/oolio-delivery/internal/domain/order"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "delivery",
				"POSTGRES_PASSWORD": "delivery",
				"POSTGRES_DB":       "delivery",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() { _ = c.Terminate(context.Background()) }()

	host, err := c.Host(ctx)
	if err != nil {
		log.Fatalf("host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		log.Fatalf("mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://delivery:delivery@%s:%s/delivery?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn, PoolConfig{MaxConns: 8})
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := Migrate(ctx, testPool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	// Second run must be a no-op.
	if err := Migrate(ctx, testPool); err != nil {
		log.Fatalf("migrate again: %v", err)
	}

	return m.Run()
}

func seedCatalog(t *testing.T) *CatalogRepository {
	t.Helper()
	repo := NewCatalogRepository(testPool)
	require.NoError(t, repo.Upsert(context.Background(), []catalog.Item{
		{ID: "burger", Name: "Burger", Category: "Mains", Price: decimal.RequireFromString("10.00"), Available: true},
		{ID: "fries", Name: "Fries", Category: "Sides", Price: decimal.RequireFromString("5.00"), Available: true},
		{ID: "shake", Name: "Shake", Category: "Drinks", Price: decimal.RequireFromString("4.50"), Available: false},
	}))
	return repo
}

func TestCatalogRepository(t *testing.T) {
	ctx := context.Background()
	repo := seedCatalog(t)

	item, err := repo.Resolve(ctx, "burger")
	require.NoError(t, err)
	assert.Equal(t, "Burger", item.Name)
	assert.True(t, item.Price.Equal(decimal.RequireFromString("10")))

	_, err = repo.Resolve(ctx, "pizza")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	many, err := repo.ResolveMany(ctx, []string{"burger", "shake", "pizza"})
	require.NoError(t, err)
	assert.Len(t, many, 2)
	assert.False(t, many["shake"].Available)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "burger", all[0].ID)
}

func TestCartRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository(testPool)

	t.Run("EmptyOnFirstAccess", func(t *testing.T) {
		c, err := repo.Get(ctx, "cart-new")
		require.NoError(t, err)
		assert.Empty(t, c.Lines)
	})

	t.Run("KeepsInsertionOrder", func(t *testing.T) {
		_, err := repo.Mutate(ctx, "cart-order", func(c *cart.Cart) error {
			for _, id := range []string{"fries", "burger", "fries"} {
				if err := c.Increment(id); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		c, err := repo.Get(ctx, "cart-order")
		require.NoError(t, err)
		assert.Equal(t, []cart.Line{{ItemID: "fries", Quantity: 2}, {ItemID: "burger", Quantity: 1}}, c.Lines)
	})

	t.Run("RollsBackOnError", func(t *testing.T) {
		_, err := repo.Mutate(ctx, "cart-rollback", func(c *cart.Cart) error {
			return c.Increment("burger")
		})
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = repo.Mutate(ctx, "cart-rollback", func(c *cart.Cart) error {
			c.Clear()
			return boom
		})
		require.ErrorIs(t, err, boom)

		c, err := repo.Get(ctx, "cart-rollback")
		require.NoError(t, err)
		assert.Equal(t, 1, c.Quantity("burger"))
	})

	t.Run("QuantityCap", func(t *testing.T) {
		_, err := repo.Mutate(ctx, "cart-cap", func(c *cart.Cart) error {
			return c.Increment("burger")
		})
		require.NoError(t, err)

		_, err = repo.Mutate(ctx, "cart-cap", func(c *cart.Cart) error {
			return c.SetQuantity("burger", 1<<32+5)
		})
		require.ErrorIs(t, err, apperr.ErrInvalid)

		c, err := repo.Get(ctx, "cart-cap")
		require.NoError(t, err)
		assert.Equal(t, 1, c.Quantity("burger"))

		_, err = repo.Mutate(ctx, "cart-cap", func(c *cart.Cart) error {
			return c.SetQuantity("burger", 1000)
		})
		require.NoError(t, err)
		c, err = repo.Get(ctx, "cart-cap")
		require.NoError(t, err)
		assert.Equal(t, 1000, c.Quantity("burger"))
	})

	t.Run("ConcurrentIncrements", func(t *testing.T) {
		const n = 20
		var wg sync.WaitGroup
		for range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Mutate(ctx, "cart-race", func(c *cart.Cart) error {
					return c.Increment("burger")
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		c, err := repo.Get(ctx, "cart-race")
		require.NoError(t, err)
		assert.Equal(t, n, c.Quantity("burger"))
	})
}

func testOrder(id, userID string, created time.Time) *order.Order {
	return &order.Order{
		ID:     id,
		UserID: userID,
		Items: []order.LineItem{
			{ItemID: "burger", Name: "Burger", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2},
			{ItemID: "fries", Name: "Fries", UnitPrice: decimal.RequireFromString("5.00"), Quantity: 1},
		},
		DeliveryFee:       decimal.RequireFromString("2.00"),
		Total:             decimal.RequireFromString("27.00"),
		Address:           order.Address{FirstName: "Ada", LastName: "L", Street: "1 Main", City: "Sydney", ZipCode: "2000"},
		Status:            order.StatusConfirmed,
		PaymentStatus:     order.PaymentPaid,
		EstimatedDelivery: created.Add(40 * time.Minute),
		CreatedAt:         created,
		UpdatedAt:         created,
	}
}

func TestOrderRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testPool)
	_, err := testPool.Exec(ctx, `TRUNCATE orders`)
	require.NoError(t, err)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Create(ctx, testOrder("o1", "alice", created)))
	// Same timestamp: insertion order breaks the tie.
	require.NoError(t, repo.Create(ctx, testOrder("o2", "alice", created)))
	require.NoError(t, repo.Create(ctx, testOrder("o3", "bob", created.Add(time.Minute))))

	t.Run("Get", func(t *testing.T) {
		o, err := repo.Get(ctx, "o1")
		require.NoError(t, err)
		require.Len(t, o.Items, 2)
		assert.Equal(t, "burger", o.Items[0].ItemID)
		assert.True(t, o.Total.Equal(decimal.RequireFromString("27")))
		assert.Equal(t, "Sydney", o.Address.City)
		assert.Nil(t, o.DeliveredAt)

		_, err = repo.Get(ctx, "missing")
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("Lists", func(t *testing.T) {
		mine, err := repo.ListByUser(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, "o2", mine[0].ID)
		assert.Equal(t, "o1", mine[1].ID)

		all, err := repo.ListAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "o3", all[0].ID)
	})

	t.Run("UpdateWritesLifecycleOnly", func(t *testing.T) {
		at := created.Add(time.Hour)
		o, err := repo.Update(ctx, "o1", func(o *order.Order) error {
			o.Status = order.StatusDelivered
			o.DeliveredAt = &at
			o.UpdatedAt = at
			o.Total = decimal.Zero
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, order.StatusDelivered, o.Status)

		stored, err := repo.Get(ctx, "o1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusDelivered, stored.Status)
		require.NotNil(t, stored.DeliveredAt)
		assert.True(t, stored.DeliveredAt.Equal(at))
		assert.True(t, stored.Total.Equal(decimal.RequireFromString("27")))
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		_, err := repo.Update(ctx, "missing", func(*order.Order) error { return nil })
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})

	t.Run("Stats", func(t *testing.T) {
		_, err := repo.Update(ctx, "o3", func(o *order.Order) error {
			o.PaymentStatus = order.PaymentFailed
			return nil
		})
		require.NoError(t, err)

		st, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, st.Total)
		assert.Equal(t, 1, st.Count(order.StatusDelivered))
		assert.Equal(t, 2, st.Count(order.StatusConfirmed))
		assert.Equal(t, "54.00", st.Revenue.StringFixed(2))
	})
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(testPool)
	require.NoError(t, repo.Upsert(ctx, order.Owner{ID: "alice", Name: "Alice", Email: "alice@example.com"}))

	owners, err := repo.Owners(ctx, []string{"alice", "ghost"})
	require.NoError(t, err)
	assert.Len(t, owners, 1)
	assert.Equal(t, "Alice", owners["alice"].Name)
}

func TestAPIKeyRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewAPIKeyRepository(testPool)
	pepper := []byte("pepper")
	hash := auth.HashKey(pepper, "secret")
	require.NoError(t, repo.Upsert(ctx, auth.APIKeyInfo{ID: "k1", KeyHash: hash, Name: "Staff", Scopes: []string{auth.ScopeStaff}}))

	v := auth.NewVerifier(repo, pepper)
	info, err := v.Verify(ctx, "secret", auth.ScopeStaff)
	require.NoError(t, err)
	assert.Equal(t, "k1", info.ID)

	_, err = v.Verify(ctx, "other", auth.ScopeStaff)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = repo.FindByHash(ctx, auth.HashKey(pepper, "other"))
	require.ErrorIs(t, err, apperr.ErrNotFound)
}
