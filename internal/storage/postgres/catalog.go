package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-delivery/internal/domain/catalog"
)

var (
	_ catalog.Resolver = (*CatalogRepository)(nil)
	_ catalog.Lister   = (*CatalogRepository)(nil)
)

const catalogColumns = `id, name, description, category, price, image, available`

// CatalogRepository reads menu items from the catalog_items table.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// Resolve returns a single item or catalog.NotFound.
func (r *CatalogRepository) Resolve(ctx context.Context, id string) (*catalog.Item, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+catalogColumns+` FROM catalog_items WHERE id = $1`, id)
	item, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[catalog.Item])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.NotFound(id)
		}
		return nil, fmt.Errorf("getting item %q: %w", id, err)
	}
	return &item, nil
}

// ResolveMany returns the known items among ids keyed by id.
func (r *CatalogRepository) ResolveMany(ctx context.Context, ids []string) (map[string]catalog.Item, error) {
	if len(ids) == 0 {
		return map[string]catalog.Item{}, nil
	}
	rows, _ := r.pool.Query(ctx, `SELECT `+catalogColumns+` FROM catalog_items WHERE id = ANY($1)`, ids)
	items, err := pgx.CollectRows(rows, pgx.RowToStructByPos[catalog.Item])
	if err != nil {
		return nil, fmt.Errorf("resolving %d items: %w", len(ids), err)
	}
	out := make(map[string]catalog.Item, len(items))
	for _, item := range items {
		out[item.ID] = item
	}
	return out, nil
}

// List returns the whole catalog ordered by id.
func (r *CatalogRepository) List(ctx context.Context) ([]catalog.Item, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+catalogColumns+` FROM catalog_items ORDER BY id`)
	items, err := pgx.CollectRows(rows, pgx.RowToStructByPos[catalog.Item])
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return items, nil
}

// Upsert inserts or replaces items in a single batch.
func (r *CatalogRepository) Upsert(ctx context.Context, items []catalog.Item) error {
	batch := &pgx.Batch{}
	for _, it := range items {
		batch.Queue(`
			INSERT INTO catalog_items (`+catalogColumns+`, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				category = EXCLUDED.category,
				price = EXCLUDED.price,
				image = EXCLUDED.image,
				available = EXCLUDED.available,
				updated_at = now()`,
			it.ID, it.Name, it.Description, it.Category, it.Price, it.Image, it.Available,
		)
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d items: %w", len(items), err)
	}
	return nil
}
