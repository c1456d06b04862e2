package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-delivery/internal/domain/order"
)

var _ order.Users = (*UserRepository)(nil)

// UserRepository resolves customer display details for back-office listings.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// Owners returns the known users among ids. Unknown ids are omitted.
func (r *UserRepository) Owners(ctx context.Context, ids []string) (map[string]order.Owner, error) {
	out := make(map[string]order.Owner, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, _ := r.pool.Query(ctx, `SELECT id, name, email FROM users WHERE id = ANY($1)`, ids)
	owners, err := pgx.CollectRows(rows, pgx.RowToStructByPos[order.Owner])
	if err != nil {
		return nil, fmt.Errorf("listing owners: %w", err)
	}
	for _, o := range owners {
		out[o.ID] = o
	}
	return out, nil
}

// Upsert inserts or updates a user.
func (r *UserRepository) Upsert(ctx context.Context, u order.Owner) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, name, email) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`,
		u.ID, u.Name, u.Email,
	)
	if err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}
