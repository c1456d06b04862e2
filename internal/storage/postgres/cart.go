package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-delivery/internal/domain/cart"
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository stores carts as a header row plus ordered lines. Mutate
// holds a row lock on the header for the duration of the transaction so
// concurrent mutations of one user's cart apply one at a time.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Get returns the user's cart, creating an empty one on first access.
func (r *CartRepository) Get(ctx context.Context, userID string) (*cart.Cart, error) {
	if _, err := r.pool.Exec(ctx, ensureCartSQL, userID); err != nil {
		return nil, fmt.Errorf("creating cart for %q: %w", userID, err)
	}
	c, err := loadCart(ctx, r.pool, userID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Mutate loads the cart under lock, applies fn and writes the result back.
// Nothing is written when fn returns an error.
func (r *CartRepository) Mutate(ctx context.Context, userID string, fn func(*cart.Cart) error) (*cart.Cart, error) {
	var out *cart.Cart
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, ensureCartSQL, userID); err != nil {
			return fmt.Errorf("creating cart for %q: %w", userID, err)
		}
		if _, err := tx.Exec(ctx, `SELECT user_id FROM carts WHERE user_id = $1 FOR UPDATE`, userID); err != nil {
			return fmt.Errorf("locking cart for %q: %w", userID, err)
		}

		c, err := loadCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("clearing cart lines for %q: %w", userID, err)
		}
		if len(c.Lines) > 0 {
			_, err := tx.CopyFrom(ctx,
				pgx.Identifier{"cart_items"},
				[]string{"user_id", "item_id", "quantity", "position"},
				pgx.CopyFromSlice(len(c.Lines), func(i int) ([]any, error) {
					l := c.Lines[i]
					return []any{userID, l.ItemID, int32(l.Quantity), int32(i)}, nil
				}),
			)
			if err != nil {
				return fmt.Errorf("writing cart lines for %q: %w", userID, err)
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("touching cart for %q: %w", userID, err)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

const ensureCartSQL = `INSERT INTO carts (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadCart(ctx context.Context, q querier, userID string) (*cart.Cart, error) {
	rows, _ := q.Query(ctx,
		`SELECT item_id, quantity FROM cart_items WHERE user_id = $1 ORDER BY position`, userID)
	lines, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var (
			l   cart.Line
			qty int32
		)
		err := row.Scan(&l.ItemID, &qty)
		l.Quantity = int(qty)
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("loading cart lines for %q: %w", userID, err)
	}
	return &cart.Cart{UserID: userID, Lines: lines}, nil
}
