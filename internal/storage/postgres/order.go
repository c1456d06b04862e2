package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-delivery/internal/domain/order"
)

var _ order.Repository = (*OrderRepository)(nil)

const orderColumns = `id, user_id, items, delivery_fee, total, address, status, payment_status,
	estimated_delivery, delivered_at, created_at, updated_at`

// OrderRepository implements order.Repository backed by PostgreSQL. Line
// items and the delivery address are stored as JSONB snapshots.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

type itemRecord struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image,omitempty"`
}

type addressRecord struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zip_code"`
}

// Create persists a new order.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	items := make([]itemRecord, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemRecord(it)
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addrJSON, err := json.Marshal(addressRecord(o.Address))
	if err != nil {
		return fmt.Errorf("marshaling order address: %w", err)
	}

	_, err = r.pool.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.UserID, itemsJSON, o.DeliveryFee, o.Total, addrJSON, string(o.Status), string(o.PaymentStatus),
		o.EstimatedDelivery, o.DeliveredAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns the order with id or an *order.NotFoundError.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return collectOrder(rows, id)
}

// Update applies fn to the order under a row lock. Only the lifecycle
// fields (status, payment status, delivery time) are written back.
func (r *OrderRepository) Update(ctx context.Context, id string, fn func(*order.Order) error) (*order.Order, error) {
	var out *order.Order
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		rows, _ := tx.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
		o, err := collectOrder(rows, id)
		if err != nil {
			return err
		}
		if err := fn(o); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE orders SET status = $2, payment_status = $3, delivered_at = $4, updated_at = $5
			WHERE id = $1`,
			id, string(o.Status), string(o.PaymentStatus), o.DeliveredAt, o.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("updating order %q: %w", id, err)
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC, seq DESC`, userID)
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders for %q: %w", userID, err)
	}
	return orders, nil
}

// ListAll returns every order, newest first.
func (r *OrderRepository) ListAll(ctx context.Context) ([]order.Order, error) {
	rows, _ := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, seq DESC`)
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// Stats aggregates order counts per status and revenue over paid orders.
func (r *OrderRepository) Stats(ctx context.Context) (*order.Stats, error) {
	rows, _ := r.pool.Query(ctx, `
		SELECT status, count(*), COALESCE(sum(total) FILTER (WHERE payment_status = 'paid'), 0)
		FROM orders GROUP BY status`)

	st := &order.Stats{
		ByStatus: make(map[order.Status]int, len(order.Statuses)),
		Revenue:  decimal.Zero,
	}
	var (
		status  string
		count   int64
		revenue decimal.Decimal
	)
	_, err := pgx.ForEachRow(rows, []any{&status, &count, &revenue}, func() error {
		st.ByStatus[order.Status(status)] = int(count)
		st.Total += int(count)
		st.Revenue = st.Revenue.Add(revenue)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("aggregating order stats: %w", err)
	}
	return st, nil
}

func collectOrder(rows pgx.Rows, id string) (*order.Order, error) {
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &order.NotFoundError{OrderID: id}
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o             order.Order
		itemsJSON     []byte
		addrJSON      []byte
		status        string
		paymentStatus string
		deliveredAt   *time.Time
	)
	err := row.Scan(
		&o.ID, &o.UserID, &itemsJSON, &o.DeliveryFee, &o.Total, &addrJSON, &status, &paymentStatus,
		&o.EstimatedDelivery, &deliveredAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	var items []itemRecord
	if err := json.Unmarshal(itemsJSON, &items); err != nil {
		return o, fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
	}
	o.Items = make([]order.LineItem, len(items))
	for i, it := range items {
		o.Items[i] = order.LineItem(it)
	}

	var addr addressRecord
	if err := json.Unmarshal(addrJSON, &addr); err != nil {
		return o, fmt.Errorf("unmarshaling address of order %q: %w", o.ID, err)
	}
	o.Address = order.Address(addr)
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.DeliveredAt = deliveredAt
	return o, nil
}
