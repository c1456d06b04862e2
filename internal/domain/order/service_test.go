package order

import (
	"context"
	"net/url"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/oolio-delivery/internal/domain/apperr"
	"github.com/xenking/oolio-delivery/internal/notify"
)

// --- Mock implementations ---

type mockOrderRepo struct {
	mu        sync.Mutex
	orders    map[string]Order
	seq       map[string]int
	next      int
	createErr error
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[string]Order), seq: make(map[string]int)}
}

func (m *mockOrderRepo) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.next++
	m.orders[o.ID] = *o
	m.seq[o.ID] = m.next
	return nil
}

func (m *mockOrderRepo) Get(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, &NotFoundError{OrderID: id}
	}
	return &o, nil
}

func (m *mockOrderRepo) Update(_ context.Context, id string, fn func(*Order) error) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, &NotFoundError{OrderID: id}
	}
	if err := fn(&o); err != nil {
		return nil, err
	}
	m.orders[id] = o
	return &o, nil
}

func (m *mockOrderRepo) sorted(keep func(Order) bool) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return m.seq[out[i].ID] > m.seq[out[j].ID]
	})
	return out
}

func (m *mockOrderRepo) ListByUser(_ context.Context, userID string) ([]Order, error) {
	return m.sorted(func(o Order) bool { return o.UserID == userID }), nil
}

func (m *mockOrderRepo) ListAll(_ context.Context) ([]Order, error) {
	return m.sorted(func(Order) bool { return true }), nil
}

func (m *mockOrderRepo) Stats(ctx context.Context) (*Stats, error) {
	all, _ := m.ListAll(ctx)
	return Tally(all), nil
}

type mockCarts struct {
	reset []string
	err   error
}

func (m *mockCarts) Reset(_ context.Context, userID string) error {
	m.reset = append(m.reset, userID)
	return m.err
}

type mockUsers map[string]Owner

func (m mockUsers) Owners(_ context.Context, ids []string) (map[string]Owner, error) {
	out := make(map[string]Owner, len(ids))
	for _, id := range ids {
		if o, ok := m[id]; ok {
			out[id] = o
		}
	}
	return out, nil
}

type recordingJournal struct {
	events []LifecycleEvent
}

func (j *recordingJournal) Append(_ context.Context, ev LifecycleEvent) {
	j.events = append(j.events, ev)
}

type testConn struct {
	id     string
	frames []notify.Event
}

func (c *testConn) ID() string { return c.id }

func (c *testConn) Send(frame []byte) error {
	ev, err := notify.DecodeFrame(frame)
	if err != nil {
		return err
	}
	c.frames = append(c.frames, ev)
	return nil
}

func (c *testConn) names() []string {
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.Name
	}
	return out
}

// --- Helpers ---

type fixture struct {
	svc     *Service
	repo    *mockOrderRepo
	carts   *mockCarts
	hub     *notify.Hub
	journal *recordingJournal
	clock   *fakeClock
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hub, err := notify.NewHub(noop.NewMeterProvider())
	require.NoError(t, err)

	f := &fixture{
		repo:    newMockOrderRepo(),
		carts:   &mockCarts{},
		hub:     hub,
		journal: &recordingJournal{},
		clock:   &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.svc = NewService(f.repo, f.carts, mockUsers{
		"alice": {ID: "alice", Name: "Alice Doe", Email: "alice@example.com"},
	}, hub,
		WithJournal(f.journal),
		WithClock(f.clock.Now),
		WithConfirmationURL("https://shop.example.com/verify"),
	)
	return f
}

func scenarioRequest() CreateRequest {
	return CreateRequest{
		Items: []LineItem{
			{ItemID: "burger", Name: "Burger", UnitPrice: decimal.RequireFromString("10.00"), Quantity: 2},
			{ItemID: "fries", Name: "Fries", UnitPrice: decimal.RequireFromString("5.00"), Quantity: 1},
		},
		Address: Address{FirstName: "Alice", LastName: "Doe", City: "Springfield", ZipCode: "12345"},
	}
}

func (f *fixture) place(t *testing.T, userID string) *Order {
	t.Helper()
	p, err := f.svc.Create(context.Background(), userID, scenarioRequest())
	require.NoError(t, err)
	return p.Order
}

// --- Tests ---

func TestCreate_EmptyItems(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), "alice", CreateRequest{})
	require.ErrorIs(t, err, apperr.ErrEmptyOrder)
	assert.Empty(t, f.carts.reset)
}

func TestCreate_InvalidLineItem(t *testing.T) {
	f := newFixture(t)
	req := scenarioRequest()
	req.Items[1].Quantity = 0

	_, err := f.svc.Create(context.Background(), "alice", req)
	var lineErr *InvalidLineItemError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 1, lineErr.Index)
	require.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestCreate_AmountLimits(t *testing.T) {
	for name, tt := range map[string]struct {
		price    string
		quantity int
	}{
		"PriceAboveMax":    {price: "100000000", quantity: 1},
		"HugeExponent":     {price: "1e2000000", quantity: 1},
		"ThreeDecimals":    {price: "10.005", quantity: 1},
		"QuantityAboveMax": {price: "1.00", quantity: 1001},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			req := scenarioRequest()
			req.Items[0].UnitPrice = decimal.RequireFromString(tt.price)
			req.Items[0].Quantity = tt.quantity

			_, err := f.svc.Create(context.Background(), "alice", req)
			var lineErr *InvalidLineItemError
			require.ErrorAs(t, err, &lineErr)
			assert.Equal(t, 0, lineErr.Index)
			require.ErrorIs(t, err, apperr.ErrInvalid)
			assert.Empty(t, f.repo.orders)
		})
	}

	t.Run("TotalAboveMax", func(t *testing.T) {
		f := newFixture(t)
		req := scenarioRequest()
		req.Items[0].UnitPrice = decimal.RequireFromString("99999999.99")
		req.Items[0].Quantity = 2

		_, err := f.svc.Create(context.Background(), "alice", req)
		var totalErr *TotalTooLargeError
		require.ErrorAs(t, err, &totalErr)
		require.ErrorIs(t, err, apperr.ErrInvalid)
		assert.Empty(t, f.repo.orders)
		assert.Empty(t, f.carts.reset)
	})

	t.Run("LargestAccepted", func(t *testing.T) {
		f := newFixture(t)
		req := scenarioRequest()
		req.Items = req.Items[:1]
		req.Items[0].UnitPrice = decimal.RequireFromString("99999997.99")
		req.Items[0].Quantity = 1

		p, err := f.svc.Create(context.Background(), "alice", req)
		require.NoError(t, err)
		assert.Equal(t, "99999999.99", p.Order.Total.StringFixed(2))
	})
}

func TestCreate_Scenario(t *testing.T) {
	f := newFixture(t)
	staff := &testConn{id: "staff"}
	f.hub.Subscribe(staff, notify.Staff())

	p, err := f.svc.Create(context.Background(), "alice", scenarioRequest())
	require.NoError(t, err)

	o := p.Order
	assert.NotEmpty(t, o.ID)
	assert.True(t, o.Total.Equal(decimal.RequireFromString("27.00")), o.Total.String())
	assert.True(t, o.DeliveryFee.Equal(decimal.RequireFromString("2.00")))
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, f.clock.now.Add(40*time.Minute), o.EstimatedDelivery)
	assert.Nil(t, o.DeliveredAt)
	assert.Equal(t, []string{"alice"}, f.carts.reset)

	u, err := url.Parse(p.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "/verify", u.Path)
	assert.Equal(t, "true", u.Query().Get("success"))
	assert.Equal(t, o.ID, u.Query().Get("orderId"))

	require.Len(t, staff.frames, 1)
	assert.Equal(t, EventNewOrder, staff.frames[0].Name)
	assert.JSONEq(t, `{"orderId":"`+o.ID+`"}`, string(staff.frames[0].Data))

	require.Len(t, f.journal.events, 1)
	assert.Equal(t, JournalOrderCreated, f.journal.events[0].Type)
}

func TestCreate_LateStaffSubscriberGetsNothing(t *testing.T) {
	f := newFixture(t)
	f.place(t, "alice")

	late := &testConn{id: "late"}
	f.hub.Subscribe(late, notify.Staff())
	assert.Empty(t, late.frames)
}

func TestCreate_CartClearFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	f.carts.err = errors.New("cart store down")

	o := f.place(t, "alice")

	stored, err := f.svc.Get(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.ID, stored.ID)
}

func TestCreate_RepositoryError(t *testing.T) {
	f := newFixture(t)
	f.repo.createErr = apperr.ErrConflict
	staff := &testConn{id: "staff"}
	f.hub.Subscribe(staff, notify.Staff())

	_, err := f.svc.Create(context.Background(), "alice", scenarioRequest())
	require.ErrorIs(t, err, apperr.ErrConflict)
	assert.Empty(t, staff.frames)
	assert.Empty(t, f.carts.reset)
}

func TestCreate_TotalIsSnapshot(t *testing.T) {
	f := newFixture(t)
	req := scenarioRequest()

	p, err := f.svc.Create(context.Background(), "alice", req)
	require.NoError(t, err)

	req.Items[0].UnitPrice = decimal.RequireFromString("99.00")

	stored, err := f.svc.Get(context.Background(), p.Order.ID)
	require.NoError(t, err)
	assert.True(t, stored.Total.Equal(decimal.RequireFromString("27.00")))
	assert.True(t, stored.Items[0].UnitPrice.Equal(decimal.RequireFromString("10.00")))
}

func TestVerifyPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("NotFound", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.VerifyPayment(ctx, "missing", true)
		require.ErrorIs(t, err, apperr.ErrNotFound)
	})
	t.Run("LastWriteWins", func(t *testing.T) {
		f := newFixture(t)
		o := f.place(t, "alice")
		staff := &testConn{id: "staff"}
		f.hub.Subscribe(staff, notify.Staff())

		_, err := f.svc.VerifyPayment(ctx, o.ID, true)
		require.NoError(t, err)
		got, err := f.svc.VerifyPayment(ctx, o.ID, false)
		require.NoError(t, err)

		assert.Equal(t, PaymentFailed, got.PaymentStatus)
		assert.Equal(t, StatusCancelled, got.Status)
		assert.Equal(t, []string{EventOrderUpdate}, staff.names(), "failures are not broadcast")
	})
	t.Run("RepeatIsNoop", func(t *testing.T) {
		f := newFixture(t)
		o := f.place(t, "alice")

		first, err := f.svc.VerifyPayment(ctx, o.ID, false)
		require.NoError(t, err)
		second, err := f.svc.VerifyPayment(ctx, o.ID, false)
		require.NoError(t, err)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.PaymentStatus, second.PaymentStatus)
	})
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("InvalidStatus", func(t *testing.T) {
		f := newFixture(t)
		o := f.place(t, "alice")
		_, err := f.svc.UpdateStatus(ctx, o.ID, Status("lost"))
		require.ErrorIs(t, err, apperr.ErrInvalid)
	})
	t.Run("NotFound", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.UpdateStatus(ctx, "missing", StatusPreparing)
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
	})
	t.Run("FanOut", func(t *testing.T) {
		f := newFixture(t)
		o := f.place(t, "alice")

		staff := &testConn{id: "staff"}
		alice := &testConn{id: "alice"}
		bob := &testConn{id: "bob"}
		f.hub.Subscribe(staff, notify.Staff())
		f.hub.Subscribe(alice, notify.User("alice"))
		f.hub.Subscribe(bob, notify.User("bob"))

		_, err := f.svc.UpdateStatus(ctx, o.ID, StatusOutForDelivery)
		require.NoError(t, err)

		require.Equal(t, []string{EventOrderUpdate}, staff.names())
		assert.JSONEq(t,
			`{"orderId":"`+o.ID+`","previousStatus":"confirmed","newStatus":"out_for_delivery","deliveredTimestamp":null}`,
			string(staff.frames[0].Data),
		)
		require.Equal(t, []string{EventMyOrderUpdate}, alice.names())
		assert.JSONEq(t, `{"orderId":"`+o.ID+`","newStatus":"out_for_delivery"}`, string(alice.frames[0].Data))
		assert.Empty(t, bob.frames)
	})
	t.Run("DeliveredTwice", func(t *testing.T) {
		f := newFixture(t)
		o := f.place(t, "alice")

		f.clock.Advance(30 * time.Minute)
		first, err := f.svc.UpdateStatus(ctx, o.ID, StatusDelivered)
		require.NoError(t, err)
		require.NotNil(t, first.DeliveredAt)
		firstAt := *first.DeliveredAt

		f.clock.Advance(5 * time.Minute)
		second, err := f.svc.UpdateStatus(ctx, o.ID, StatusDelivered)
		require.NoError(t, err)
		require.NotNil(t, second.DeliveredAt)
		assert.True(t, second.DeliveredAt.After(firstAt))
	})
	t.Run("TerminalStatusesStayPermissive", func(t *testing.T) {
		f := newFixture(t)
		o := f.place(t, "alice")

		_, err := f.svc.UpdateStatus(ctx, o.ID, StatusCancelled)
		require.NoError(t, err)
		got, err := f.svc.UpdateStatus(ctx, o.ID, StatusDelivered)
		require.NoError(t, err)
		assert.Equal(t, StatusDelivered, got.Status)
		assert.NotNil(t, got.DeliveredAt)

		got, err = f.svc.UpdateStatus(ctx, o.ID, StatusPreparing)
		require.NoError(t, err)
		assert.Equal(t, StatusPreparing, got.Status)
	})
	t.Run("Journal", func(t *testing.T) {
		f := newFixture(t)
		o := f.place(t, "alice")

		_, err := f.svc.UpdateStatus(ctx, o.ID, StatusPreparing)
		require.NoError(t, err)

		require.Len(t, f.journal.events, 2)
		ev := f.journal.events[1]
		assert.Equal(t, JournalOrderStatusChanged, ev.Type)
		assert.Equal(t, StatusConfirmed, ev.PreviousStatus)
		assert.Equal(t, StatusPreparing, ev.Order.Status)
	})
}

func TestGetForUser(t *testing.T) {
	f := newFixture(t)
	o := f.place(t, "alice")

	got, err := f.svc.GetForUser(context.Background(), o.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = f.svc.GetForUser(context.Background(), o.ID, "bob")
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := f.place(t, "alice")
	second := f.place(t, "bob") // same timestamp as first
	f.clock.Advance(time.Minute)
	third := f.place(t, "alice")

	mine, err := f.svc.ListForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, third.ID, mine[0].ID)
	assert.Equal(t, first.ID, mine[1].ID)

	all, err := f.svc.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.Equal(t, "Alice Doe", all[0].Owner.Name)
	assert.Equal(t, "alice@example.com", all[0].Owner.Email)
	assert.Equal(t, Owner{ID: "bob"}, all[1].Owner)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a := f.place(t, "alice")
	b := f.place(t, "alice")
	f.place(t, "bob")

	_, err := f.svc.UpdateStatus(ctx, a.ID, StatusDelivered)
	require.NoError(t, err)
	_, err = f.svc.VerifyPayment(ctx, b.ID, false)
	require.NoError(t, err)

	st, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Count(StatusDelivered))
	assert.Equal(t, 1, st.Count(StatusCancelled))
	assert.Equal(t, 1, st.Count(StatusConfirmed))
	assert.Equal(t, 0, st.Count(StatusPending))
	assert.True(t, st.Revenue.Equal(decimal.RequireFromString("54.00")), st.Revenue.String())
}

func TestParseStatus(t *testing.T) {
	for _, st := range Statuses {
		got, err := ParseStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	_, err := ParseStatus("shipped")
	var invalid *InvalidStatusError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "shipped", invalid.Value)
}
