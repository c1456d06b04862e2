package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type body struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func probeOf(h func(http.ResponseWriter, *http.Request)) (int, body) {
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, "/", nil))
	var b body
	_ = json.NewDecoder(w.Body).Decode(&b)
	return w.Code, b
}

func ok(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func TestLiveEndpoint(t *testing.T) {
	h := New()
	h.Live(Check{Name: "goroutines", Func: ok})
	h.Live(Check{Name: "db", Func: failing("connection refused")})

	code, b := probeOf(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "probes start healthy")
	assert.Equal(t, "ok", b.Status)

	db := h.liveness[1]
	ctx := context.Background()
	db.run(ctx)
	db.run(ctx)
	code, _ = probeOf(h.LiveEndpoint)
	assert.Equal(t, http.StatusOK, code, "below threshold")

	db.run(ctx)
	code, b = probeOf(h.LiveEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", b.Status)
	assert.Equal(t, map[string]string{"db": "connection refused"}, b.Checks)
}

func TestReadyEndpoint(t *testing.T) {
	h := New()
	h.Ready(Check{Name: "postgres", Func: ok})
	h.Ready(Check{Name: "redis", Func: failing("dial tcp: refused"), FailureThreshold: 1})

	code, b := probeOf(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "service is not ready", b.Checks["_readiness"])
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, _ = probeOf(h.ReadyEndpoint)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	h.readiness[1].run(context.Background())
	code, b = probeOf(h.ReadyEndpoint)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, map[string]string{"redis": "dial tcp: refused"}, b.Checks)
	assert.False(t, h.IsReady())

	h.SetReady(false)
	_, b = probeOf(h.ReadyEndpoint)
	assert.Len(t, b.Checks, 2)
}

func TestProbeRecovers(t *testing.T) {
	down := true
	p := newProbe(Check{Name: "flaky", Func: func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	}})
	ctx := context.Background()
	for range 3 {
		p.run(ctx)
	}
	msg, failed := p.failure()
	require.True(t, failed)
	assert.Equal(t, "down", msg)

	down = false
	p.run(ctx)
	_, failed = p.failure()
	assert.False(t, failed)
	assert.Nil(t, p.lastErr.Load())
}

func TestProbeTimeout(t *testing.T) {
	p := newProbe(Check{Name: "slow", Timeout: 10 * time.Millisecond, FailureThreshold: 1, Func: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	p.run(context.Background())
	msg, failed := p.failure()
	require.True(t, failed)
	assert.Contains(t, msg, "deadline")
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.Live(Check{Name: "live", Func: failing("err")})
	h.Ready(Check{Name: "ready", Func: ok})
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				h.IsReady()
				probeOf(h.LiveEndpoint)
				probeOf(h.ReadyEndpoint)
			}
		}()
	}
	wg.Wait()
	h.Stop()
	h.Stop()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	ctx := context.Background()
	assert.NoError(t, GoroutineCountCheck(100000)(ctx))
	err := GoroutineCountCheck(0)(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")

	assert.NoError(t, PingCheck(pinger{})(ctx))
	err = PingCheck(pinger{err: errors.New("refused")})(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}
