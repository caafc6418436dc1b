package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type probeBody struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func probe(t *testing.T, h *Health, p Probe) (int, probeBody) {
	t.Helper()
	w := httptest.NewRecorder()
	h.Handler(p).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body probeBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func passing(context.Context) error { return nil }

func TestHandler_Liveness(t *testing.T) {
	h := New()
	h.Register(Liveness, "goroutines", passing)
	h.Register(Liveness, "db", failing("connection refused"))

	code, body := probe(t, h, Liveness)
	assert.Equal(t, http.StatusOK, code, "checks start healthy")
	assert.Equal(t, "ok", body.Status)

	db := h.checks[Liveness][1]
	for range 3 {
		db.run(context.Background())
	}

	code, body = probe(t, h, Liveness)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", body.Status)
	assert.Equal(t, map[string]string{"db": "connection refused"}, body.Checks)
}

func TestHandler_ReadinessGate(t *testing.T) {
	h := New()
	h.Register(Readiness, "postgres", passing)

	code, body := probe(t, h, Readiness)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks, "_readiness")
	assert.False(t, h.IsReady())

	h.SetReady(true)
	code, _ = probe(t, h, Readiness)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, h.IsReady())

	h.SetReady(false)
	assert.False(t, h.IsReady())
}

func TestCheck_Thresholds(t *testing.T) {
	var fail atomic.Bool
	h := New()
	h.Register(Readiness, "redis", func(context.Context) error {
		if fail.Load() {
			return errors.New("timeout")
		}
		return nil
	}, WithThresholds(2, 2))
	h.SetReady(true)
	c := h.checks[Readiness][0]
	ctx := context.Background()

	fail.Store(true)
	c.run(ctx)
	assert.True(t, h.IsReady(), "one failure is tolerated")
	c.run(ctx)
	assert.False(t, h.IsReady())

	fail.Store(false)
	c.run(ctx)
	assert.False(t, h.IsReady(), "one success is not enough to recover")
	c.run(ctx)
	assert.True(t, h.IsReady())
}

func TestCheck_Timeout(t *testing.T) {
	h := New()
	h.Register(Liveness, "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithTimeout(10*time.Millisecond), WithThresholds(1, 1))

	h.checks[Liveness][0].run(context.Background())

	code, body := probe(t, h, Liveness)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body.Checks["slow"], "deadline exceeded")
}

func TestStartStop(t *testing.T) {
	var runs atomic.Int32
	h := New()
	h.Register(Readiness, "counter", func(context.Context) error {
		runs.Add(1)
		return nil
	})

	h.Start(context.Background(), 5*time.Millisecond)
	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)

	h.Stop()
	h.Stop()
	time.Sleep(20 * time.Millisecond)
	stopped := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), stopped+1)
}

func TestCheckers(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, Goroutines(1_000_000)(ctx))
	assert.Error(t, Goroutines(0)(ctx))
	assert.NoError(t, GCPause(time.Hour)(ctx))

	down := ErrPinger(func(context.Context) error { return errors.New("refused") })
	err := Ping("redis", down)(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping redis")

	assert.NoError(t, Ping("postgres", ErrPinger(passing))(ctx))
}
