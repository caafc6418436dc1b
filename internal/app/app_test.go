package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-faster/sdk/zctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/coupon-engine/internal/domain/auth"
	"github.com/xenking/coupon-engine/internal/domain/coupon"
	"github.com/xenking/coupon-engine/internal/handler"
	"github.com/xenking/coupon-engine/internal/repository"
	"github.com/xenking/coupon-engine/pkg/health"
)

type noKeys struct{}

func (noKeys) FindByHash(context.Context, string) (*auth.APIKeyInfo, error) {
	return nil, auth.ErrUnknownKey
}

func newTestRouter(t *testing.T, burst int) (http.Handler, *health.Health) {
	t.Helper()

	ctx, cancel := context.WithCancel(zctx.Base(context.Background(), zaptest.NewLogger(t)))
	t.Cleanup(cancel)

	svc, err := coupon.NewService(repository.NewMemoryRepository())
	require.NoError(t, err)
	security := handler.NewSecurityHandler(noKeys{}, []byte("pepper"), auth.NewTokenVerifier([]byte("secret"), ""))
	h := handler.NewHandler(handler.HandlerConfig{}, svc, security)

	cfg := &Config{
		RateLimit: RateLimitConfig{RPS: 0.001, Burst: burst},
		CORS:      CORSConfig{Origins: []string{"*"}},
	}
	hs := health.New()
	return NewRouter(ctx, cfg, h, hs), hs
}

func serve(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRouter_Probes(t *testing.T) {
	router, hs := newTestRouter(t, 10)

	w := serve(router, http.MethodGet, "/livez", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = serve(router, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	hs.SetReady(true)
	w = serve(router, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_API(t *testing.T) {
	router, _ := newTestRouter(t, 10)

	w := serve(router, http.MethodPost, "/api/coupons/validate", `{"code":"NOPE","orderAmount":10}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"success":false`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = serve(router, http.MethodGet, "/api/admin/coupons", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_RateLimitSkipsProbes(t *testing.T) {
	router, _ := newTestRouter(t, 1)

	w := serve(router, http.MethodPost, "/api/coupons/validate", `{"code":"NOPE","orderAmount":10}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(router, http.MethodPost, "/api/coupons/validate", `{"code":"NOPE","orderAmount":10}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	for range 3 {
		w = serve(router, http.MethodGet, "/livez", "")
		assert.Equal(t, http.StatusOK, w.Code)
	}
}
