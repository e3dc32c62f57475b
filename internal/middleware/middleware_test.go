package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/studyhall-marketplace/internal/config"
	"github.com/iliyamo/studyhall-marketplace/internal/model"
	"github.com/iliyamo/studyhall-marketplace/internal/utils"
)

const secret = "test-secret"

func whoami(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"user_id": c.Get("user_id"), "role": c.Get("role")})
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", whoami, JWTAuth(secret))
	e.GET("/quote", whoami, OptionalJWT(secret))
	e.GET("/stream", whoami, StreamJWT(secret))

	tok, err := utils.NewAccessToken(secret, 42, model.RoleStudent, 5)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Token)
	rec := serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":42,"role":"STUDENT"}`, rec.Body.String())

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	rec = serve(e, httptest.NewRequest(http.MethodGet, "/quote", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user_id":null,"role":null}`, rec.Body.String())

	// query tokens only work on the stream endpoint
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/me?access_token="+tok.Token, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = serve(e, httptest.NewRequest(http.MethodGet, "/stream?access_token="+tok.Token, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin", whoami, JWTAuth(secret), RequireRole(model.RoleAdmin, model.RoleSettlement))

	for role, want := range map[string]int{
		model.RoleAdmin:      http.StatusOK,
		model.RoleSettlement: http.StatusOK,
		model.RoleStudent:    http.StatusForbidden,
	} {
		tok, err := utils.NewAccessToken(secret, 1, role, 5)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+tok.Token)
		assert.Equal(t, want, serve(e, req).Code, role)
	}
}

func rateConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Second,
		TTL:            time.Minute,
		KeyStrategy:    "ip",
		Prefix:         "rl",
	}
}

func TestTokenBucket(t *testing.T) {
	fixed := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	clock = func() time.Time { return fixed }
	t.Cleanup(func() { clock = time.Now })

	rdb, mock := redismock.NewClientMock()
	cfg := rateConfig()
	e := echo.New()
	e.GET("/halls", whoami, NewTokenBucket(cfg, rdb, zap.NewNop()))

	args := []interface{}{fixed.UnixMilli(), cfg.Capacity, cfg.RefillTokens, cfg.RefillInterval.Milliseconds(), int64(60)}
	mock.ExpectEvalSha(limiterScript.Hash(), []string{"rl:ip:192.0.2.1"}, args...).
		SetVal([]interface{}{int64(1), int64(1), int64(0)})
	mock.ExpectEvalSha(limiterScript.Hash(), []string{"rl:ip:192.0.2.1"}, args...).
		SetVal([]interface{}{int64(0), int64(0), int64(1500)})

	req := httptest.NewRequest(http.MethodGet, "/halls", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	rec := serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))

	req = httptest.NewRequest(http.MethodGet, "/halls", nil)
	req.RemoteAddr = "192.0.2.1:5555"
	rec = serve(e, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucket_FailsOpen(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	e := echo.New()
	e.GET("/halls", whoami, NewTokenBucket(rateConfig(), rdb, zap.NewNop()))
	mock.MatchExpectationsInOrder(false)
	// no expectations: every Redis call errors
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/halls", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRedisCache_Hit(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "c"}

	e := echo.New()
	calls := 0
	e.GET("/v1/halls", func(c echo.Context) error {
		calls++
		return c.String(http.StatusOK, "fresh")
	}, NewRedisCache(cfg, rdb, zap.NewNop()))

	req := httptest.NewRequest(http.MethodGet, "/v1/halls?city=Pune", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/halls")
	key := cacheKeyFrom(cfg, c)

	hdr := http.Header{}
	hdr.Set("Content-Type", "text/plain")
	payload, err := encodePayload(http.StatusOK, hdr, []byte("cached"))
	require.NoError(t, err)
	mock.ExpectGet(key).SetVal(string(payload))

	rec := serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cached", rec.Body.String())
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Zero(t, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisCache_SkipsOtherMethods(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "c"}
	e := echo.New()
	e.POST("/v1/enquiries", func(c echo.Context) error { return c.NoContent(http.StatusCreated) }, NewRedisCache(cfg, rdb, zap.NewNop()))

	rec := serve(e, httptest.NewRequest(http.MethodPost, "/v1/enquiries", nil))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Cache"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
