package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newEngine(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(mw)
	engine.GET("/track/:id", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	engine.POST("/trigger", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return engine
}

func get(engine *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.1.2.3:4567"
	engine.ServeHTTP(w, req)
	return w
}

func TestRateLimiterDeniesOverLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: "2-S", AddHeaders: true}, nil)
	engine := newEngine(rl.Middleware())

	require.Equal(t, http.StatusOK, get(engine, "/track/e_1").Code)
	require.Equal(t, http.StatusOK, get(engine, "/track/e_1").Code)

	w := get(engine, "/track/e_1")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.NotEmpty(t, w.Header().Get("Retry-After"))
	require.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimiterSkipsConfiguredPaths(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: "1-S", SkipPaths: []string{"/health"}}, nil)
	engine := newEngine(rl.Middleware())

	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, get(engine, "/health").Code)
	}
}

func TestRateLimiterPerRouteOverride(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		Rate:          "100-S",
		PerRouteRates: map[string]string{"/track/:id": "1-S"},
	}, nil)
	engine := newEngine(rl.Middleware())

	require.Equal(t, http.StatusOK, get(engine, "/track/e_1").Code)
	require.Equal(t, http.StatusTooManyRequests, get(engine, "/track/e_1").Code)
	require.Equal(t, http.StatusOK, get(engine, "/health").Code)
}

func TestIdempotencyMiddleware(t *testing.T) {
	engine := newEngine(IdempotencyMiddleware(IdempotencyConfig{TTL: time.Minute}))

	post := func(key string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader("{}"))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		engine.ServeHTTP(w, req)
		return w
	}

	require.Equal(t, http.StatusOK, post("k1").Code)
	require.Equal(t, http.StatusConflict, post("k1").Code)
	require.Equal(t, http.StatusOK, post("k2").Code)

	// no header means no gate here, the lifecycle layer dedupes
	require.Equal(t, http.StatusOK, post("").Code)
	require.Equal(t, http.StatusOK, post("").Code)
}
