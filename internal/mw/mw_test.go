package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"device-relay-backend/internal/auth"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 2, time.Minute)
	r := gin.New()
	r.Use(RateLimit(limiter))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	assert.Equal(t, http.StatusOK, do(r, "GET", "/ping", "").Code)
	assert.Equal(t, http.StatusOK, do(r, "GET", "/ping", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, "GET", "/ping", "").Code)
}

func TestIPRateLimiter_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewIPRateLimiter(rate.Limit(1), 1, time.Minute)
	limiter.now = func() time.Time { return now }

	limiter.GetLimiter("10.0.0.1")
	now = now.Add(2 * time.Minute)
	limiter.GetLimiter("10.0.0.2")

	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 1, limiter.Len())
}

func TestAuthenticate(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Hour)
	r := gin.New()
	r.GET("/me", Authenticate(tokens), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"adminId": AdminID(c)})
	})

	assert.Equal(t, http.StatusUnauthorized, do(r, "GET", "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "GET", "/me", "not-a-jwt").Code)

	deviceToken, err := tokens.IssueToken("admin-001", auth.RoleDevice, "device-001")
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, do(r, "GET", "/me", deviceToken).Code)

	adminToken, err := tokens.IssueToken("admin-001", auth.RoleAdmin, "")
	require.NoError(t, err)
	w := do(r, "GET", "/me", adminToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"adminId":"admin-001"}`, w.Body.String())
}

func TestCache_ScopedPerAdmin(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Hour)
	calls := 0
	r := gin.New()
	r.GET("/items", Authenticate(tokens), Cache(cache.New(time.Minute, time.Minute), time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"owner": AdminID(c)})
	})

	a, _ := tokens.IssueToken("admin-a", auth.RoleAdmin, "")
	b, _ := tokens.IssueToken("admin-b", auth.RoleAdmin, "")

	assert.JSONEq(t, `{"owner":"admin-a"}`, do(r, "GET", "/items", a).Body.String())
	w := do(r, "GET", "/items", a)
	assert.JSONEq(t, `{"owner":"admin-a"}`, w.Body.String())
	assert.Equal(t, "HIT", w.Header().Get("X-Cache"))
	assert.Equal(t, 1, calls)

	assert.JSONEq(t, `{"owner":"admin-b"}`, do(r, "GET", "/items", b).Body.String())
	assert.Equal(t, 2, calls)
}

func TestCache_SkipsErrors(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Hour)
	calls := 0
	r := gin.New()
	r.GET("/fail", Authenticate(tokens), Cache(cache.New(time.Minute, time.Minute), time.Minute), func(c *gin.Context) {
		calls++
		c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
	})

	a, _ := tokens.IssueToken("admin-a", auth.RoleAdmin, "")
	do(r, "GET", "/fail", a)
	do(r, "GET", "/fail", a)
	assert.Equal(t, 2, calls)
}

func TestCache_SkipsAnonymousRequests(t *testing.T) {
	calls := 0
	r := gin.New()
	r.GET("/open", Cache(cache.New(time.Minute, time.Minute), time.Minute), func(c *gin.Context) {
		calls++
		c.Status(http.StatusOK)
	})

	do(r, "GET", "/open", "")
	w := do(r, "GET", "/open", "")
	assert.Equal(t, 2, calls)
	assert.Empty(t, w.Header().Get("X-Cache"))
}

func TestMetrics_PassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(Metrics())
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, do(r, "GET", "/ok", "").Code)
	assert.Equal(t, http.StatusNotFound, do(r, "GET", "/missing", "").Code)
}
