package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sirosfoundation/go-server-mongo/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(cfg config.AuthConfig) *gin.Engine {
	router := gin.New()
	router.Use(AuthMiddleware(cfg, zap.NewNop()))
	router.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("subject"))
	})
	return router
}

func doRequest(router http.Handler, authHeader string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	w := doRequest(newAuthRouter(config.AuthConfig{}), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "test-secret", Issuer: "server-mongo"}
	token, err := IssueToken(cfg, "operator", time.Hour)
	require.NoError(t, err)

	w := doRequest(newAuthRouter(cfg), "Bearer "+token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "operator", w.Body.String())
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "test-secret", Issuer: "server-mongo"}
	router := newAuthRouter(cfg)

	expired, err := IssueToken(cfg, "operator", -time.Hour)
	require.NoError(t, err)
	wrongSecret, err := IssueToken(config.AuthConfig{JWTSecret: "other", Issuer: "server-mongo"}, "operator", time.Hour)
	require.NoError(t, err)
	wrongIssuer, err := IssueToken(config.AuthConfig{JWTSecret: "test-secret", Issuer: "someone-else"}, "operator", time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"empty token", "Bearer  "},
		{"garbage", "Bearer not-a-jwt"},
		{"expired", "Bearer " + expired},
		{"wrong secret", "Bearer " + wrongSecret},
		{"wrong issuer", "Bearer " + wrongIssuer},
		{"alg none", "Bearer " + none},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, tt.header)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestIssueToken_RequiresSecret(t *testing.T) {
	_, err := IssueToken(config.AuthConfig{}, "x", time.Hour)
	assert.Error(t, err)
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	generated := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestLogger_PassesThrough(t *testing.T) {
	router := gin.New()
	router.Use(RequestID(), Logger(zap.NewNop()))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 3}, zap.NewNop())

	allowed := 0
	for i := 0; i < 5; i++ {
		if rl.Allow("10.0.0.1") {
			allowed++
		}
	}
	assert.Equal(t, 3, allowed)
	assert.True(t, rl.Allow("10.0.0.2"), "other clients have their own bucket")
}

func TestRateLimiter_Disabled(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: false, Burst: 1}, zap.NewNop())
	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow("x"))
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.001, Burst: 1}, zap.NewNop())
	router := gin.New()
	router.Use(RateLimitMiddleware(rl))
	router.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
