package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAuth = &AuthConfig{Secret: "test-secret", Issuer: "facility-test"}

func setupAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/me", RequireAuth(testAuth), func(c *gin.Context) {
		uid, _ := GetUserID(c)
		c.String(http.StatusOK, uid+"|"+c.GetString(ContextKeyRole))
	})
	router.GET("/admin", RequireAuth(testAuth), RequireRole(RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func bearer(t *testing.T, userID, role string, claims jwt.RegisteredClaims) string {
	t.Helper()
	tok, err := IssueToken(testAuth, userID, role, claims)
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestRequireAuth(t *testing.T) {
	valid := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	expired := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))}

	tests := []struct {
		name       string
		header     func(t *testing.T) string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "missing header",
			header:     func(t *testing.T) string { return "" },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "valid token",
			header:     func(t *testing.T) string { return bearer(t, "user-1", "user", valid) },
			wantStatus: http.StatusOK,
			wantBody:   "user-1|user",
		},
		{
			name:       "expired token",
			header:     func(t *testing.T) string { return bearer(t, "user-1", "user", expired) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "wrong secret",
			header: func(t *testing.T) string {
				tok, err := IssueToken(&AuthConfig{Secret: "other", Issuer: testAuth.Issuer}, "user-1", "user", valid)
				require.NoError(t, err)
				return "Bearer " + tok
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "wrong issuer",
			header: func(t *testing.T) string {
				tok, err := IssueToken(&AuthConfig{Secret: testAuth.Secret, Issuer: "someone-else"}, "user-1", "user", valid)
				require.NoError(t, err)
				return "Bearer " + tok
			},
			wantStatus: http.StatusUnauthorized,
		},
	}

	router := setupAuthRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if h := tt.header(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	router := setupAuthRouter()
	claims := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", bearer(t, "user-1", "user", claims))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", bearer(t, "admin-1", RoleAdmin, claims))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestLogger_SetsRequestIDAndObserves(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var observedRoute string
	router := gin.New()
	router.Use(RequestLogger(func(method, route string, status int, d time.Duration) {
		observedRoute = route
	}))
	router.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, "/items/:id", observedRoute)
}

func getTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 500 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestIdempotency_ReplaysResponse(t *testing.T) {
	rdb := getTestRedis(t)
	gin.SetMode(gin.TestMode)

	var calls atomic.Int32
	router := gin.New()
	router.Use(Idempotency(&IdempotencyConfig{Redis: rdb, TTL: time.Minute}))
	router.POST("/reservations", func(c *gin.Context) {
		calls.Add(1)
		c.JSON(http.StatusCreated, gin.H{"id": "r-1"})
	})

	key := uuid.New().String()
	send := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(body))
		req.Header.Set(IdempotencyKeyHeader, key)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	first := send(`{"a":1}`)
	second := send(`{"a":1}`)
	reused := send(`{"a":2}`)

	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, http.StatusUnprocessableEntity, reused.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestIdempotency_NoHeaderPassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Idempotency(&IdempotencyConfig{Redis: redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})}))
	router.POST("/x", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusAccepted, w.Code)
}
