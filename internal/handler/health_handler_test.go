package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubChecker struct {
	err error
}

func (s stubChecker) HealthCheck(ctx context.Context) error {
	return s.err
}

func newHealthRouter(components map[string]HealthChecker) *gin.Engine {
	h := NewHealthHandler(components)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
	return router
}

func TestHealthHandler_Health(t *testing.T) {
	router := newHealthRouter(nil)

	w := doJSON(router, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthHandler_Ready(t *testing.T) {
	tests := []struct {
		name       string
		components map[string]HealthChecker
		wantStatus int
		want       map[string]string
	}{
		{
			name: "all healthy",
			components: map[string]HealthChecker{
				"postgres": stubChecker{},
				"redis":    stubChecker{},
			},
			wantStatus: http.StatusOK,
			want:       map[string]string{"postgres": "healthy", "redis": "healthy"},
		},
		{
			name: "optional dependency absent",
			components: map[string]HealthChecker{
				"postgres": stubChecker{},
				"redis":    nil,
			},
			wantStatus: http.StatusOK,
			want:       map[string]string{"postgres": "healthy", "redis": "not configured"},
		},
		{
			name: "database down",
			components: map[string]HealthChecker{
				"postgres": stubChecker{err: errors.New("connection refused")},
				"redis":    stubChecker{},
			},
			wantStatus: http.StatusServiceUnavailable,
			want:       map[string]string{"postgres": "unhealthy: connection refused", "redis": "healthy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newHealthRouter(tt.components)

			w := doJSON(router, http.MethodGet, "/ready", nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			var resp ReadyResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Components)
		})
	}
}
