package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAbort_StopsChain(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	reached := false
	router.GET("/x", func(c *gin.Context) {
		Abort(c, http.StatusForbidden, "FORBIDDEN", "forbidden", "admin only")
	}, func(c *gin.Context) {
		reached = true
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, reached)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "FORBIDDEN", body.Code)
	assert.Equal(t, "admin only", body.Message)
}

func TestPage_IncludesMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/list", func(c *gin.Context) {
		Page(c, http.StatusOK, []string{"a"}, PageMeta{Total: 1, Limit: 20})
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/list", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"data":["a"],"meta":{"total":1,"limit":20,"offset":0}}`, w.Body.String())
}
