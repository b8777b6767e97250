package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func newProtectedRouter() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var seen string
	r := gin.New()
	r.GET("/protected", Middleware(testSecret), func(c *gin.Context) {
		if sub, ok := c.Get(ContextUserID); ok {
			seen = sub.(string)
		}
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	userID := uuid.New()
	token, err := IssueToken(testSecret, userID, []string{"treasury"}, time.Hour)
	require.NoError(t, err)

	router, seen := newProtectedRouter()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID.String(), *seen)
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	router, _ := newProtectedRouter()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsWrongSecret(t *testing.T) {
	token, err := IssueToken("other-secret", uuid.New(), nil, time.Hour)
	require.NoError(t, err)

	router, _ := newProtectedRouter()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	token, err := IssueToken(testSecret, uuid.New(), nil, -time.Minute)
	require.NoError(t, err)

	router, _ := newProtectedRouter()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
