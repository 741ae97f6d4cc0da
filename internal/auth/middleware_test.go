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
	"go.uber.org/zap"
)

func newRouter(t *testing.T, v *Verifier) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", Middleware(v, zap.NewNop()))
	NewHandler().RegisterRoutes(g)
	g.GET("/admin", RequireRole(RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	v, err := NewVerifier("secret", "agrilend-auth")
	require.NoError(t, err)
	userID := uuid.New()
	token, err := v.Issue(userID, RoleBuyer, time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	newRouter(t, v).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
	assert.Contains(t, w.Body.String(), "BUYER")
}

func TestMiddlewareRejectsMissingAndForeignTokens(t *testing.T) {
	v, _ := NewVerifier("secret", "agrilend-auth")
	other, _ := NewVerifier("other-secret", "agrilend-auth")
	foreign, err := other.Issue(uuid.New(), RoleAdmin, time.Minute)
	require.NoError(t, err)

	r := newRouter(t, v)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+foreign)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddlewareRejectsExpiredToken(t *testing.T) {
	v, _ := NewVerifier("secret", "")
	token, err := v.Issue(uuid.New(), RoleBuyer, -time.Minute)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/auth/me?access_token="+token, nil)
	newRouter(t, v).ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRole(t *testing.T) {
	v, _ := NewVerifier("secret", "")
	buyer, _ := v.Issue(uuid.New(), RoleBuyer, time.Minute)
	admin, _ := v.Issue(uuid.New(), RoleAdmin, time.Minute)
	r := newRouter(t, v)

	for token, want := range map[string]int{buyer: http.StatusForbidden, admin: http.StatusNoContent} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("", "")
	assert.Error(t, err)
}
