package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-fx/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter(t *testing.T) (*gin.Engine, *auth.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := auth.NewService("secret")
	svc.RegisterAPICredentials("c1", "pw")
	svc.RegisterAPICredentials("ops", "pw", auth.PermissionSimulate)

	router := gin.New()
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }

	clients := router.Group("/clients", JWTAuth(svc))
	clients.POST("/simulate/rate-update", RequirePermission(auth.PermissionSimulate), ok)
	clients.GET("/:clientId/state", ClientScope(), ok)
	return router, svc
}

func token(t *testing.T, svc *auth.Service, key string) string {
	t.Helper()
	tok, err := svc.GenerateToken(auth.Credentials{APIKey: key, APISecret: "pw"})
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func do(router *gin.Engine, method, path, authz string) int {
	req := httptest.NewRequest(method, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w.Code
}

func TestJWTAuth(t *testing.T) {
	router, svc := newAuthRouter(t)

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/clients/c1/state", ""))
	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/clients/c1/state", "Bearer junk"))
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/clients/c1/state", token(t, svc, "c1")))
}

func TestClientScope(t *testing.T) {
	router, svc := newAuthRouter(t)

	assert.Equal(t, http.StatusForbidden, do(router, http.MethodGet, "/clients/c2/state", token(t, svc, "c1")))
}

func TestRequirePermission(t *testing.T) {
	router, svc := newAuthRouter(t)

	assert.Equal(t, http.StatusForbidden, do(router, http.MethodPost, "/clients/simulate/rate-update", token(t, svc, "c1")))
	assert.Equal(t, http.StatusOK, do(router, http.MethodPost, "/clients/simulate/rate-update", token(t, svc, "ops")))
}

func TestRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit())
	router.POST("/auth/token", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := func() int {
		r := httptest.NewRequest(http.MethodPost, "/auth/token", nil)
		r.RemoteAddr = "10.1.2.3:1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, req())
	assert.Equal(t, http.StatusTooManyRequests, req())
}
