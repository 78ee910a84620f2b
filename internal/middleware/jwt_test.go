package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/auth-api/internal/service"
	"github.com/noah-isme/auth-api/internal/token"
)

func newGuardedRouter(codec *token.Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := service.NewAuthService(nil, nil, nil, codec, nil, nil, nil, service.AuthConfig{})

	router := gin.New()
	router.GET("/protected", JWT(svc), func(c *gin.Context) {
		claims, ok := CurrentClaims(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"userId": claims.UserID})
	})
	return router
}

func TestJWTAllowsValidToken(t *testing.T) {
	codec := token.NewManager(token.Config{Secret: "secret", Issuer: "auth-api", TTL: time.Hour})
	router := newGuardedRouter(codec)

	signed, _, err := codec.Issue("u1", "user@example.com", time.Now())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "u1")
}

func TestJWTRejectsMissingHeader(t *testing.T) {
	codec := token.NewManager(token.Config{Secret: "secret", TTL: time.Hour})
	router := newGuardedRouter(codec)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTRejectsExpiredToken(t *testing.T) {
	codec := token.NewManager(token.Config{Secret: "secret", TTL: time.Minute})
	router := newGuardedRouter(codec)

	signed, _, err := codec.Issue("u1", "user@example.com", time.Now().Add(-time.Hour))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTRejectsTamperedToken(t *testing.T) {
	codec := token.NewManager(token.Config{Secret: "secret", TTL: time.Hour})
	router := newGuardedRouter(codec)

	other := token.NewManager(token.Config{Secret: "different", TTL: time.Hour})
	signed, _, err := other.Issue("u1", "user@example.com", time.Now())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWTRejectsMalformedScheme(t *testing.T) {
	codec := token.NewManager(token.Config{Secret: "secret", TTL: time.Hour})
	router := newGuardedRouter(codec)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Token abc")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
