package auth

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-rewards/internal/common"
)

func TestRequireAuthSetsCustomerID(t *testing.T) {
	mw := Middleware{Verifier: newTestVerifier(t)}
	token := signToken(t, testSecret, func(b *jwt.Builder) *jwt.Builder { return b.Subject("customer-7") })

	var got string
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = common.CustomerID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bags/b-1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "customer-7", got)
}

func TestRequireAuthReadsCookie(t *testing.T) {
	mw := Middleware{Verifier: newTestVerifier(t), AccessCookie: "access_token"}
	token := signToken(t, testSecret, func(b *jwt.Builder) *jwt.Builder { return b.Subject("customer-8") })

	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := common.CustomerID(r.Context())
		require.True(t, ok)
		require.Equal(t, "customer-8", id)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: token})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	mw := Middleware{Verifier: newTestVerifier(t)}
	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}

func TestAuthenticateIgnoresInvalidToken(t *testing.T) {
	mw := Middleware{Verifier: newTestVerifier(t)}
	called := false
	handler := mw.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		_, ok := common.CustomerID(r.Context())
		require.False(t, ok)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.True(t, called)
}

func TestRequireAuthWithoutVerifier(t *testing.T) {
	handler := Middleware{}.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthScopesLoggerToCustomer(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	mw := Middleware{Verifier: newTestVerifier(t)}
	token := signToken(t, testSecret, func(b *jwt.Builder) *jwt.Builder { return b.Subject("customer-9") })

	handler := mw.RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		zerolog.Ctx(r.Context()).Info().Msg("authorised")
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+token)
	req = req.WithContext(logger.WithContext(req.Context()))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Contains(t, buf.String(), `"customer_id":"customer-9"`)
}
