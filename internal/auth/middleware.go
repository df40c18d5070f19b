package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-rewards/internal/common"
)

var (
	errNoToken      = errors.New("auth: token missing")
	errNoVerifier   = errors.New("auth: verifier not configured")
	errUnauthorized = common.NewAppError("UNAUTHORIZED", "missing or invalid token", http.StatusUnauthorized, nil)
)

// Middleware resolves the calling customer from a bearer token or, when
// AccessCookie is set, from that cookie.
type Middleware struct {
	Verifier     *Verifier
	AccessCookie string
}

// Authenticate attaches the customer when a valid token is present and
// otherwise lets the request through anonymously.
func (m Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ctx, err := m.authenticate(r); err == nil {
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests without a valid token with 401.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := m.authenticate(r)
		if err != nil {
			if errors.Is(err, errNoVerifier) {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("auth")
			}
			if !common.WriteAppError(w, err) {
				common.WriteAppError(w, errUnauthorized)
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m Middleware) authenticate(r *http.Request) (context.Context, error) {
	if m.Verifier == nil {
		return nil, errNoVerifier
	}
	token := m.token(r)
	if token == "" {
		return nil, errNoToken
	}
	customerID, err := m.Verifier.ParseAccessToken(token)
	if err != nil {
		return nil, err
	}
	ctx := common.WithCustomerID(r.Context(), customerID)
	logger := zerolog.Ctx(ctx).With().Str("customer_id", customerID).Logger()
	return logger.WithContext(ctx), nil
}

func (m Middleware) token(r *http.Request) string {
	scheme, credentials, ok := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if ok && strings.EqualFold(scheme, "bearer") {
		return strings.TrimSpace(credentials)
	}
	if m.AccessCookie == "" {
		return ""
	}
	if cookie, err := r.Cookie(m.AccessCookie); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
