package auth

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/noah-isme/backend-rewards/internal/common"
)

var errMissingSubject = errors.New("auth: token missing subject")

// Verifier validates customer access tokens issued by the identity service.
// Only HS256 is accepted; the subject is the customer id.
type Verifier struct {
	opts []jwt.ParseOption
}

// VerifierConfig configures a Verifier. Empty Issuer or Audience skips that check.
type VerifierConfig struct {
	Secret    string
	Issuer    string
	Audience  string
	ClockSkew time.Duration
	Now       func() time.Time
}

// NewVerifier constructs an HS256 token verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: secret is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	opts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, []byte(cfg.Secret)),
		jwt.WithValidate(true),
		jwt.WithClock(jwt.ClockFunc(now)),
		jwt.WithAcceptableSkew(cfg.ClockSkew),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &Verifier{opts: opts}, nil
}

// ParseAccessToken verifies signature and claims and returns the customer id.
// Failures are *common.AppError with status 401.
func (v *Verifier) ParseAccessToken(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", unauthorized("missing token", nil)
	}
	parsed, err := jwt.ParseString(token, v.opts...)
	if err != nil {
		return "", unauthorized("invalid token", err)
	}
	subject := strings.TrimSpace(parsed.Subject())
	if subject == "" {
		return "", unauthorized("invalid token", errMissingSubject)
	}
	return subject, nil
}

func unauthorized(msg string, cause error) error {
	return common.NewAppError("UNAUTHORIZED", msg, http.StatusUnauthorized, cause)
}
