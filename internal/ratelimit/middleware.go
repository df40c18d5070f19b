// Package ratelimit throttles promo code endpoints per customer.
package ratelimit

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-rewards/internal/common"
)

// Rate allows Max hits per Window. A non-positive field disables limiting.
type Rate struct {
	Window time.Duration
	Max    int
}

func (r Rate) disabled() bool { return r.Window <= 0 || r.Max <= 0 }

// Decision is the outcome of registering one hit.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func unlimited(rate Rate, now time.Time) Decision {
	return Decision{Allowed: true, Limit: rate.Max, Remaining: rate.Max, ResetAt: now.Add(rate.Window)}
}

// Limiter registers a hit for key under rate.
type Limiter interface {
	Allow(ctx context.Context, key string, rate Rate) (Decision, error)
}

// CustomerKey keys limits by the authenticated customer, falling back to the client IP.
func CustomerKey(r *http.Request) string {
	if id, ok := common.CustomerID(r.Context()); ok && id != "" {
		return "customer:" + id
	}
	if ip := common.ClientIP(r); ip != "" {
		return "ip:" + ip
	}
	return ""
}

// Handler rejects requests over Rate with 429. Limiter failures let the
// request through and are passed to OnError, or logged when it is nil.
type Handler struct {
	Limiter Limiter
	Rate    Rate
	Key     func(*http.Request) string
	OnError func(error)
}

// Middleware implements chi middleware.
func (h Handler) Middleware(next http.Handler) http.Handler {
	if h.Limiter == nil || h.Key == nil || h.Rate.disabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := h.Key(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}
		d, err := h.Limiter.Allow(r.Context(), key, h.Rate)
		if err != nil {
			if h.OnError != nil {
				h.OnError(err)
			} else {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("rate limiter unavailable")
			}
			next.ServeHTTP(w, r)
			return
		}

		headers := w.Header()
		headers.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		headers.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		retryAfter := int(math.Ceil(time.Until(d.ResetAt).Seconds()))
		retryAfter = max(retryAfter, 1)
		headers.Set("Retry-After", strconv.Itoa(retryAfter))
		common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many promo code attempts",
			map[string]int{"retry_after_seconds": retryAfter})
	})
}
