package common

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// IdempotencyHeader carries the client generated key.
const IdempotencyHeader = "Idempotency-Key"

const replayedHeader = "Idempotent-Replayed"

// Idem replays the first response recorded for an Idempotency-Key. Keys are
// scoped to the authenticated customer and bound to the method, path and body
// they were first used with.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

type idemRecord struct {
	Fingerprint string `json:"fp"`
	Done        bool   `json:"done"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

func idemKey(ctx context.Context, key string) string {
	customer, _ := CustomerID(ctx)
	return "idem:" + Sha256Hex(customer+"|"+key)
}

// Middleware implements chi middleware for write endpoints.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(IdempotencyHeader)
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "unreadable body", nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		key := idemKey(ctx, header)
		fp := Sha256Hex(r.Method + " " + r.URL.Path + "\n" + string(body))
		pending, _ := json.Marshal(idemRecord{Fingerprint: fp})
		claimed, err := i.R.SetNX(ctx, key, pending, i.ttl()).Result()
		if err != nil {
			i.storeError(w, r, err)
			return
		}
		if !claimed {
			i.replay(w, r, key, fp)
			return
		}

		var buf bytes.Buffer
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		ww.Tee(&buf)
		completed := false
		defer func() {
			// the key must never stay pending, even when next panics
			if !completed {
				_ = i.R.Del(context.WithoutCancel(ctx), key).Err()
			}
		}()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			return
		}
		done, _ := json.Marshal(idemRecord{
			Fingerprint: fp,
			Done:        true,
			Status:      status,
			ContentType: ww.Header().Get("Content-Type"),
			Body:        buf.Bytes(),
		})
		if err := i.R.Set(context.WithoutCancel(ctx), key, done, i.ttl()).Err(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("store idempotent response")
			return
		}
		completed = true
	})
}

func (i Idem) replay(w http.ResponseWriter, r *http.Request, key, fp string) {
	raw, err := i.R.Get(r.Context(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		JSONError(w, http.StatusConflict, "IDEMPOTENT_IN_PROGRESS", "request with this key is still in progress", nil)
		return
	}
	if err != nil {
		i.storeError(w, r, err)
		return
	}
	var rec idemRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		i.storeError(w, r, err)
		return
	}
	switch {
	case rec.Fingerprint != fp:
		JSONError(w, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "key was used with a different request", nil)
	case !rec.Done:
		JSONError(w, http.StatusConflict, "IDEMPOTENT_IN_PROGRESS", "request with this key is still in progress", nil)
	default:
		if rec.ContentType != "" {
			w.Header().Set("Content-Type", rec.ContentType)
		}
		w.Header().Set(replayedHeader, strconv.FormatBool(true))
		w.WriteHeader(rec.Status)
		_, _ = w.Write(rec.Body)
	}
}

func (i Idem) storeError(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Msg("idempotency store")
	JSONError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "idempotency store unavailable", nil)
}

func (i Idem) ttl() time.Duration {
	if i.TTL <= 0 {
		return 24 * time.Hour
	}
	return i.TTL
}
