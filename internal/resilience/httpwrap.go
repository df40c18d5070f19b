package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient wraps an http.Client with retry, timeout and circuit-breaker logic.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Target      string
	Logger      *zerolog.Logger
	// Retryable decides whether an attempt may be repeated. Defaults to RetryTransient.
	Retryable func(*http.Response, error) bool
}

// RetryTransient retries transport errors, 429 and 5xx responses.
func RetryTransient(resp *http.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled)
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// Do executes the request applying retry semantics. The request body is
// buffered so it can be replayed. ErrOpenCircuit is returned, wrapping the
// last attempt error if any, when the breaker refuses an attempt. The final
// retryable response is returned to the caller rather than turned into an error.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	retryable := cl.Retryable
	if retryable == nil {
		retryable = RetryTransient
	}
	target := cl.target()

	body, err := replayableBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
			countAttempt(target, "rejected")
			if lastErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrOpenCircuit, lastErr)
			}
			return nil, ErrOpenCircuit
		}

		resp, err := cl.doOnce(ctx, cloneRequest(ctx, req, body))
		failed := err != nil || resp.StatusCode >= 500
		if cl.Breaker != nil {
			cl.Breaker.Report(ctx, !failed)
		}
		if !failed {
			countAttempt(target, "ok")
		} else {
			countAttempt(target, "error")
		}

		if attempt == maxAttempts || !retryable(resp, err) {
			return resp, err
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = errors.New(resp.Status)
			drainAndClose(resp)
		}

		wait := Backoff(cl.BaseBackoff, attempt, cl.Jitter)
		if cl.Logger != nil {
			cl.Logger.Debug().Err(lastErr).Str("target", target).Int("attempt", attempt).Dur("wait", wait).Msg("retrying upstream call")
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (cl HTTPClient) target() string {
	if t := strings.TrimSpace(cl.Target); t != "" {
		return t
	}
	if cl.Breaker != nil {
		return cl.Breaker.Target()
	}
	return "default"
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	// the deadline must outlive Do so callers can still read the body
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// replayableBody reads the request body once so every attempt can resend it.
func replayableBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		src = fresh
	}
	data, err := io.ReadAll(src)
	_ = src.Close()
	return data, err
}

func cloneRequest(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
