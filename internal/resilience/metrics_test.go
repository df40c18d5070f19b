package resilience

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestBreakerAndAttemptMetrics(t *testing.T) {
	MustRegisterMetrics("test", prometheus.NewRegistry())
	breakerState.Reset()
	breakerTransitions.Reset()
	upstreamAttempts.Reset()

	now := time.Unix(0, 0)
	breaker := NewBreaker(BreakerConfig{Target: "metrics-api", OpenFor: time.Second, Now: func() time.Time { return now }})
	ctx := context.Background()

	require.True(t, breaker.Allow(ctx))
	breaker.Report(ctx, false)
	require.Equal(t, 1.0, testutil.ToFloat64(breakerState.WithLabelValues("metrics-api")))

	now = now.Add(time.Second)
	require.True(t, breaker.Allow(ctx))
	require.Equal(t, 2.0, testutil.ToFloat64(breakerState.WithLabelValues("metrics-api")))

	breaker.Report(ctx, true)
	require.Equal(t, 0.0, testutil.ToFloat64(breakerState.WithLabelValues("metrics-api")))
	require.Equal(t, 1.0, testutil.ToFloat64(breakerTransitions.WithLabelValues("metrics-api", "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(breakerTransitions.WithLabelValues("metrics-api", "open", "half_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(breakerTransitions.WithLabelValues("metrics-api", "half_open", "closed")))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := HTTPClient{Client: srv.Client(), Target: "metrics-api"}.Do(ctx, req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, 1.0, testutil.ToFloat64(upstreamAttempts.WithLabelValues("metrics-api", "ok")))
}
