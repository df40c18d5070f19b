package obs_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-rewards/internal/obs"
)

func TestDomainMetricsRecordOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("rewards", registry)

	obs.IncPromoResolution("single")
	obs.IncPromoResolution("single")
	obs.IncBagRewrite("split")
	obs.ObserveRewardsCall("discount", "ok", 12)

	require.Equal(t, 2.0, testutil.ToFloat64(obs.PromoResolutionTotal.WithLabelValues("single")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.BagSplitTotal.WithLabelValues("split")))
	require.Equal(t, 1.0, testutil.ToFloat64(obs.RewardsUpstreamTotal.WithLabelValues("discount", "ok")))
	require.Equal(t, 1, testutil.CollectAndCount(obs.RewardsUpstreamLatency))
}
