package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PromoResolutionTotal counts promo target resolutions by kind.
	PromoResolutionTotal *prometheus.CounterVec
	// BagSplitTotal counts bag rewrites triggered by discount application.
	BagSplitTotal *prometheus.CounterVec
	// RewardsUpstreamTotal counts calls to the rewards API by operation and outcome.
	RewardsUpstreamTotal *prometheus.CounterVec
	// RewardsUpstreamLatency records rewards API latency in milliseconds.
	RewardsUpstreamLatency *prometheus.HistogramVec
	// AuditTasksTotal counts discount audit tasks by outcome.
	AuditTasksTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PromoResolutionTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_resolution_total",
			Help:      "Count of promo target resolutions by kind.",
		}, []string{"kind"}))
		BagSplitTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bag_rewrite_total",
			Help:      "Count of bag rewrites applied after discount pricing.",
		}, []string{"reason"}))
		RewardsUpstreamTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rewards_upstream_total",
			Help:      "Count of rewards API calls by operation and result.",
		}, []string{"operation", "result"}))
		RewardsUpstreamLatency = registerOrReuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rewards_upstream_duration_ms",
			Help:      "Latency for rewards API calls in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"operation"}))
		AuditTasksTotal = registerOrReuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discount_audit_tasks_total",
			Help:      "Count of discount audit task outcomes.",
		}, []string{"result"}))
	})
}

// IncPromoResolution records a resolution outcome when domain metrics are registered.
func IncPromoResolution(kind string) {
	if PromoResolutionTotal != nil {
		PromoResolutionTotal.WithLabelValues(kind).Inc()
	}
}

// IncBagRewrite records a bag rewrite when domain metrics are registered.
func IncBagRewrite(reason string) {
	if BagSplitTotal != nil {
		BagSplitTotal.WithLabelValues(reason).Inc()
	}
}

// ObserveRewardsCall records a rewards API call when domain metrics are registered.
func ObserveRewardsCall(operation, result string, millis float64) {
	if RewardsUpstreamTotal != nil {
		RewardsUpstreamTotal.WithLabelValues(operation, result).Inc()
	}
	if RewardsUpstreamLatency != nil {
		RewardsUpstreamLatency.WithLabelValues(operation).Observe(millis)
	}
}

// IncAuditTask records a processed audit task when domain metrics are registered.
func IncAuditTask(result string) {
	if AuditTasksTotal != nil {
		AuditTasksTotal.WithLabelValues(result).Inc()
	}
}
