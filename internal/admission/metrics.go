/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	policyLabel = "policy"
	dryRunLabel = "dry_run"
)

// PrometheusMetrics represents collector of metrics for admission policies.
type PrometheusMetrics struct {
	Rejections *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	return &PrometheusMetrics{
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Number of requests rejected by admission policies.",
		}, []string{policyLabel, dryRunLabel}),
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.Rejections)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.Rejections)
}

// IncRejections increments the rejections counter of the policy.
func (pm *PrometheusMetrics) IncRejections(policy string, dryRun bool) {
	pm.Rejections.WithLabelValues(policy, strconv.FormatBool(dryRun)).Inc()
}
