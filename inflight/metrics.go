/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package inflight

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetrics exposes the state of a Tracker.
type PrometheusMetrics struct {
	InFlight    prometheus.GaugeFunc
	Transitions *prometheus.CounterVec

	unsubscribe func()
}

// NewPrometheusMetrics creates collectors reading from the given tracker.
// Call Close to detach the transitions counter from the tracker.
func NewPrometheusMetrics(tracker *Tracker, namespace string) *PrometheusMetrics {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "activity_transitions_total",
		Help:      "Number of busy/idle transitions of in-flight operations.",
	}, []string{"state"})
	pm := &PrometheusMetrics{
		InFlight: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "operations_in_flight",
			Help:      "Current number of in-flight operations (outbound calls and served API requests).",
		}, func() float64 { return float64(tracker.Count()) }),
		Transitions: transitions,
	}
	pm.unsubscribe = tracker.Subscribe(func(busy bool) {
		state := "idle"
		if busy {
			state = "busy"
		}
		transitions.WithLabelValues(state).Inc()
	})
	return pm
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (pm *PrometheusMetrics) MustRegister() {
	prometheus.MustRegister(pm.InFlight, pm.Transitions)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (pm *PrometheusMetrics) Unregister() {
	prometheus.Unregister(pm.InFlight)
	prometheus.Unregister(pm.Transitions)
}

// Close stops counting transitions.
func (pm *PrometheusMetrics) Close() {
	pm.unsubscribe()
}
