/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package restapi

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsMu             sync.RWMutex
	metricsResponseErrors *prometheus.CounterVec
)

const (
	metricsSubsystem = "restapi"

	metricsLabelResponseErrorStatus = "status"
	metricsLabelResponseErrorCode   = "code"
)

// MustInitAndRegisterMetrics initializes and registers restapi global metrics. Panic will be raised in case of error.
func MustInitAndRegisterMetrics(namespace string) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: metricsSubsystem,
		Name:      "response_errors_total",
		Help:      "The total number of REST API errors that were respond.",
	}, []string{metricsLabelResponseErrorStatus, metricsLabelResponseErrorCode})
	prometheus.MustRegister(counter)

	metricsMu.Lock()
	metricsResponseErrors = counter
	metricsMu.Unlock()
}

// UnregisterMetrics unregisters restapi global metrics.
func UnregisterMetrics() {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	if metricsResponseErrors != nil {
		prometheus.Unregister(metricsResponseErrors)
		metricsResponseErrors = nil
	}
}

func collectErrorMetrics(httpStatusCode int, errCode string) {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	if metricsResponseErrors == nil {
		return
	}
	metricsResponseErrors.With(prometheus.Labels{
		metricsLabelResponseErrorStatus: strconv.Itoa(httpStatusCode),
		metricsLabelResponseErrorCode:   errCode,
	}).Inc()
}
