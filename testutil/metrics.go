/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package testutil

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// RequireSamplesCountInHistogram asserts that the histogram (or a single child of a HistogramVec)
// has observed exactly wantSamplesCount values.
func RequireSamplesCountInHistogram(t require.TestingT, hist prometheus.Collector, wantSamplesCount int) {
	if h, ok := t.(tHelper); ok {
		h.Helper()
	}
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(hist))
	gotMetrics, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, gotMetrics, 1)
	var total uint64
	for _, m := range gotMetrics[0].GetMetric() {
		total += m.GetHistogram().GetSampleCount()
	}
	require.Equal(t, wantSamplesCount, int(total))
}
