/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/watchtower/inflight"
)

func TestInFlightTracking(t *testing.T) {
	tracker := inflight.NewTracker()
	var transitions []bool
	unsubscribe := tracker.Subscribe(func(busy bool) { transitions = append(transitions, busy) })
	defer unsubscribe()

	var countInHandler int
	handler := InFlightTracking(tracker)(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		countInHandler = tracker.Count()
		if r.URL.Path == "/panic" {
			panic("boom")
		}
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, 1, countInHandler)
	require.Equal(t, 0, tracker.Count())

	require.Panics(t, func() {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/panic", nil))
	})
	require.Equal(t, 0, tracker.Count())
	require.Equal(t, []bool{true, false, true, false}, transitions)
}
