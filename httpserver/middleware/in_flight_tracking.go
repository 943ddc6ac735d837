/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package middleware

import (
	"net/http"

	"github.com/acronis/watchtower/inflight"
)

// InFlightTracking is a middleware that accounts every served request as an in-flight operation of the tracker.
// The operation ends when the handler returns, even if it panics.
func InFlightTracking(tracker *inflight.Tracker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
			tracker.Begin()
			defer tracker.End()
			next.ServeHTTP(rw, r)
		})
	}
}
