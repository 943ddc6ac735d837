/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package inflight provides Tracker, a process-wide counter of outstanding operations
// (outbound calls to upstream services, API requests being served).
// Subscribers are notified about aggregate transitions only: busy when the counter goes from 0 to 1
// and idle when it drops back to 0. The dashboard uses these transitions to show a global activity indicator.
package inflight
