/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package lrucache provides a bounded in-memory store with LRU eviction, per-entry expiration, and Prometheus metrics.
// Rate limiters keep their per-key counters here, so the number of tracked clients never exceeds the configured limit
// and idle clients are forgotten once their entries expire.
package lrucache
