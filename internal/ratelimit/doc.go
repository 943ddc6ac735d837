/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package ratelimit provides request admission limiters and a transport-agnostic RequestProcessor.
//
// The primary algorithm is a fixed window counter per key (typically a client IP):
// the first request for a key opens a window, every request in the window increments the counter
// (rejected ones included), and the request that pushes the counter above the quota is rejected.
// Once the window has elapsed, the next request opens a fresh window.
//
// Key features:
//   - Fixed window (in-memory or Redis-backed), leaky bucket (GCRA), and sliding window algorithms
//   - Bounded per-key state: LRU eviction plus expiration of idle windows
//   - Limit, remaining quota, and reset time reported for every decision
//   - No queuing or automatic retry: a rejected request is rejected immediately
package ratelimit
