/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package middleware contains HTTP middlewares for the API server:
// request ids, logging, panic recovery, metrics, body size limiting, in-flight tracking, and rate limiting.
package middleware
