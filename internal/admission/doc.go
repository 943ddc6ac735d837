/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package admission builds the request admission policies of the service (the general "api" policy
// and the stricter "auth" policy), turns them into HTTP middlewares and keeps their per-client state bounded.
package admission
