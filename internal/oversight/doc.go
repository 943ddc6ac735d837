/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package oversight serves the API of the oversight dashboard. Credentials are verified by the identity
// collaborator, the monitored data (politicians, contracts, court cases, social posts) is owned by
// the data collaborator, and both are reached over HTTP. The package also publishes the busy/idle state
// of the service so the dashboard can show a global activity indicator.
package oversight
