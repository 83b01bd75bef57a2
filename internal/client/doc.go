// Package client provides the storefront-side API client: an HTTP wrapper
// bound to the BrightCart API origin that injects bearer credentials,
// tracks in-flight requests for a shared busy indicator, normalizes error
// payloads, and tears the session down on unauthorized responses. The
// package also hosts the route guard used to gate admin views.
package client
