// Package server hosts the storefront API and the embedded web shell from a
// single HTTP server.
//
// The server builds a consistent middleware chain of logging, audit, metrics,
// rate limiting, CORS, security headers, request IDs, and auth so handlers
// all share common protections and instrumentation.
package server
