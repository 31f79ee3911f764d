// Package server hosts the Fiber HTTP service that fronts the caching worker:
// the request middleware chain, request IDs, and the host registry that maps
// the incoming Host header to the first-party origin or a known asset host.
// Proxy handlers and diagnostics routes are injected by the caller so this
// package stays free of worker semantics; keep exports narrow and accept
// explicit dependencies.
package server
