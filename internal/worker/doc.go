// Package worker is the caching core of the AudioX edge: a versioned worker
// that pre-caches the app shell on Install, garbage-collects stale partitions
// on Activate, and answers every intercepted request through Handle by
// classifying it into a routing class and running that class's caching
// strategy against the cache Registry and the network Fetcher.
//
// Workers are immutable once constructed: all deployment-specific inputs
// (partition prefix, version, manifest, asset hosts, API prefix, stream
// marker) arrive through Options. A Registration holds the installing,
// waiting and active workers, tracks page clients, and accepts control
// messages such as SKIP_WAITING. The HTTP server is only an adapter around
// Registration and Worker.Handle.
package worker
