// Package cache implements the named, versioned cache partitions the worker
// reads and writes. A Registry owns a set of partitions (app shell, static
// assets, audio stream, dynamic content, plus any foreign partition created by
// other components) and exposes create/open/enumerate/delete primitives. Each
// partition maps a GET request (method + absolute URL) to a stored 200
// response. Two backends are provided: a disk layout rooted at StoragePath
// that writes entries via temp file + rename, and an in-process layout backed
// by go-cache. Strategies depend only on Registry and Partition and never on
// a specific backend.
package cache
