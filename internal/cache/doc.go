// Package cache implements the versioned cache storage behind the offline
// agent. A generation (the CacheName token, e.g. salah-times-v1) is a named
// bucket of request → response snapshots; exactly one generation is current
// and it is chosen by the lifecycle controller, never by this package.
//
// Storage drivers persist generations either on disk (temp file + rename under
// StoragePath/<generation>/) or in process memory. Manager layers the
// operations the agent needs on top: all-or-nothing manifest population,
// pruning of superseded generations, exact-match lookup and snapshotting
// stores. Request/Response model the single-use body semantics of fetched
// resources so callers duplicate before the first read.
package cache
