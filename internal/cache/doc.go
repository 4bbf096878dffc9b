// Package cache provides the local caches placed in front of remote blob
// stores.
//
// # Disk Cache
//
// DiskCache keeps whole blobs as files so that callers needing a local path
// can be served without a download:
//   - Files are written to a temporary name and renamed into place
//   - LRU eviction with configurable size limits
//   - Concurrent misses for one key share a single download
//   - Rebuilds its index from disk on startup
//
// # LRU
//
// LRU is a generic count-bounded cache used for small metadata such as blob
// lengths.
package cache
