// Package digest names the content digests used as blob keys and validates
// key shapes. Only keys that look like a digest of the configured algorithm
// are ever considered by the garbage collector.
package digest
