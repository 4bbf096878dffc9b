// Package testutil provides testing utilities for cloudblob.
//
// This package is intended for use in tests only. It generates
// reproducible random blobs keyed by their digest and manages the local
// files stores read from and write to.
//
//	rng := testutil.NewRNG(4711)
//	blob := rng.Blob(1 << 10)
//	path := testutil.WriteFile(t, blob.Data)
//	_, err := store.WriteFile(ctx, blob.Key, path)
package testutil
