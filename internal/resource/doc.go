// Package resource throttles remote transfers.
//
// A [Controller] combines three independent limits:
//
//   - In-flight uploads: a weighted semaphore bounding concurrent uploads
//   - Upload bandwidth: a token bucket charged per byte read from the source
//   - Operation rate: a token bucket charged per metadata call (GC deletes)
//
//	rc := resource.NewController(resource.Config{
//	    MaxInFlight:        4,
//	    IOLimitBytesPerSec: 64 << 20,
//	    OpsPerSec:          100,
//	})
//
//	if err := rc.Acquire(ctx); err != nil {
//	    return err
//	}
//	defer rc.Release()
//	r := rc.Reader(ctx, file)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully; they become no-ops.
// Stores therefore carry an optional controller without nil checks.
package resource
