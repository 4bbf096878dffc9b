// Package fs provides the local filesystem seam used to stage blobs.
//
// Blob stores spool downloads and copies through temporary files. Routing
// those operations through [FileSystem] lets tests inject [FaultyFS] and
// assert that temporary files are removed on every path, including failures.
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("bin_", fs.Fault{FailAfterBytes: 1024})
//	// inject ffs into the store under test
//
// The package does not take a context.Context. Local file operations are not
// interruptible at the syscall level; remote calls live in blobstore.
package fs
