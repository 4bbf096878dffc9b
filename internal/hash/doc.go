// Package hash provides the CRC32-Castagnoli checksums attached to uploads.
//
// Both GCS and S3 accept a client-computed CRC32C and reject the object when
// the bytes received do not match, which turns a corrupted upload into an
// error instead of a silently damaged blob.
//
// For one-shot checksums:
//
//	checksum := hash.CRC32C(data)
//
// For files, stream once before the upload:
//
//	sum, size, err := hash.ReaderCRC32C(f)
package hash
