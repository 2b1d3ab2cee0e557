// Package parquet implements the columnar store: reading and writing one
// partition file as a typed row batch.
//
// Writes are atomic from any reader's point of view. A batch is serialized
// to a sibling temporary file, fsynced, and published with a single rename
// onto the target path. A crash before the rename leaves the previous
// partition contents (or absence) untouched; a crash after it leaves the new
// contents fully visible. Readers never need a lock.
//
// The Store interface is the seam for swapping the local filesystem for an
// object store; everything above this package addresses partitions by path
// only.
package parquet
