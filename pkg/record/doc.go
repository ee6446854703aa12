// Package record implements the in-memory layout and concurrency protocol
// of records in the mutable region of a log-structured key-value store.
//
// A record is a [StoredKey] followed by a [Value], both placed by the
// surrounding engine into storage it allocated. This package never
// allocates record space itself; the engine asks for sizes via [KeySize]
// and [UpsertContext.ValueSize], carves out buffers, and hands them back.
//
// # Value layout
//
//	offset  size  field
//	0       8     generation lock word (see package genlock)
//	8       4     allocated size (header + capacity), write-once
//	12      4     live length
//	16      ...   payload
//
// # Write paths
//
//   - [UpsertContext.Put] initializes freshly allocated, unpublished space.
//     No locking.
//   - [UpsertContext.PutAtomic] updates a published record in place under
//     the generation lock. Returns false when the record was replaced or is
//     too small; the engine then allocates a new record elsewhere.
//
// # Read paths
//
//   - [ReadContext.Get] copies a record that can no longer change
//     (immutable region).
//   - [ReadContext.GetAtomic] copies a record that may be updated
//     concurrently. It never blocks a writer and never returns a torn
//     payload: copies that overlap a write are retried until stable.
//
// Nothing in this package logs or returns errors from the hot path; all
// outcomes are plain results for the engine to act on.
package record
