// Package store is a minimal in-memory log-structured key-value engine that
// drives the record protocol of package record.
//
// It owns what the record layer leaves to its collaborator: record
// placement in an append-only region, a hash index of record chains, and
// the boundary between the mutable and the immutable part of the log.
//
// # Basic Usage
//
//	s, err := store.Open(store.Options{})
//	if err != nil {
//	    // handle
//	}
//	defer s.Close()
//
//	err = s.Put([]byte("k"), []byte("v"))
//	val, found, err := s.Get([]byte("k"), nil)
//
// # Updates
//
// Put updates the newest record for a key in place when it lives in the
// mutable region and has room for the new payload. Otherwise it appends a
// new record, marks the old one replaced, and links the new record at the
// head of the key's hash chain.
//
// # Regions
//
// [Store.Seal] freezes everything written so far: afterwards updates to
// those records append copies, and reads of them skip the seqlock once all
// writers that might still touch them have finished.
//
// # Concurrency
//
// All methods are safe for concurrent use. Readers never block writers and
// never observe a partially written value.
//
// # Non-goals
//
// No persistence, recovery, compaction, or space reclamation. [Store.Export]
// and [Store.Import] copy live pairs to and from a file; they are a tool,
// not a durability mechanism.
package store
