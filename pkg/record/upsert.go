package record

import (
	"fmt"

	"github.com/calvinalkan/fasterkv/pkg/genlock"
)

// UpsertContext carries one write call: borrowed key and value bytes.
//
// The engine invokes exactly one of [UpsertContext.Put] (new record) or
// [UpsertContext.PutAtomic] (existing mutable record) per placement
// attempt. The context never retains the target after returning.
type UpsertContext struct {
	key   KeyView
	value []byte
	n     uint32
}

// NewUpsertContext builds a write context over key and value without
// copying either. Returns [ErrInvalidInput] if value is longer than
// [MaxValueLength].
func NewUpsertContext(key, value []byte) (UpsertContext, error) {
	if uint64(len(value)) > MaxValueLength {
		return UpsertContext{}, fmt.Errorf("value length %d exceeds max %d: %w", len(value), uint64(MaxValueLength), ErrInvalidInput)
	}

	return UpsertContext{
		key:   NewKeyView(key),
		value: value,
		n:     uint32(len(value)),
	}, nil
}

// Key returns the transient key view.
func (c UpsertContext) Key() KeyView {
	return c.key
}

// ValueLen returns the requested payload length.
func (c UpsertContext) ValueLen() uint32 {
	return c.n
}

// ValueSize returns the bytes the engine must reserve for a new value
// record holding this payload.
func (c UpsertContext) ValueSize() uint64 {
	return ValueSize(c.n)
}

// Put initializes a brand-new value record and copies the payload into it.
//
// v must be freshly allocated, unpublished space of at least ValueSize()
// bytes: nothing may read or write it concurrently.
func (c UpsertContext) Put(v Value) {
	v.Lock().Store(genlock.State{})
	v.allocatedSize().Store(uint32(c.ValueSize()))
	v.liveLength().Store(c.n)
	copy(v.payload(c.n), c.value)
}

// PutAtomic updates a published value record in place.
//
// Returns false without touching the record when its lock word reports
// replaced. Returns false and marks the record replaced when the payload
// does not fit its allocated size; the engine must then place a new record
// elsewhere. The allocated size is never changed.
func (c UpsertContext) PutAtomic(v Value) bool {
	lock := v.Lock()

	if lock.SpinLock() == genlock.AlreadyReplaced {
		return false
	}

	// Capacity is write-once, but checking it under the lock keeps the
	// replace decision and the copy serialized with other writers.
	if !v.fits(c.n) {
		lock.Unlock(true)

		return false
	}

	v.liveLength().Store(c.n)
	copy(v.payload(c.n), c.value)

	lock.Unlock(false)

	return true
}
