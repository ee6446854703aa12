package record

import (
	"fmt"
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/calvinalkan/fasterkv/pkg/genlock"
)

// Value header field offsets (bytes from the start of the value).
const (
	offGenLock       = 0  // uint64, atomic
	offAllocatedSize = 8  // uint32, write-once
	offLiveLength    = 12 // uint32

	// ValueHeaderSize is the fixed header in front of the payload.
	ValueHeaderSize = 16
)

// valueAlignment is required for atomic access to the lock word.
const valueAlignment = 8

// MaxValueLength is the largest payload a Value can describe.
const MaxValueLength = math.MaxUint32 - ValueHeaderSize

// ValueSize returns the bytes a value with an n-byte payload occupies.
func ValueSize(n uint32) uint64 {
	return ValueHeaderSize + uint64(n)
}

// Value is a view over a value record living in engine storage.
//
// Header and payload are only changed through [UpsertContext]; Value itself
// exposes read-only accessors.
type Value struct {
	buf []byte
}

// ValueAt returns a view over the value record at the start of buf.
//
// buf must hold at least the header, be 8-byte aligned, and extend over the
// record's whole allocated size. Fresh (zeroed) space is a valid argument;
// initialize it with [UpsertContext.Put] before publishing it.
func ValueAt(buf []byte) (Value, error) {
	if len(buf) < ValueHeaderSize {
		return Value{}, fmt.Errorf("value header needs %d bytes, buffer has %d: %w", ValueHeaderSize, len(buf), ErrInvalidInput)
	}

	if uintptr(unsafe.Pointer(&buf[0]))%valueAlignment != 0 {
		return Value{}, fmt.Errorf("value buffer not %d-byte aligned: %w", valueAlignment, ErrInvalidInput)
	}

	return Value{buf: buf}, nil
}

// Lock returns the record's generation lock.
func (v Value) Lock() *genlock.Lock {
	// SAFETY: ValueAt checked that buf[0] is 8-byte aligned and backs at
	// least the header.
	return (*genlock.Lock)(unsafe.Pointer(&v.buf[offGenLock]))
}

// Capacity returns the allocated size: header plus payload capacity, fixed
// when the record was initialized.
func (v Value) Capacity() uint32 {
	return v.allocatedSize().Load()
}

// Len returns the current live payload length.
//
// The value may change concurrently; use [ReadContext.GetAtomic] for a
// consistent payload/length pair.
func (v Value) Len() uint32 {
	return v.liveLength().Load()
}

// fits reports whether an n-byte payload fits the allocated size.
func (v Value) fits(n uint32) bool {
	return uint64(v.Capacity()) >= ValueSize(n)
}

func (v Value) allocatedSize() *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&v.buf[offAllocatedSize]))
}

func (v Value) liveLength() *atomic.Uint32 {
	return (*atomic.Uint32)(unsafe.Pointer(&v.buf[offLiveLength]))
}

// payload returns the first n payload bytes. Panics if the buffer is
// shorter than the header plus n.
func (v Value) payload(n uint32) []byte {
	end := ValueHeaderSize + int(n)

	return v.buf[ValueHeaderSize:end:end]
}
