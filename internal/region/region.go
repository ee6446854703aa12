// Package region provides the in-memory log region records are allocated
// from: one anonymous mmap handed out by a lock-free bump pointer.
//
// Addresses are byte offsets into the mapping. Address 0 is reserved as nil,
// and every allocation is 8-byte aligned so headers starting at an address
// can hold atomic 64-bit words.
//
// The mapping lives outside the Go heap. Seqlock readers copy payload bytes
// that a writer may be changing concurrently (the copy is validated and
// retried), and keeping those bytes off-heap keeps such intentional races
// out of the race detector's view.
package region

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Alignment of every address returned by [Region.Alloc].
const Alignment = 8

// MinSize is the smallest accepted region size.
const MinSize = 4096

// Nil is the reserved null address.
const Nil uint64 = 0

var (
	// ErrFull indicates the region has no room for the requested allocation.
	//
	// Space is never reclaimed; open a larger region.
	ErrFull = errors.New("region: full")

	// ErrInvalidInput indicates a bad size argument.
	ErrInvalidInput = errors.New("region: invalid input")
)

// Region is a fixed-size, append-only byte arena.
//
// Alloc, Bytes and Tail are safe for concurrent use. Close must not run
// concurrently with any other method.
type Region struct {
	data []byte
	tail atomic.Uint64

	closeOnce sync.Once
	closeErr  error
}

// New maps a zeroed region of size bytes (rounded up to the page size).
func New(size int) (*Region, error) {
	if size < MinSize {
		return nil, fmt.Errorf("size %d below minimum %d: %w", size, MinSize, ErrInvalidInput)
	}

	pageSize := unix.Getpagesize()
	size = (size + pageSize - 1) / pageSize * pageSize

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %d bytes: %w", size, err)
	}

	r := &Region{data: data}

	// Keep address 0 free so it can mean "no record".
	r.tail.Store(Alignment)

	return r, nil
}

// Alloc reserves n bytes and returns their address. The reserved bytes are
// zero on first use (fresh mapping) and belong to the caller until it
// publishes them.
func (r *Region) Alloc(n uint64) (uint64, error) {
	if n == 0 {
		return Nil, fmt.Errorf("zero-length allocation: %w", ErrInvalidInput)
	}

	size := uint64(len(r.data))
	aligned := Align(n)

	if aligned < n {
		return Nil, fmt.Errorf("allocation of %d bytes overflows: %w", n, ErrInvalidInput)
	}

	for {
		cur := r.tail.Load()
		next := cur + aligned

		if next < cur || next > size {
			return Nil, fmt.Errorf("allocate %d bytes at %d of %d: %w", n, cur, size, ErrFull)
		}

		if r.tail.CompareAndSwap(cur, next) {
			return cur, nil
		}
	}
}

// Bytes returns the n bytes starting at addr. The slice aliases the mapping
// and is only valid until Close.
func (r *Region) Bytes(addr, n uint64) []byte {
	return r.data[addr : addr+n : addr+n]
}

// Tail returns the first unallocated address.
func (r *Region) Tail() uint64 {
	return r.tail.Load()
}

// Size returns the mapped size in bytes.
func (r *Region) Size() uint64 {
	return uint64(len(r.data))
}

// Close unmaps the region. Idempotent.
func (r *Region) Close() error {
	r.closeOnce.Do(func() {
		err := unix.Munmap(r.data)
		if err != nil {
			r.closeErr = fmt.Errorf("munmap: %w", err)
		}

		r.data = nil
	})

	return r.closeErr
}

// Align rounds n up to the next multiple of [Alignment].
func Align(n uint64) uint64 {
	return (n + Alignment - 1) &^ (Alignment - 1)
}
