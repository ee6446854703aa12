// Package genlock implements the generation lock: a single 64-bit word that
// packs a generation counter, a "locked" bit and a sticky "replaced" bit.
//
// Writers serialize through [Lock.TryLock] / [Lock.Unlock]. Readers never
// take the lock; they read [State.Generation] before and after copying the
// protected bytes and retry when the two differ (seqlock).
//
// # Word layout
//
//	bit  0..61  generation
//	bit  62     locked
//	bit  63     replaced (sticky: once set, never cleared)
package genlock

import (
	"runtime"
	"sync/atomic"
)

// Bit layout constants.
const (
	generationBits = 62

	generationMask uint64 = 1<<generationBits - 1
	lockedBit      uint64 = 1 << 62
	replacedBit    uint64 = 1 << 63

	// unlockDelta clears locked and adds one generation: word - lockedBit + 1.
	unlockDelta = lockedBit - 1

	// replaceDelta clears locked, sets replaced and adds one generation:
	// word - lockedBit + replacedBit + 1.
	replaceDelta = replacedBit - lockedBit + 1
)

// MaxGeneration is the largest value the generation field can hold.
const MaxGeneration = generationMask

// Size is the size of the lock word in bytes.
const Size = 8

// State is a decoded snapshot of a lock word.
type State struct {
	Generation uint64
	Locked     bool
	Replaced   bool
}

// FromWord decodes a raw lock word.
func FromWord(word uint64) State {
	return State{
		Generation: word & generationMask,
		Locked:     word&lockedBit != 0,
		Replaced:   word&replacedBit != 0,
	}
}

// Word encodes s into a raw lock word. Generation is truncated to 62 bits.
func (s State) Word() uint64 {
	word := s.Generation & generationMask

	if s.Locked {
		word |= lockedBit
	}

	if s.Replaced {
		word |= replacedBit
	}

	return word
}

// Result is the outcome of [Lock.TryLock].
type Result uint8

const (
	// Acquired means the caller now holds the lock and must call Unlock.
	Acquired Result = iota

	// Contended means another writer holds the lock. Transient; retry.
	Contended

	// AlreadyReplaced means the slot was superseded. Permanent; do not retry.
	AlreadyReplaced
)

func (r Result) String() string {
	switch r {
	case Acquired:
		return "acquired"
	case Contended:
		return "contended"
	case AlreadyReplaced:
		return "already replaced"
	default:
		return "unknown"
	}
}

// Lock is an atomic generation lock word.
//
// The zero value is an unlocked, unreplaced lock at generation 0. A Lock may
// live inside a larger byte buffer (see record.Value); it must be 8-byte
// aligned and must not be copied after first use.
type Lock struct {
	word atomic.Uint64
}

// Load returns a snapshot of the word using a single atomic read.
func (l *Lock) Load() State {
	return FromWord(l.word.Load())
}

// Store overwrites the whole word.
//
// Only valid while nothing else can observe the lock, e.g. when initializing
// freshly allocated, unpublished record space.
func (l *Lock) Store(s State) {
	l.word.Store(s.Word())
}

// TryLock attempts to set the locked bit with one compare-and-swap, leaving
// generation and replaced untouched.
func (l *Lock) TryLock() Result {
	old := l.word.Load()

	if old&replacedBit != 0 {
		return AlreadyReplaced
	}

	if old&lockedBit != 0 {
		return Contended
	}

	if l.word.CompareAndSwap(old, old|lockedBit) {
		return Acquired
	}

	// Lost the race. Re-read so a concurrent replace is never reported as
	// transient contention.
	if l.word.Load()&replacedBit != 0 {
		return AlreadyReplaced
	}

	return Contended
}

// SpinLock retries TryLock while it reports Contended, yielding the
// processor between attempts. Returns Acquired or AlreadyReplaced.
func (l *Lock) SpinLock() Result {
	for {
		res := l.TryLock()
		if res != Contended {
			return res
		}

		runtime.Gosched()
	}
}

// Unlock releases a lock acquired by TryLock and advances the generation by
// one. With markReplaced the replaced bit is set in the same atomic update,
// after which every TryLock returns AlreadyReplaced.
//
// At [MaxGeneration] the generation wraps to 0 instead of carrying into the
// locked bit.
//
// Calling Unlock without holding the lock corrupts the word.
func (l *Lock) Unlock(markReplaced bool) {
	old := l.word.Load()

	// Only the holder writes a locked word, so a plain store is safe here.
	if old&generationMask == generationMask {
		next := old &^ (lockedBit | generationMask)
		if markReplaced {
			next |= replacedBit
		}

		l.word.Store(next)

		return
	}

	if markReplaced {
		l.word.Add(replaceDelta)

		return
	}

	// Subtract unlockDelta (two's complement add).
	l.word.Add(^(unlockDelta - 1))
}
