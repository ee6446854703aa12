package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// KeyHeaderSize is the fixed header in front of stored key bytes: the key
// length as a little-endian uint64.
const KeyHeaderSize = 8

// Key is the capability shared by both key forms.
//
// Hash and Equal are computed over exactly Len() bytes, so a [KeyView] and
// a [StoredKey] holding the same bytes hash and compare identically.
type Key interface {
	// Len returns the key length in bytes.
	Len() uint64

	// Bytes returns the logical key bytes. Callers must not modify them.
	Bytes() []byte

	// Hash returns the FNV-1a 64-bit hash of Bytes().
	Hash() uint64

	// Equal reports whether other holds the same bytes.
	Equal(other Key) bool

	// Size returns the bytes a stored copy of this key occupies.
	Size() uint64
}

// KeySize returns the stored size of a key of n bytes.
func KeySize(n uint64) uint64 {
	return KeyHeaderSize + n
}

// KeyView is a transient, non-owning key over caller bytes.
//
// It is only valid for the duration of the call that created it (typically
// one lookup); the engine copies it with [WriteKey] when it commits a record.
type KeyView struct {
	b []byte
}

// NewKeyView wraps b without copying.
func NewKeyView(b []byte) KeyView {
	return KeyView{b: b}
}

// Len implements [Key].
func (k KeyView) Len() uint64 { return uint64(len(k.b)) }

// Bytes implements [Key].
func (k KeyView) Bytes() []byte { return k.b }

// Hash implements [Key].
func (k KeyView) Hash() uint64 { return fnv1a64(k.b) }

// Size implements [Key].
func (k KeyView) Size() uint64 { return KeySize(k.Len()) }

// Equal implements [Key].
func (k KeyView) Equal(other Key) bool { return equalKeys(k, other) }

// StoredKey is a key copied into engine-owned storage: a length header
// immediately followed by the key bytes.
//
// The bytes are immutable for the lifetime of the physical record.
type StoredKey struct {
	buf []byte // header + key bytes, exactly Size() long
}

// WriteKey copies k into dst (header first, then bytes) and returns the
// stored form. dst must be at least k.Size() bytes; it is typically a slice
// of freshly allocated log space.
func WriteKey(dst []byte, k Key) (StoredKey, error) {
	size := k.Size()

	if uint64(len(dst)) < size {
		return StoredKey{}, fmt.Errorf("key needs %d bytes, buffer has %d: %w", size, len(dst), ErrInvalidInput)
	}

	buf := dst[:size:size]
	binary.LittleEndian.PutUint64(buf, k.Len())
	copy(buf[KeyHeaderSize:], k.Bytes())

	return StoredKey{buf: buf}, nil
}

// KeyAt opens a key previously written with [WriteKey] at the start of buf.
func KeyAt(buf []byte) (StoredKey, error) {
	if len(buf) < KeyHeaderSize {
		return StoredKey{}, fmt.Errorf("key header needs %d bytes, buffer has %d: %w", KeyHeaderSize, len(buf), ErrInvalidInput)
	}

	n := binary.LittleEndian.Uint64(buf)
	size := KeySize(n)

	if size < n || uint64(len(buf)) < size {
		return StoredKey{}, fmt.Errorf("stored key length %d exceeds buffer of %d: %w", n, len(buf), ErrInvalidInput)
	}

	return StoredKey{buf: buf[:size:size]}, nil
}

// Len implements [Key]. The zero StoredKey has length 0.
func (k StoredKey) Len() uint64 { return uint64(len(k.Bytes())) }

// Bytes implements [Key].
func (k StoredKey) Bytes() []byte {
	if len(k.buf) < KeyHeaderSize {
		return nil
	}

	return k.buf[KeyHeaderSize:]
}

// Hash implements [Key].
func (k StoredKey) Hash() uint64 { return fnv1a64(k.Bytes()) }

// Size implements [Key].
func (k StoredKey) Size() uint64 { return KeySize(k.Len()) }

// Equal implements [Key].
func (k StoredKey) Equal(other Key) bool { return equalKeys(k, other) }

func equalKeys(a, b Key) bool {
	if a.Len() != b.Len() {
		return false
	}

	return bytes.Equal(a.Bytes(), b.Bytes())
}
