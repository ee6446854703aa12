package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/calvinalkan/fasterkv/internal/region"
	"github.com/calvinalkan/fasterkv/pkg/record"
)

// Record layout in the log region (every part 8-byte aligned):
//
//	offset            size               field
//	0                 8                  previous record address in the hash chain
//	8                 align8(key size)   stored key (record.StoredKey)
//	8+align8(key)     align8(value size) value (record.Value)
const offKey = 8

// recordSize returns the bytes a record with the given key and value
// sizes occupies in the region.
func recordSize(keySize, valueSize uint64) uint64 {
	return offKey + region.Align(keySize) + region.Align(valueSize)
}

// valueOffset returns the offset of the value inside a record.
func valueOffset(keySize uint64) uint64 {
	return offKey + region.Align(keySize)
}

// loc is a decoded reference to a published record.
type loc struct {
	addr  uint64
	key   record.StoredKey
	value record.Value
}

// prevAddress returns the next-older record in the chain of the record at
// addr, or region.Nil.
func (s *Store) prevAddress(addr uint64) uint64 {
	return binary.LittleEndian.Uint64(s.region.Bytes(addr, offKey))
}

// keyAt decodes the stored key of the record at addr.
func (s *Store) keyAt(addr uint64) (record.StoredKey, error) {
	hdr := s.region.Bytes(addr+offKey, record.KeyHeaderSize)
	n := binary.LittleEndian.Uint64(hdr)

	size := record.KeySize(n)
	if size < n || addr+offKey+size > s.region.Tail() {
		return record.StoredKey{}, fmt.Errorf("key of record at %d overruns log tail: %w", addr, ErrCorrupt)
	}

	return record.KeyAt(s.region.Bytes(addr+offKey, size))
}

// valueAt returns the value of the record at addr whose key is key.
func (s *Store) valueAt(addr uint64, key record.StoredKey) (record.Value, error) {
	off := addr + valueOffset(key.Size())

	hdr, err := record.ValueAt(s.region.Bytes(off, record.ValueHeaderSize))
	if err != nil {
		return record.Value{}, err
	}

	size := uint64(hdr.Capacity())
	if size < record.ValueHeaderSize || off+size > s.region.Tail() {
		return record.Value{}, fmt.Errorf("value of record at %d has bad size %d: %w", addr, size, ErrCorrupt)
	}

	return record.ValueAt(s.region.Bytes(off, size))
}

// find walks the chain from head down to (excluding) stop and returns the
// newest record whose key equals key. Pass region.Nil as stop to search the
// whole chain.
func (s *Store) find(head, stop uint64, key record.Key) (loc, bool, error) {
	for addr := head; addr != stop && addr != region.Nil; addr = s.prevAddress(addr) {
		stored, err := s.keyAt(addr)
		if err != nil {
			return loc{}, false, err
		}

		if !stored.Equal(key) {
			continue
		}

		value, err := s.valueAt(addr, stored)
		if err != nil {
			return loc{}, false, err
		}

		return loc{addr: addr, key: stored, value: value}, true, nil
	}

	return loc{}, false, nil
}

// appendRecord allocates and initializes a new, unpublished record for
// upsert that links to prev.
func (s *Store) appendRecord(upsert record.UpsertContext, prev uint64) (uint64, error) {
	key := upsert.Key()
	size := recordSize(key.Size(), upsert.ValueSize())

	addr, err := s.region.Alloc(size)
	if err != nil {
		if errors.Is(err, region.ErrFull) {
			return region.Nil, fmt.Errorf("append %d-byte record: %w", size, ErrFull)
		}

		return region.Nil, fmt.Errorf("append %d-byte record: %w: %w", size, ErrInvalidInput, err)
	}

	buf := s.region.Bytes(addr, size)
	binary.LittleEndian.PutUint64(buf, prev)

	_, err = record.WriteKey(buf[offKey:], key)
	if err != nil {
		return region.Nil, err
	}

	value, err := record.ValueAt(buf[valueOffset(key.Size()):])
	if err != nil {
		return region.Nil, err
	}

	upsert.Put(value)

	return addr, nil
}

// relink points an unpublished record at a new chain predecessor.
func (s *Store) relink(addr, prev uint64) {
	binary.LittleEndian.PutUint64(s.region.Bytes(addr, offKey), prev)
}
