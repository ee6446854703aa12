package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/calvinalkan/fasterkv/internal/region"
	"github.com/calvinalkan/fasterkv/pkg/genlock"
	"github.com/calvinalkan/fasterkv/pkg/record"
)

// Store is an open in-memory key-value engine.
//
// A Store must be obtained via [Open]; the zero value is not usable.
type Store struct {
	_ [0]func() // prevent external construction

	// mu protects isClosed and keeps the region mapped while operations
	// run: every operation holds RLock, Close takes Lock.
	mu       sync.RWMutex
	isClosed bool

	region  *region.Region
	buckets []atomic.Uint64 // chain head address per bucket, region.Nil if empty
	mask    uint64

	// readOnly is the boundary below which records are never updated in
	// place. safeReadOnly trails it: below it no in-place writer can still
	// be running, so reads skip the seqlock.
	readOnly     atomic.Uint64
	safeReadOnly atomic.Uint64

	// sealMu serializes Seal and guards gate.pending.
	sealMu sync.Mutex
	gate   writerGate

	stats counters
	log   *slog.Logger
}

// Open creates an empty store.
//
// Possible errors: [ErrInvalidInput].
func Open(opts Options) (*Store, error) {
	opts = opts.withDefaults()

	err := opts.validate()
	if err != nil {
		return nil, err
	}

	r, err := region.New(opts.RegionSize)
	if err != nil {
		return nil, fmt.Errorf("open region: %w", err)
	}

	s := &Store{
		region:  r,
		buckets: make([]atomic.Uint64, opts.IndexBuckets),
		mask:    uint64(opts.IndexBuckets - 1),
		log:     opts.Logger,
	}

	s.log.Info("store opened",
		slog.Uint64("region_size", r.Size()),
		slog.Int("index_buckets", opts.IndexBuckets))

	return s, nil
}

// Close releases the log region.
//
// After Close, all other methods return [ErrClosed]. Close is idempotent;
// subsequent calls are no-ops. Close waits for in-flight operations.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isClosed {
		return nil
	}

	s.isClosed = true

	err := s.region.Close()
	if err != nil {
		return fmt.Errorf("close region: %w", err)
	}

	s.log.Info("store closed", slog.Uint64("tail", s.region.Tail()))

	return nil
}

// Put inserts or updates the value for key. Neither slice is retained.
//
// Possible errors: [ErrClosed], [ErrFull], [ErrInvalidInput].
func (s *Store) Put(key, value []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return ErrClosed
	}

	upsert, err := record.NewUpsertContext(key, value)
	if err != nil {
		return fmt.Errorf("put: %w: %w", ErrInvalidInput, err)
	}

	epoch := s.gate.enter()
	defer s.gate.exit(epoch)

	return s.upsert(upsert)
}

func (s *Store) upsert(upsert record.UpsertContext) error {
	key := upsert.Key()
	bucket := &s.buckets[key.Hash()&s.mask]

	for {
		head := bucket.Load()

		existing, found, err := s.find(head, region.Nil, key)
		if err != nil {
			return err
		}

		if found {
			if existing.addr >= s.readOnly.Load() {
				if upsert.PutAtomic(existing.value) {
					s.stats.inPlaceUpdates.Add(1)

					return nil
				}

				s.log.Debug("in-place update failed, relocating",
					slog.Uint64("addr", existing.addr),
					slog.Uint64("capacity", uint64(existing.value.Capacity())),
					slog.Uint64("requested", upsert.ValueSize()))
			} else {
				supersede(existing.value)
			}

			s.stats.relocations.Add(1)
		}

		published, err := s.publish(bucket, head, upsert)
		if err != nil {
			return err
		}

		if published {
			return nil
		}
	}
}

// supersede marks an immutable record replaced so writers that still see
// it as mutable fail over to its successor instead of updating it.
func supersede(v record.Value) {
	lock := v.Lock()

	if lock.SpinLock() == genlock.Acquired {
		lock.Unlock(true)
	}
}

// publish appends a record for upsert and links it at the head of bucket.
//
// Returns false when a record for the same key was published concurrently;
// the caller must retry from the lookup.
func (s *Store) publish(bucket *atomic.Uint64, head uint64, upsert record.UpsertContext) (bool, error) {
	addr, err := s.appendRecord(upsert, head)
	if err != nil {
		return false, err
	}

	size := recordSize(upsert.Key().Size(), upsert.ValueSize())

	for {
		if bucket.CompareAndSwap(head, addr) {
			s.stats.appends.Add(1)

			return true, nil
		}

		// Someone else pushed onto this chain. Reuse the allocation unless
		// they published the same key.
		newHead := bucket.Load()

		_, found, err := s.find(newHead, head, upsert.Key())
		if err != nil {
			return false, err
		}

		if found {
			s.stats.abandonedBytes.Add(size)

			return false, nil
		}

		s.relink(addr, newHead)
		head = newHead
	}
}

// Get copies the current value for key into dst (grown if needed) and
// returns it. Returns (nil, false, nil) if key is not present.
//
// Possible errors: [ErrClosed].
func (s *Store) Get(key, dst []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return nil, false, ErrClosed
	}

	read := record.NewReadContext(key, dst)
	view := read.Key()

	existing, found, err := s.find(s.buckets[view.Hash()&s.mask].Load(), region.Nil, view)
	if err != nil {
		return nil, false, err
	}

	if !found {
		return nil, false, nil
	}

	if existing.addr < s.safeReadOnly.Load() {
		read.Get(existing.value)
	} else {
		read.GetAtomic(existing.value)
		s.stats.readRetries.Add(read.Retries())
	}

	return read.Output(), true, nil
}

// Seal makes every record written so far immutable.
//
// Updates to sealed records append new copies from now on. Seal returns
// once no in-place update of a sealed record can still be running; from
// then on reads of sealed records skip the seqlock. If ctx ends first,
// Seal returns its error: the boundary still moved for writers, and reads
// keep using the seqlock until a later Seal completes.
//
// Possible errors: [ErrClosed], ctx errors.
func (s *Store) Seal(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return ErrClosed
	}

	s.sealMu.Lock()
	defer s.sealMu.Unlock()

	// Finish a drain abandoned by a canceled Seal first.
	if s.gate.pending {
		err := s.gate.wait(ctx)
		if err != nil {
			return fmt.Errorf("seal: drain previous writers: %w", err)
		}
	}

	tail := s.region.Tail()
	s.readOnly.Store(tail)
	s.gate.flip()

	err := s.gate.wait(ctx)
	if err != nil {
		return fmt.Errorf("seal: drain writers: %w", err)
	}

	s.safeReadOnly.Store(tail)

	s.log.Info("store sealed", slog.Uint64("read_only", tail))

	return nil
}

// Range calls fn with the current value of every key, in no particular
// order, until fn returns false. key and value are copies owned by fn.
//
// Keys written while Range runs may or may not be visited.
//
// fn runs under the store's read lock and must not call back into the
// Store: a Close queued behind Range would deadlock it.
//
// Possible errors: [ErrClosed].
func (s *Store) Range(fn func(key, value []byte) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return ErrClosed
	}

	err := s.rangeLocked(fn)
	if errors.Is(err, errStopRange) {
		return nil
	}

	return err
}

var errStopRange = errors.New("store: internal: range stopped")

func (s *Store) rangeLocked(fn func(key, value []byte) bool) error {
	seen := make(map[string]struct{})

	for i := range s.buckets {
		clear(seen)

		for addr := s.buckets[i].Load(); addr != region.Nil; addr = s.prevAddress(addr) {
			stored, err := s.keyAt(addr)
			if err != nil {
				return err
			}

			// Older versions of a key follow its newest record in the chain.
			if _, dup := seen[string(stored.Bytes())]; dup {
				continue
			}

			seen[string(stored.Bytes())] = struct{}{}

			value, err := s.valueAt(addr, stored)
			if err != nil {
				return err
			}

			key := append([]byte(nil), stored.Bytes()...)

			read := record.NewReadContext(key, nil)
			read.GetAtomic(value)

			if !fn(key, read.Output()) {
				return errStopRange
			}
		}
	}

	return nil
}
