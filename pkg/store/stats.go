package store

import (
	"sync/atomic"

	"github.com/calvinalkan/fasterkv/internal/region"
)

// Stats is a point-in-time snapshot of store counters.
//
// Counters are read individually, so a snapshot taken under load is not
// an atomic cut across fields.
type Stats struct {
	// InPlaceUpdates counts Puts that updated an existing mutable record.
	InPlaceUpdates uint64

	// Appends counts records published at the log tail.
	Appends uint64

	// Relocations counts Puts that found an existing record but had to
	// append a successor (record too small, replaced, or sealed).
	Relocations uint64

	// AbandonedBytes counts allocated log bytes that were never published
	// because a concurrent Put for the same key won.
	AbandonedBytes uint64

	// ReadRetries counts seqlock read attempts discarded due to a
	// concurrent write.
	ReadRetries uint64

	TailAddress         uint64
	ReadOnlyAddress     uint64
	SafeReadOnlyAddress uint64
	RegionSize          uint64

	// BucketsUsed is the number of non-empty index buckets.
	BucketsUsed uint64
	Buckets     uint64
}

type counters struct {
	inPlaceUpdates atomic.Uint64
	appends        atomic.Uint64
	relocations    atomic.Uint64
	abandonedBytes atomic.Uint64
	readRetries    atomic.Uint64
}

// Stats returns current counters.
//
// Possible errors: [ErrClosed].
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.isClosed {
		return Stats{}, ErrClosed
	}

	var used uint64

	for i := range s.buckets {
		if s.buckets[i].Load() != region.Nil {
			used++
		}
	}

	return Stats{
		InPlaceUpdates:      s.stats.inPlaceUpdates.Load(),
		Appends:             s.stats.appends.Load(),
		Relocations:         s.stats.relocations.Load(),
		AbandonedBytes:      s.stats.abandonedBytes.Load(),
		ReadRetries:         s.stats.readRetries.Load(),
		TailAddress:         s.region.Tail(),
		ReadOnlyAddress:     s.readOnly.Load(),
		SafeReadOnlyAddress: s.safeReadOnly.Load(),
		RegionSize:          s.region.Size(),
		BucketsUsed:         used,
		Buckets:             uint64(len(s.buckets)),
	}, nil
}
