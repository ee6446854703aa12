package store

import (
	"fmt"
	"log/slog"
	"math/bits"

	"github.com/calvinalkan/fasterkv/internal/region"
)

// Defaults applied to zero-valued [Options] fields.
const (
	DefaultRegionSize   = 192 << 20
	DefaultIndexBuckets = 1 << 15
)

// Hardcoded implementation limits.
const (
	maxRegionSize   = 1 << 40
	maxIndexBuckets = 1 << 30
)

// Options configure [Open].
type Options struct {
	// RegionSize is the log region size in bytes. Zero means
	// DefaultRegionSize.
	RegionSize int

	// IndexBuckets is the number of hash index buckets; must be a power of
	// two. Zero means DefaultIndexBuckets.
	IndexBuckets int

	// Logger receives lifecycle events. Nil discards them.
	Logger *slog.Logger
}

// withDefaults returns opts with zero fields replaced by defaults.
func (opts Options) withDefaults() Options {
	if opts.RegionSize == 0 {
		opts.RegionSize = DefaultRegionSize
	}

	if opts.IndexBuckets == 0 {
		opts.IndexBuckets = DefaultIndexBuckets
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return opts
}

func (opts Options) validate() error {
	if opts.RegionSize < region.MinSize || int64(opts.RegionSize) > maxRegionSize {
		return fmt.Errorf("region size %d outside [%d, %d]: %w", opts.RegionSize, region.MinSize, int64(maxRegionSize), ErrInvalidInput)
	}

	if opts.IndexBuckets < 1 || opts.IndexBuckets > maxIndexBuckets {
		return fmt.Errorf("index buckets %d outside [1, %d]: %w", opts.IndexBuckets, maxIndexBuckets, ErrInvalidInput)
	}

	if bits.OnesCount(uint(opts.IndexBuckets)) != 1 {
		return fmt.Errorf("index buckets %d is not a power of two: %w", opts.IndexBuckets, ErrInvalidInput)
	}

	return nil
}
