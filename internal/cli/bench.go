package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/calvinalkan/fasterkv/pkg/store"
)

// maxBenchWriters bounds writers so every writer owns a distinct fill byte.
const maxBenchWriters = 255

// BenchOptions configure [RunBench].
type BenchOptions struct {
	Writers   int
	Readers   int
	Keys      int
	Duration  time.Duration
	SealEvery time.Duration // zero disables periodic Seal
}

// BenchResult summarizes a [RunBench] run.
type BenchResult struct {
	Writes    uint64
	Reads     uint64
	TornReads uint64
	Seals     uint64
	Full      bool // a writer stopped early because the region filled up
	Elapsed   time.Duration
	Stats     store.Stats
}

func (o BenchOptions) validate() error {
	if o.Writers < 1 || o.Writers > maxBenchWriters {
		return fmt.Errorf("writers must be in [1, %d], got %d", maxBenchWriters, o.Writers)
	}

	if o.Readers < 1 {
		return fmt.Errorf("readers must be positive, got %d", o.Readers)
	}

	if o.Keys < 1 {
		return fmt.Errorf("keys must be positive, got %d", o.Keys)
	}

	if o.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %s", o.Duration)
	}

	return nil
}

// benchFill is the byte writer i fills its payload with.
func benchFill(i int) byte {
	return byte(i + 1)
}

// benchLength is the payload length for a fill byte. Lengths differ
// between writers so records regularly outgrow their capacity.
func benchLength(fill byte) int {
	return 8 + int(fill)*24%121
}

// homogeneous reports whether out is exactly one writer's payload.
func homogeneous(out []byte) bool {
	if len(out) == 0 || len(out) != benchLength(out[0]) {
		return false
	}

	for _, b := range out {
		if b != out[0] {
			return false
		}
	}

	return true
}

// RunBench races writers of distinct homogeneous payloads against readers
// on a small key set and counts reads that observed a mix of payloads.
func RunBench(ctx context.Context, s *store.Store, opts BenchOptions) (BenchResult, error) {
	err := opts.validate()
	if err != nil {
		return BenchResult{}, err
	}

	keys := make([][]byte, opts.Keys)
	for i := range keys {
		keys[i] = []byte("bench-" + strconv.Itoa(i))
	}

	// Seed every key so readers never see "not found".
	for _, key := range keys {
		fill := benchFill(0)

		err = s.Put(key, payload(fill))
		if err != nil {
			return BenchResult{}, fmt.Errorf("seed %s: %w", key, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var writes, reads, torn, seals atomic.Uint64

	var full atomic.Bool

	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()

	for w := range opts.Writers {
		value := payload(benchFill(w))

		g.Go(func() error {
			for i := w; ctx.Err() == nil; i++ {
				putErr := s.Put(keys[i%len(keys)], value)
				if errors.Is(putErr, store.ErrFull) {
					full.Store(true)

					return nil
				}

				if putErr != nil {
					return putErr
				}

				writes.Add(1)
			}

			return nil
		})
	}

	for r := range opts.Readers {
		g.Go(func() error {
			dst := make([]byte, 0, 256)

			for i := r; ctx.Err() == nil; i++ {
				out, found, getErr := s.Get(keys[i%len(keys)], dst)
				if getErr != nil {
					return getErr
				}

				if !found || !homogeneous(out) {
					torn.Add(1)
				}

				reads.Add(1)
			}

			return nil
		})
	}

	if opts.SealEvery > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(opts.SealEvery)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}

				sealErr := s.Seal(ctx)
				if sealErr != nil {
					if ctx.Err() != nil {
						return nil
					}

					return sealErr
				}

				seals.Add(1)
			}
		})
	}

	err = g.Wait()
	if err != nil {
		return BenchResult{}, err
	}

	elapsed := time.Since(start)

	stats, err := s.Stats()
	if err != nil {
		return BenchResult{}, err
	}

	return BenchResult{
		Writes:    writes.Load(),
		Reads:     reads.Load(),
		TornReads: torn.Load(),
		Seals:     seals.Load(),
		Full:      full.Load(),
		Elapsed:   elapsed,
		Stats:     stats,
	}, nil
}

func payload(fill byte) []byte {
	out := make([]byte, benchLength(fill))
	for i := range out {
		out[i] = fill
	}

	return out
}

func printBenchResult(o *IO, res BenchResult) {
	secs := res.Elapsed.Seconds()
	if secs <= 0 {
		secs = 1
	}

	o.Printf("Results (%v):\n", res.Elapsed.Round(time.Millisecond))
	o.Printf("  Writes:      %d (%.0f ops/sec)\n", res.Writes, float64(res.Writes)/secs)
	o.Printf("  Reads:       %d (%.0f ops/sec)\n", res.Reads, float64(res.Reads)/secs)
	o.Printf("  Torn reads:  %d\n", res.TornReads)
	o.Printf("  Seals:       %d\n", res.Seals)
	o.Printf("  In place:    %d\n", res.Stats.InPlaceUpdates)
	o.Printf("  Appends:     %d\n", res.Stats.Appends)
	o.Printf("  Retries:     %d\n", res.Stats.ReadRetries)
}
