package region_test

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/fasterkv/internal/region"
)

func Test_New_Rejects_Size_Below_Minimum(t *testing.T) {
	t.Parallel()

	_, err := region.New(region.MinSize - 1)
	require.ErrorIs(t, err, region.ErrInvalidInput)
}

func Test_Alloc_Returns_Aligned_NonNil_Addresses(t *testing.T) {
	t.Parallel()

	r, err := region.New(region.MinSize)
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Close() })

	prev := region.Nil

	for _, n := range []uint64{1, 7, 8, 9, 24, 3} {
		addr, allocErr := r.Alloc(n)
		require.NoError(t, allocErr)

		assert.NotEqual(t, region.Nil, addr)
		assert.Zero(t, addr%region.Alignment, "addr %d not aligned", addr)
		assert.Greater(t, addr, prev)

		prev = addr
	}
}

func Test_Alloc_Returns_ErrFull_When_Region_Exhausted(t *testing.T) {
	t.Parallel()

	r, err := region.New(region.MinSize)
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Close() })

	_, err = r.Alloc(r.Size() - region.Alignment)
	require.NoError(t, err)

	tail := r.Tail()

	_, err = r.Alloc(1)
	require.ErrorIs(t, err, region.ErrFull)
	assert.Equal(t, tail, r.Tail(), "failed allocation must not move the tail")
}

func Test_Alloc_Rejects_Zero_Length(t *testing.T) {
	t.Parallel()

	r, err := region.New(region.MinSize)
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Close() })

	_, err = r.Alloc(0)
	require.ErrorIs(t, err, region.ErrInvalidInput)
}

func Test_Alloc_Hands_Out_Disjoint_Ranges_When_Called_Concurrently(t *testing.T) {
	t.Parallel()

	const (
		workers = 8
		perG    = 64
		size    = 24
	)

	r, err := region.New(1 << 20)
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Close() })

	var (
		mu    sync.Mutex
		addrs []uint64
		wg    sync.WaitGroup
	)

	wg.Add(workers)

	for range workers {
		go func() {
			defer wg.Done()

			local := make([]uint64, 0, perG)

			for range perG {
				addr, allocErr := r.Alloc(size)
				if allocErr != nil {
					t.Error(allocErr)

					return
				}

				local = append(local, addr)
			}

			mu.Lock()
			addrs = append(addrs, local...)
			mu.Unlock()
		}()
	}

	wg.Wait()

	require.Len(t, addrs, workers*perG)

	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for i := 1; i < len(addrs); i++ {
		require.GreaterOrEqual(t, addrs[i]-addrs[i-1], uint64(size), "ranges overlap at %d", addrs[i])
	}
}

func Test_Bytes_Aliases_Mapping(t *testing.T) {
	t.Parallel()

	r, err := region.New(region.MinSize)
	require.NoError(t, err)

	t.Cleanup(func() { _ = r.Close() })

	addr, err := r.Alloc(4)
	require.NoError(t, err)

	copy(r.Bytes(addr, 4), "abcd")

	assert.Equal(t, []byte("abcd"), r.Bytes(addr, 4))
	assert.Len(t, r.Bytes(addr, 4), 4)
	assert.Equal(t, 4, cap(r.Bytes(addr, 4)))
}

func Test_Close_Is_Idempotent(t *testing.T) {
	t.Parallel()

	r, err := region.New(region.MinSize)
	require.NoError(t, err)

	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
}

func Test_Align(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(0), region.Align(0))
	assert.Equal(t, uint64(8), region.Align(1))
	assert.Equal(t, uint64(8), region.Align(8))
	assert.Equal(t, uint64(16), region.Align(9))
}
