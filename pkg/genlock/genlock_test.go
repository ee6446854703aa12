package genlock_test

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/fasterkv/pkg/genlock"
)

func Test_State_Word_Roundtrips_All_Fields(t *testing.T) {
	t.Parallel()

	cases := []genlock.State{
		{},
		{Generation: 1},
		{Generation: genlock.MaxGeneration},
		{Generation: 42, Locked: true},
		{Generation: 7, Replaced: true},
		{Generation: genlock.MaxGeneration, Locked: true, Replaced: true},
	}

	for _, want := range cases {
		got := genlock.FromWord(want.Word())
		assert.Equal(t, want, got)
	}
}

func Test_State_Word_Places_Flags_In_Top_Bits(t *testing.T) {
	t.Parallel()

	assert.Equal(t, uint64(1)<<62, genlock.State{Locked: true}.Word())
	assert.Equal(t, uint64(1)<<63, genlock.State{Replaced: true}.Word())
	assert.Equal(t, uint64(5), genlock.State{Generation: 5}.Word())
}

func Test_TryLock_Acquires_Unlocked_Word_Without_Changing_Generation(t *testing.T) {
	t.Parallel()

	var l genlock.Lock
	l.Store(genlock.State{Generation: 9})

	require.Equal(t, genlock.Acquired, l.TryLock())
	assert.Equal(t, genlock.State{Generation: 9, Locked: true}, l.Load())
}

func Test_TryLock_Returns_Contended_When_Already_Locked(t *testing.T) {
	t.Parallel()

	var l genlock.Lock

	require.Equal(t, genlock.Acquired, l.TryLock())
	assert.Equal(t, genlock.Contended, l.TryLock())
	assert.Equal(t, genlock.State{Locked: true}, l.Load())
}

func Test_Unlock_Clears_Locked_And_Increments_Generation(t *testing.T) {
	t.Parallel()

	var l genlock.Lock

	for i := range uint64(3) {
		require.Equal(t, genlock.Acquired, l.TryLock())
		l.Unlock(false)

		assert.Equal(t, genlock.State{Generation: i + 1}, l.Load())
	}
}

func Test_Unlock_With_Replace_Sets_Sticky_Replaced_Bit(t *testing.T) {
	t.Parallel()

	var l genlock.Lock
	l.Store(genlock.State{Generation: 3})

	require.Equal(t, genlock.Acquired, l.TryLock())
	l.Unlock(true)

	assert.Equal(t, genlock.State{Generation: 4, Replaced: true}, l.Load())

	for range 100 {
		require.Equal(t, genlock.AlreadyReplaced, l.TryLock())
		require.Equal(t, genlock.AlreadyReplaced, l.SpinLock())
	}

	assert.Equal(t, genlock.State{Generation: 4, Replaced: true}, l.Load(), "failed attempts must not touch the word")
}

func Test_Unlock_Wraps_Generation_When_At_Max(t *testing.T) {
	t.Parallel()

	var l genlock.Lock
	l.Store(genlock.State{Generation: genlock.MaxGeneration})

	require.Equal(t, genlock.Acquired, l.TryLock())
	l.Unlock(false)

	assert.Equal(t, genlock.State{}, l.Load())

	// The word stays usable after the wrap.
	require.Equal(t, genlock.Acquired, l.TryLock())
	l.Unlock(false)
	assert.Equal(t, genlock.State{Generation: 1}, l.Load())

	l.Store(genlock.State{Generation: genlock.MaxGeneration})

	require.Equal(t, genlock.Acquired, l.TryLock())
	l.Unlock(true)

	assert.Equal(t, genlock.State{Replaced: true}, l.Load())
	assert.Equal(t, genlock.AlreadyReplaced, l.TryLock())
}

func Test_TryLock_Reports_Replaced_Even_When_Word_Is_Locked(t *testing.T) {
	t.Parallel()

	var l genlock.Lock
	l.Store(genlock.State{Locked: true, Replaced: true})

	assert.Equal(t, genlock.AlreadyReplaced, l.TryLock())
}

func Test_SpinLock_Waits_For_Holder_To_Unlock(t *testing.T) {
	t.Parallel()

	var l genlock.Lock

	require.Equal(t, genlock.Acquired, l.TryLock())

	done := make(chan genlock.Result)

	go func() {
		done <- l.SpinLock()
	}()

	for range 10 {
		runtime.Gosched()
	}

	select {
	case res := <-done:
		t.Fatalf("SpinLock returned %v while lock was held", res)
	default:
	}

	l.Unlock(false)

	assert.Equal(t, genlock.Acquired, <-done)
	assert.Equal(t, genlock.State{Generation: 1, Locked: true}, l.Load())
}

func Test_SpinLock_Returns_AlreadyReplaced_When_Holder_Replaces(t *testing.T) {
	t.Parallel()

	var l genlock.Lock

	require.Equal(t, genlock.Acquired, l.TryLock())

	done := make(chan genlock.Result)

	go func() {
		done <- l.SpinLock()
	}()

	l.Unlock(true)

	assert.Equal(t, genlock.AlreadyReplaced, <-done)
}

func Test_Lock_Serializes_Concurrent_Writers(t *testing.T) {
	t.Parallel()

	const (
		writers    = 8
		iterations = 2000
	)

	var (
		l       genlock.Lock
		holders atomic.Int32
		counter int
		wg      sync.WaitGroup
	)

	wg.Add(writers)

	for range writers {
		go func() {
			defer wg.Done()

			for range iterations {
				if l.SpinLock() != genlock.Acquired {
					t.Error("unexpected replaced lock")

					return
				}

				if holders.Add(1) != 1 {
					t.Error("two writers held the lock at once")
				}

				counter++

				holders.Add(-1)
				l.Unlock(false)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, writers*iterations, counter)
	assert.Equal(t, genlock.State{Generation: writers * iterations}, l.Load())
}

func Test_Result_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "acquired", genlock.Acquired.String())
	assert.Equal(t, "contended", genlock.Contended.String())
	assert.Equal(t, "already replaced", genlock.AlreadyReplaced.String())
	assert.Equal(t, "unknown", genlock.Result(99).String())
}
