package blockcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestGetBlockCaches checks that a hit skips the fetcher.
func TestGetBlockCaches(t *testing.T) {
	c := New(1024)

	var calls int
	fetch := func() ([]byte, error) {
		calls++
		return []byte{0x01, 0x02, 0x03}, nil
	}

	for i := 0; i < 5; i++ {
		raw, err := c.GetBlock(7, fetch)
		require.NoError(t, err)
		require.Equal(t, []byte{0x01, 0x02, 0x03}, raw)
	}
	require.Equal(t, 1, calls)
}

// TestGetBlockError checks that fetch failures propagate and are not
// cached.
func TestGetBlockError(t *testing.T) {
	c := New(1024)

	boom := errors.New("boom")
	fail := func() ([]byte, error) { return nil, boom }

	_, err := c.GetBlock(1, fail)
	require.ErrorIs(t, err, boom)

	// The failure was not cached; a working fetcher succeeds.
	raw, err := c.GetBlock(1, func() ([]byte, error) {
		return []byte{0xaa}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []byte{0xaa}, raw)
}

// TestEviction checks that the byte capacity is enforced LRU-style.
func TestEviction(t *testing.T) {
	// Room for two 8-byte blocks.
	c := New(16)

	var calls [3]int
	fetch := func(height uint32) func() ([]byte, error) {
		return func() ([]byte, error) {
			calls[height]++
			raw := make([]byte, 8)
			raw[0] = byte(height)
			return raw, nil
		}
	}

	_, err := c.GetBlock(0, fetch(0))
	require.NoError(t, err)
	_, err = c.GetBlock(1, fetch(1))
	require.NoError(t, err)

	// Caching a third block evicts the least recently used.
	_, err = c.GetBlock(2, fetch(2))
	require.NoError(t, err)

	_, err = c.GetBlock(0, fetch(0))
	require.NoError(t, err)
	require.Equal(t, 2, calls[0])
	require.Equal(t, 1, calls[1])
	require.Equal(t, 1, calls[2])
}

// TestOversizedEntryServedUncached checks that a block larger than the
// whole cache is still served.
func TestOversizedEntryServedUncached(t *testing.T) {
	c := New(4)

	raw, err := c.GetBlock(0, func() ([]byte, error) {
		return make([]byte, 64), nil
	})
	require.NoError(t, err)
	require.Len(t, raw, 64)
}

// TestSingleFlight checks that concurrent misses for the same height share
// one fetch.
func TestSingleFlight(t *testing.T) {
	c := New(1024)

	var calls atomic.Int32
	fetch := func() ([]byte, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []byte{0x42}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, err := c.GetBlock(3, fetch)
			require.NoError(t, err)
			require.Equal(t, []byte{0x42}, raw)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
}
