package ppage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocFreeRoundTrip(t *testing.T) {
	pool, err := New(4)
	require.NoError(t, err)
	defer pool.Close()

	assert.Equal(t, 4, pool.NPages())
	assert.Equal(t, 4, pool.NFree())

	pg, idx, err := pool.Alloc()
	require.NoError(t, err)
	assert.Equal(t, 3, pool.NFree())
	assert.Len(t, pg, pageSize)

	pg[0] = 0x42
	assert.Equal(t, byte(0x42), pool.At(idx)[0])

	require.NoError(t, pool.Free(idx))
	assert.Equal(t, 4, pool.NFree())
}

func TestAllocExhaustion(t *testing.T) {
	pool, err := New(1)
	require.NoError(t, err)
	defer pool.Close()

	_, idx, err := pool.Alloc()
	require.NoError(t, err)

	_, _, err = pool.Alloc()
	assert.Error(t, err)

	require.NoError(t, pool.Free(idx))
}

func TestDoubleFreeIsRejected(t *testing.T) {
	pool, err := New(2)
	require.NoError(t, err)
	defer pool.Close()

	_, idx, err := pool.Alloc()
	require.NoError(t, err)
	require.NoError(t, pool.Free(idx))
	assert.Error(t, pool.Free(idx))
}

func TestUseAfterFreeIsDetected(t *testing.T) {
	pool, err := New(2)
	require.NoError(t, err)
	defer pool.Close()

	_, idx, err := pool.Alloc()
	require.NoError(t, err)
	require.NoError(t, pool.Free(idx))

	// Clobber the freed page directly, bypassing Alloc/Free, the way a
	// stray write through a stale pointer would.
	pool.At(idx)[0] = 0xff

	_, _, err = pool.Alloc()
	assert.Error(t, err)
}

func TestFreshPageIsZeroed(t *testing.T) {
	pool, err := New(2)
	require.NoError(t, err)
	defer pool.Close()

	pg, idx, err := pool.Alloc()
	require.NoError(t, err)
	for i := range pg {
		pg[i] = 0xff
	}
	require.NoError(t, pool.Free(idx))

	pg2, _, err := pool.Alloc()
	require.NoError(t, err)
	for _, b := range pg2 {
		assert.Equal(t, byte(0), b)
	}
}
