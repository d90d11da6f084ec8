package bcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/disk"
)

func alwaysCommitted() uint64 { return ^uint64(0) }

func TestGetLoadsFromDiskAndCaches(t *testing.T) {
	d := disk.NewMemDisk(10)
	c := New(d, 4, alwaysCommitted, nil)

	h, err := c.Get(3)
	require.NoError(t, err)
	assert.Equal(t, int(common.SectorSize), len(h.Bytes()))
	h.Release()
	assert.Equal(t, 1, c.Len())
}

func TestDirtyWriteBackOnEviction(t *testing.T) {
	d := disk.NewMemDisk(4)
	c := New(d, 2, alwaysCommitted, nil)

	h0, err := c.Get(0)
	require.NoError(t, err)
	h0.Bytes()[0] = 0xAB
	h0.MarkDirty()
	h0.Release()

	h1, err := c.Get(1)
	require.NoError(t, err)
	h1.Release()

	// A third distinct block forces eviction of the LRU entry (0).
	h2, err := c.Get(2)
	require.NoError(t, err)
	h2.Release()

	raw, err := d.Read(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), raw[0])
}

func TestReferencedEntryIsNeverEvicted(t *testing.T) {
	d := disk.NewMemDisk(4)
	c := New(d, 1, alwaysCommitted, nil)

	h0, err := c.Get(0)
	require.NoError(t, err)

	_, err = c.Get(1)
	assert.Error(t, err)
	h0.Release()
}

func TestLoggedEntryBlocksEvictionUntilCommitted(t *testing.T) {
	d := disk.NewMemDisk(4)
	committedLSN := uint64(0)
	flushCalls := 0
	c := New(d, 1, func() uint64 { return committedLSN }, func() error {
		flushCalls++
		committedLSN = 5
		return nil
	})

	h0, err := c.Get(0)
	require.NoError(t, err)
	h0.MarkLogged(5)
	h0.Release()

	h1, err := c.Get(1)
	require.NoError(t, err)
	h1.Release()

	assert.Equal(t, 1, flushCalls)
}

func TestInvalidateDropsWithoutWriteBack(t *testing.T) {
	d := disk.NewMemDisk(4)
	c := New(d, 4, alwaysCommitted, nil)

	h, err := c.Get(0)
	require.NoError(t, err)
	h.Bytes()[0] = 0x11
	h.MarkDirty()
	h.Release()

	c.Invalidate()
	assert.Equal(t, 0, c.Len())

	raw, err := d.Read(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0), raw[0])
}
