package alloc

import (
	"testing"

	"github.com/c8ef/CS111/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapBallocFree(t *testing.T) {
	b := NewBitmap(32)
	assert.Equal(t, uint64(32), b.NumFree())

	n, ok := b.BallocNear(0)
	require.True(t, ok)
	assert.Equal(t, uint64(31), b.NumFree())

	require.NoError(t, b.Bfree(n))
	assert.Equal(t, uint64(31), b.NumFree(), "pending free not yet visible")

	b.CommitFrees()
	assert.Equal(t, uint64(32), b.NumFree())
}

func TestBitmapExhaustion(t *testing.T) {
	b := NewBitmap(2)
	_, ok := b.BallocNear(0)
	require.True(t, ok)
	_, ok = b.BallocNear(0)
	require.True(t, ok)
	_, ok = b.BallocNear(0)
	assert.False(t, ok)
}

func TestBitmapNearHint(t *testing.T) {
	b := NewBitmap(10)
	b.MarkUsed(0)
	b.MarkUsed(1)
	n, ok := b.BallocNear(0)
	require.True(t, ok)
	assert.Equal(t, uint64(2), n)
}

type memBlockIO struct {
	blocks map[common.Bnum][]byte
}

func (m *memBlockIO) ReadBlock(bn common.Bnum) ([]byte, error) {
	if b, ok := m.blocks[bn]; ok {
		return b, nil
	}
	return make([]byte, common.SectorSize), nil
}

func (m *memBlockIO) WriteBlock(bn common.Bnum, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blocks[bn] = cp
	return nil
}

func TestFreeListSpillAndRefill(t *testing.T) {
	io := &memBlockIO{blocks: make(map[common.Bnum][]byte)}
	var free [common.SBNFree]uint16
	fl := NewFreeList(io, 0, free)

	// Fill the in-core array past capacity to force a spill.
	for i := common.Bnum(100); i < 100+common.SBNFree+5; i++ {
		require.NoError(t, fl.Free(i))
	}

	seen := make(map[common.Bnum]bool)
	for i := 0; i < common.SBNFree+5; i++ {
		bn, err := fl.Alloc()
		require.NoError(t, err)
		assert.False(t, seen[bn], "double-allocated %d", bn)
		seen[bn] = true
	}
}
