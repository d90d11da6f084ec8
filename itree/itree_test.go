package itree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/v6"
)

func TestLocateSmallFile(t *testing.T) {
	loc, err := Locate(0, 3)
	require.NoError(t, err)
	assert.False(t, loc.Large)
	assert.Equal(t, 3, loc.AddrIndex)
	assert.Empty(t, loc.Indices)

	_, err = Locate(0, common.NDirectBlocks)
	assert.Error(t, err)
}

func TestLocateSingleIndirect(t *testing.T) {
	loc, err := Locate(v6.ILARG, 0)
	require.NoError(t, err)
	assert.True(t, loc.Large)
	assert.Equal(t, 0, loc.AddrIndex)
	assert.Equal(t, []int{0}, loc.Indices)

	loc, err = Locate(v6.ILARG, common.IndirectPerBlock+5)
	require.NoError(t, err)
	assert.Equal(t, 1, loc.AddrIndex)
	assert.Equal(t, []int{5}, loc.Indices)

	loc, err = Locate(v6.ILARG, firstDoubleIndirect-1)
	require.NoError(t, err)
	assert.Equal(t, common.NIndirectSlots-1, loc.AddrIndex)
	assert.Equal(t, []int{int(common.IndirectPerBlock) - 1}, loc.Indices)
}

func TestLocateDoubleIndirect(t *testing.T) {
	loc, err := Locate(v6.ILARG, firstDoubleIndirect)
	require.NoError(t, err)
	assert.Equal(t, common.NIndirectSlots, loc.AddrIndex)
	assert.Equal(t, []int{0, 0}, loc.Indices)

	loc, err = Locate(v6.ILARG, firstDoubleIndirect+common.IndirectPerBlock+7)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 7}, loc.Indices)

	_, err = Locate(v6.ILARG, common.MaxFileBlocks)
	assert.Error(t, err)
}

func TestBlocksForSize(t *testing.T) {
	assert.Equal(t, uint64(0), BlocksForSize(0))
	assert.Equal(t, uint64(1), BlocksForSize(1))
	assert.Equal(t, uint64(1), BlocksForSize(common.SectorSize))
	assert.Equal(t, uint64(2), BlocksForSize(common.SectorSize+1))
}

func TestGetPutU16RoundTrip(t *testing.T) {
	sector := make([]byte, common.SectorSize)
	PutU16(sector, 10, 0xBEEF)
	assert.Equal(t, uint16(0xBEEF), GetU16(sector, 10))
	assert.Equal(t, uint16(0), GetU16(sector, 11))
}

func TestMaxDoubleIndirectSlotReachesMaxFileBlocks(t *testing.T) {
	last := firstDoubleIndirect + uint64(MaxDoubleIndirectSlot)*common.IndirectPerBlock - 1
	assert.Equal(t, uint64(common.MaxFileBlocks), last+1)
}
