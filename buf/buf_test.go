package buf

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/c8ef/CS111/addr"
)

func TestInstallBit(t *testing.T) {
	blk := make([]byte, 16)
	b := MkBuf(addr.MkAddr(0, 4, 1), []byte{0x10})
	b.Install(blk)
	assert.Equal(t, byte(0x10), blk[0])

	b = MkBuf(addr.MkAddr(0, 4, 1), []byte{0x0})
	b.Install(blk)
	assert.Equal(t, byte(0x00), blk[0])
}

func TestInstallBytes(t *testing.T) {
	blk := make([]byte, 16)
	b := MkBuf(addr.MkAddr(0, 8*3, 8*4), []byte{0xDE, 0xAD, 0xBE, 0xEF})
	b.Install(blk)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, blk[3:7])
}

func TestLoadRoundtrips(t *testing.T) {
	blk := make([]byte, 16)
	blk[2] = 0x42
	a := addr.MkAddr(0, 16, 8)
	b := MkBufLoad(a, blk)
	assert.Equal(t, []byte{0x42}, b.Data)
}

func TestBufMapDirtyOnly(t *testing.T) {
	m := MkBufMap()
	clean := MkBuf(addr.MkAddr(0, 0, 8), []byte{0})
	dirty := MkBuf(addr.MkAddr(0, 8, 8), []byte{1})
	dirty.SetDirty()
	m.Insert(clean)
	m.Insert(dirty)
	assert.Equal(t, uint64(1), m.Ndirty())
	assert.Len(t, m.DirtyBufs(), 1)
}
