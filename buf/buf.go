// Package buf represents in-flight, sub-sector writes: a single bitmap bit,
// or a byte-aligned run of bytes inside one sector (an inode slot, a
// directory entry, a block pointer). A Buf is how the allocator and the
// directory/inode-tree code stage a change before it is installed into a
// cached sector and logged as a wal.Patch.
package buf

import (
	"github.com/c8ef/CS111/addr"
)

// A Buf is a pending write to a sub-sector object.
type Buf struct {
	Addr  addr.Addr
	Data  []byte // the bytes spanned by Addr, bits at their in-sector positions (a 1-bit Buf keeps its bit at Off%8 of Data[0])
	dirty bool
}

// MkBuf creates a Buf with freshly supplied data (the caller is overwriting
// without having read the prior value).
func MkBuf(a addr.Addr, data []byte) *Buf {
	return &Buf{Addr: a, Data: data}
}

// MkBufLoad extracts the bits addressed by a out of a whole-sector image blk.
func MkBufLoad(a addr.Addr, blk []byte) *Buf {
	bytefirst := a.Off / 8
	bytelast := (a.Off + a.Sz - 1) / 8
	data := make([]byte, bytelast-bytefirst+1)
	copy(data, blk[bytefirst:bytelast+1])
	return &Buf{Addr: a, Data: data}
}

func installOneBit(src byte, dst byte, bit uint64) byte {
	mask := byte(1) << bit
	if src&mask != 0 {
		return dst | mask
	}
	return dst &^ mask
}

func installBit(src []byte, dst []byte, dstoff uint64) {
	dstbyte := dstoff / 8
	dst[dstbyte] = installOneBit(src[0], dst[dstbyte], dstoff%8)
}

func installBytes(src []byte, dst []byte, dstoff uint64, nbit uint64) {
	sz := nbit / 8
	copy(dst[dstoff/8:], src[:sz])
}

// Install writes buf's bits into the whole-sector image blk.
func (b *Buf) Install(blk []byte) {
	switch {
	case b.Addr.Sz == 1:
		installBit(b.Data, blk, b.Addr.Off)
	case b.Addr.Sz%8 == 0 && b.Addr.Off%8 == 0:
		installBytes(b.Data, blk, b.Addr.Off, b.Addr.Sz)
	default:
		panic("Buf.Install: unaligned, non-bit write unsupported")
	}
}

func (b *Buf) IsDirty() bool  { return b.dirty }
func (b *Buf) SetDirty()      { b.dirty = true }
func (b *Buf) Bytes() []byte  { return b.Data }
func (b *Buf) ByteOff() uint64 {
	if b.Addr.Off%8 != 0 {
		panic("Buf.ByteOff: bit-addressed buf has no byte offset")
	}
	return b.Addr.Off / 8
}
