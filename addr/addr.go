// Package addr identifies sub-sector objects: a single bit in a bitmap, or
// (via Off=0, Sz=SectorSize*8) an entire sector.
package addr

import (
	"github.com/c8ef/CS111/common"
)

// Addr identifies a sub-sector write: Blkno is the sector containing the
// object, Off is the bit offset of the object within the sector, and Sz is
// the size of the object in bits. A Sz of common.SectorSize*8 addresses the
// whole sector.
type Addr struct {
	Blkno common.Bnum
	Off   uint64
	Sz    uint64
}

// MkAddr builds an Addr for an arbitrary bit-granular object.
func MkAddr(blkno common.Bnum, off uint64, sz uint64) Addr {
	return Addr{Blkno: blkno, Off: off, Sz: sz}
}

// MkSectorAddr builds an Addr spanning an entire sector.
func MkSectorAddr(blkno common.Bnum) Addr {
	return Addr{Blkno: blkno, Off: 0, Sz: common.SectorSize * 8}
}

// MkBitAddr returns the Addr of the n-th bit in a bitmap starting at
// sector start.
func MkBitAddr(start common.Bnum, n uint64) Addr {
	bit := n % common.NBITBLOCK
	i := n / common.NBITBLOCK
	return MkAddr(start+i, bit, 1)
}

// Flatid returns a globally unique identifier for the addressed bit range.
// The buffer cache does not use it; it keys slots by sector number.
func (a Addr) Flatid() uint64 {
	return a.Blkno*(common.SectorSize*8) + a.Off
}

func (a Addr) Eq(b Addr) bool {
	return a.Blkno == b.Blkno && a.Off == b.Off && a.Sz == b.Sz
}
