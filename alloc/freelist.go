package alloc

import (
	"fmt"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/fserrors"
)

// BlockIO is the minimal disk access FreeList needs to read/write a
// spilled free-block chain link; implemented trivially by bcache-backed
// filesystem code.
type BlockIO interface {
	ReadBlock(bn common.Bnum) ([]byte, error)
	WriteBlock(bn common.Bnum, data []byte) error
}

// FreeList is the legacy non-journaling free-block allocator (spec §4.8,
// "Without journaling"): an in-core array of up to SBNFree block numbers,
// the first of which (when the array is exhausted) names a disk block
// that itself begins with the next SBNFree free-block numbers.
type FreeList struct {
	io    BlockIO
	nfree uint16
	free  [common.SBNFree]uint32
}

// NewFreeList wraps an already-loaded in-core free array (as decoded from
// the superblock's Nfree/Free fields) with access to the image for
// refills/spills.
func NewFreeList(io BlockIO, nfree uint16, free [common.SBNFree]uint16) *FreeList {
	fl := &FreeList{io: io, nfree: nfree}
	for i, v := range free {
		fl.free[i] = uint32(v)
	}
	return fl
}

// Snapshot returns the current in-core array in the superblock's encoding,
// for persisting Nfree/Free back into the Superblock struct.
func (fl *FreeList) Snapshot() (uint16, [common.SBNFree]uint16) {
	var out [common.SBNFree]uint16
	for i, v := range fl.free {
		out[i] = uint16(v)
	}
	return fl.nfree, out
}

// Alloc pops a free block number, refilling the in-core array from the
// block it names when exhausted (spec §4.8).
func (fl *FreeList) Alloc() (common.Bnum, error) {
	if fl.nfree == 0 {
		return 0, fmt.Errorf("alloc: FreeList.Alloc: no free blocks: %w", fserrors.ErrResourceExhausted)
	}
	fl.nfree--
	bn := common.Bnum(fl.free[fl.nfree])
	if fl.nfree == 0 {
		if bn == 0 {
			return 0, fmt.Errorf("alloc: FreeList.Alloc: no free blocks: %w", fserrors.ErrResourceExhausted)
		}
		data, err := fl.io.ReadBlock(bn)
		if err != nil {
			return 0, err
		}
		fl.nfree = uint16(leUint32(data[0:4]))
		if fl.nfree > common.SBNFree {
			return 0, fmt.Errorf("alloc: FreeList.Alloc: corrupt spill block %d: %w", bn, fserrors.ErrFsCorrupt)
		}
		for i := uint16(0); i < fl.nfree; i++ {
			fl.free[i] = leUint32(data[4+4*i : 8+4*i])
		}
	}
	return bn, nil
}

// Free pushes bn back onto the in-core array, spilling the current array
// into bn itself and resetting the array to {bn} when the array is full.
func (fl *FreeList) Free(bn common.Bnum) error {
	if fl.nfree >= common.SBNFree {
		data := make([]byte, common.SectorSize)
		putUint32(data[0:4], uint32(fl.nfree))
		for i := uint16(0); i < fl.nfree; i++ {
			putUint32(data[4+4*i:8+4*i], fl.free[i])
		}
		if err := fl.io.WriteBlock(bn, data); err != nil {
			return err
		}
		fl.nfree = 1
		fl.free[0] = uint32(bn)
		return nil
	}
	fl.free[fl.nfree] = uint32(bn)
	fl.nfree++
	return nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
