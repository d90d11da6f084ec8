// Package itree computes where in a V6 inode's block-pointer chain a given
// file-block index lives (spec §4.6): direct indices live in an inode's
// i_addr array, ILARG indices route through one or two levels of 256-entry
// indirect blocks. It is grounded on original_source/P8/blockpath.{hh,cc}
// (the BlockPath/blockno_path machinery), simplified from that file's
// bit-packed sentinel representation to a plain Location value since this
// port does not need BlockPath's sentinel-comparison tricks: itree only
// answers "where is block k", and fsck/truncate do their own bounds checks
// against size() directly.
package itree

import (
	"fmt"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/v6"
)

// firstDoubleIndirect is the first file-block index that falls under the
// double-indirect pointer (i_addr[7]): 7 single-indirect pointers' worth.
const firstDoubleIndirect = common.NIndirectSlots * common.IndirectPerBlock

// Location names the path from an inode's i_addr array to file-block k.
//
//   - Direct (ILARG=0): AddrIndex is the index into i_addr; Indices is empty.
//   - Single-indirect: AddrIndex selects i_addr[0..6]; Indices has one
//     entry, the index into that indirect block.
//   - Double-indirect: AddrIndex is always 7 (common.NIndirectSlots);
//     Indices has two entries: the index into the double-indirect block
//     (which yields a single-indirect block number), then the index into
//     that single-indirect block.
type Location struct {
	Large     bool
	AddrIndex int
	Indices   []int
}

// Locate resolves file-block index k against an inode whose mode carries
// (or doesn't carry) ILARG. Returns ErrResourceExhausted on overflow ("size
// overflow" in spec §7's taxonomy — the caller is asking for a block beyond
// the addressable 2^24-1 byte / 2^16 block range).
func Locate(mode uint16, k uint64) (Location, error) {
	if mode&v6.ILARG == 0 {
		if k >= common.NDirectBlocks {
			return Location{}, fmt.Errorf("itree: Locate: block %d exceeds small-file range %d: %w", k, common.NDirectBlocks, fserrors.ErrResourceExhausted)
		}
		return Location{AddrIndex: int(k)}, nil
	}
	if k >= common.MaxFileBlocks {
		return Location{}, fmt.Errorf("itree: Locate: block %d exceeds max file blocks %d: %w", k, common.MaxFileBlocks, fserrors.ErrResourceExhausted)
	}
	if k < firstDoubleIndirect {
		return Location{
			Large:     true,
			AddrIndex: int(k / common.IndirectPerBlock),
			Indices:   []int{int(k % common.IndirectPerBlock)},
		}, nil
	}
	k2 := k - firstDoubleIndirect
	return Location{
		Large:     true,
		AddrIndex: common.NIndirectSlots,
		Indices: []int{
			int(k2 / common.IndirectPerBlock),
			int(k2 % common.IndirectPerBlock),
		},
	}, nil
}

// BlocksForSize returns the number of file-block slots (ceil(size/sector))
// a file of size bytes occupies, the spec's sentinel_path computation.
func BlocksForSize(size uint64) uint64 {
	return (size + common.SectorSize - 1) / common.SectorSize
}

// GetU16/PutU16 read/write one little-endian uint16 entry within a raw
// sector buffer representing an indirect block (common.IndirectPerBlock
// entries per sector).
func GetU16(sector []byte, idx int) uint16 {
	off := idx * 2
	return uint16(sector[off]) | uint16(sector[off+1])<<8
}

func PutU16(sector []byte, idx int, v uint16) {
	off := idx * 2
	sector[off] = byte(v)
	sector[off+1] = byte(v >> 8)
}

// unusedDoubleIndirectSlots is the spec's "last seven 16-bit slots are
// never used" in a double-indirect block (§4.6, §3.2): the double-indirect
// pointer only needs to reach blocks [firstDoubleIndirect, MaxFileBlocks),
// which is 63744 blocks, i.e. 249 single-indirect children, leaving the
// trailing 7 of 256 slots permanently zero.
const unusedDoubleIndirectSlots = 7

// MaxDoubleIndirectSlot is the number of in-use slots of a double-indirect
// block (slots 0..MaxDoubleIndirectSlot-1).
const MaxDoubleIndirectSlot = common.IndirectPerBlock - unusedDoubleIndirectSlots
