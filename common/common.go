// Package common holds the constants and identifier types shared by every
// layer of the V6 journaling filesystem, from the buffer cache up through
// fsck.
package common

// SectorSize is the fixed size of a V6 disk sector, used for superblocks,
// inodes-per-block packing, directory entries, indirect blocks, log records
// and the freemap.
const SectorSize uint64 = 512

// Bnum is a sector number within a filesystem image (or, inside the log
// area, a byte offset within the log region).
type Bnum = uint64

// Inum names an inode. 1 is the root directory; 0 is never a valid inode.
type Inum = uint16

const (
	NullBnum Bnum = 0
	NullInum Inum = 0
	RootInum Inum = 1
)

// NBITBLOCK is the number of bits addressable in one sector-sized bitmap
// block.
const NBITBLOCK uint64 = SectorSize * 8

// InodeSize is the on-disk size of one inode (§6.2).
const InodeSize uint64 = 32

// InodesPerBlock is the number of packed inodes in one sector.
const InodesPerBlock uint64 = SectorSize / InodeSize

// DirentSize is the on-disk size of one directory entry.
const DirentSize uint64 = 16

// DirentsPerBlock is the number of directory entries packed into one sector.
const DirentsPerBlock uint64 = SectorSize / DirentSize

// IndirectPerBlock is the number of 16-bit block pointers packed into one
// single-indirect block.
const IndirectPerBlock uint64 = SectorSize / 2

// NDirectBlocks is the number of direct pointers in a small (ILARG=0) inode.
const NDirectBlocks = 8

// NIndirectSlots is the number of single-indirect pointer slots in a large
// inode (the eighth, i_addr[7], is the double-indirect pointer instead).
const NIndirectSlots = 7

// MaxFileBlocks is one past the largest block index representable by the
// ILARG=1 addressing scheme (§4.6: "Indexing beyond 0x10000 is error").
const MaxFileBlocks = 1 << 16

// MaxFileSize is the largest file size representable by a V6 inode: a
// 24-bit byte count (i_size0:i_size1).
const MaxFileSize = 1<<24 - 1

// SBNFree and SBNInode are the sizes of the legacy in-core free-block and
// free-inode caches kept in the superblock (§3.2, §6.1).
const (
	SBNFree  = 100
	SBNInode = 100
)
