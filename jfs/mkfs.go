package jfs

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/c8ef/CS111/alloc"
	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/disk"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/util"
	"github.com/c8ef/CS111/v6"
	"github.com/c8ef/CS111/wal"
)

// defaultNBlocks/defaultNInodesDivisor mirror original_source/P8/mkfsv6.cc's
// main(): an image sized with no explicit block count gets 0xffff sectors
// and a quarter of that many inodes.
const (
	defaultNBlocks        = 0xffff
	defaultNInodesDivisor = 4
)

// Create formats a brand-new V6 image at path: zeroes every non-log
// sector, writes the boot magic, a superblock sized for nblocks/ninodes,
// a root inode with self-referencing "." and ".." entries, and — if
// logBlocks is nonzero — a journal area plus its freemap (spec §3.2's
// mkfs step). Passing 0 for nblocks or ninodes takes mkfsv6.cc's defaults.
func Create(path string, nblocks, ninodes, logBlocks uint64) (*FS, error) {
	if nblocks == 0 {
		nblocks = defaultNBlocks
	}
	if ninodes == 0 {
		ninodes = nblocks / defaultNInodesDivisor
	}
	isize := uint16(util.RoundUp(ninodes, common.InodesPerBlock))
	dataStart := v6.DataStart(isize)
	if dataStart >= common.Bnum(nblocks) {
		return nil, fmt.Errorf("jfs: Create: %d blocks too small for %d inode sectors: %w", nblocks, isize, fserrors.ErrInvalidArgument)
	}

	total := nblocks
	if logBlocks > 0 {
		total += logBlocks
	}
	d, err := disk.OpenFileDisk(path, total)
	if err != nil {
		return nil, err
	}

	zero := make([]byte, common.SectorSize)
	for bn := common.Bnum(0); bn < nblocks; bn++ {
		if err := d.Write(bn, zero); err != nil {
			d.Close()
			return nil, err
		}
	}

	boot := make([]byte, common.SectorSize)
	binary.LittleEndian.PutUint16(boot[0:2], v6.BootMagic)
	if err := d.Write(0, boot); err != nil {
		d.Close()
		return nil, err
	}

	dirBlk := dataStart
	dirSec := make([]byte, common.SectorSize)
	dot := &v6.Dirent{Inumber: common.RootInum}
	if err := dot.SetName("."); err != nil {
		d.Close()
		return nil, err
	}
	dotdot := &v6.Dirent{Inumber: common.RootInum}
	if err := dotdot.SetName(".."); err != nil {
		d.Close()
		return nil, err
	}
	copy(dirSec[0:common.DirentSize], dot.Encode())
	copy(dirSec[common.DirentSize:2*common.DirentSize], dotdot.Encode())
	if err := d.Write(dirBlk, dirSec); err != nil {
		d.Close()
		return nil, err
	}

	root := &v6.Inode{Mode: v6.IALLOC | v6.IFDIR | 0o755, Nlink: 2}
	root.Addr[0] = uint16(dirBlk)
	if err := root.SetSize(2 * common.DirentSize); err != nil {
		d.Close()
		return nil, err
	}
	if err := writeInode(d, common.RootInum, root); err != nil {
		d.Close()
		return nil, err
	}

	sb := &v6.Superblock{Isize: isize, Fsize: uint16(nblocks)}
	now := uint32(time.Now().Unix())
	sb.Time[0], sb.Time[1] = uint16(now), uint16(now>>16)

	if logBlocks > 0 {
		sb.Uselog = 1
		numDataBlocks := nblocks - dataStart
		mapSectors := util.RoundUp(numDataBlocks, common.NBITBLOCK)
		log, err := wal.Create(d, common.Bnum(nblocks), logBlocks, mapSectors)
		if err != nil {
			d.Close()
			return nil, err
		}
		bm := alloc.NewBitmap(numDataBlocks)
		bm.MarkUsed(dirBlk - dataStart)
		padded := make([]byte, mapSectors*common.SectorSize)
		copy(padded, bm.Bytes())
		if err := log.WriteFreemap(padded); err != nil {
			d.Close()
			return nil, err
		}
	} else {
		io := rawDiskIO{d: d}
		fl := alloc.NewFreeList(io, 0, [common.SBNFree]uint16{})
		for bn := nblocks - 1; bn >= dataStart; bn-- {
			if bn == dirBlk {
				continue
			}
			if err := fl.Free(bn); err != nil {
				d.Close()
				return nil, err
			}
		}
		sb.Nfree, sb.Free = fl.Snapshot()
	}

	sb.Ninode = 0
	if err := d.Write(v6.SuperblockSector, sb.Encode()); err != nil {
		d.Close()
		return nil, err
	}
	if err := d.Close(); err != nil {
		return nil, err
	}
	return Mount(path)
}

func writeInode(d disk.Disk, ino common.Inum, in *v6.Inode) error {
	bn := v6.InodeBlock(ino)
	off := v6.InodeOffset(ino) * common.InodeSize
	sec, err := d.Read(bn)
	if err != nil {
		return err
	}
	copy(sec[off:off+common.InodeSize], in.Encode())
	return d.Write(bn, sec)
}

// rawDiskIO lets mkfs spill a legacy free-block chain straight to the
// image before any buffer cache exists.
type rawDiskIO struct{ d disk.Disk }

func (r rawDiskIO) ReadBlock(bn common.Bnum) ([]byte, error) { return r.d.Read(bn) }
func (r rawDiskIO) WriteBlock(bn common.Bnum, data []byte) error {
	sec := make([]byte, common.SectorSize)
	copy(sec, data)
	return r.d.Write(bn, sec)
}
