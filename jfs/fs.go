// Package jfs mounts a V6 filesystem image and mediates every access to it:
// opening/creating the image, wiring the buffer and inode caches to the
// journal (or to nothing, for a legacy non-journaling image), and
// dispatching block and inode allocation to whichever regime spec §4.8
// describes for this image. fsops builds directory and path operations on
// top of the primitives FS exposes here; replay and fsck operate directly
// on a *FS too. Grounded on original_source/P8/v6fs.{hh,cc} for the shape
// of the mounted-filesystem object and on mit-pdos-go-journal's top-level
// filesystem type for how a Go port wires caches to a log.
package jfs

import (
	"fmt"

	"github.com/c8ef/CS111/addr"
	"github.com/c8ef/CS111/alloc"
	"github.com/c8ef/CS111/bcache"
	"github.com/c8ef/CS111/buf"
	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/disk"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/icache"
	"github.com/c8ef/CS111/txn"
	"github.com/c8ef/CS111/util"
	"github.com/c8ef/CS111/v6"
	"github.com/c8ef/CS111/wal"
)

// bcacheCapacity and icacheCapacity bound the fixed-size caches spec §4.7
// requires; these are large enough for a single-threaded session touching
// a handful of files at once without constantly evicting.
const (
	bcacheCapacity = 64
	icacheCapacity = 32
)

// FS is one mounted V6 image.
type FS struct {
	Disk disk.Disk
	SB   *v6.Superblock

	Bcache *bcache.Cache
	Icache *icache.Cache

	Journaling bool
	Log        *wal.Log
	Txn        *txn.System
	Bitmap     *alloc.Bitmap   // authoritative under journaling
	FreeList   *alloc.FreeList // authoritative without journaling

	DataStart common.Bnum // first data-block sector
	DataEnd   common.Bnum // one past the last data-block sector (== s_fsize)

	// WasDirty is s_dirty as read at Mount time, before Mount stamps the
	// superblock dirty for this session. A caller mounting a journaling
	// image sees this true and must run replay.Apply before trusting the
	// image (spec §3.2's "mounted by opening... and, if s_dirty and
	// journaling present, replaying the log" — jfs cannot call replay
	// itself without an import cycle, so it surfaces the decision here).
	WasDirty bool

	sbDirty   bool
	lastAlloc uint64
}

// Mount opens path, which must already have been created with Create, and
// wires up its caches. It does not replay the log; callers check WasDirty
// && Journaling and invoke replay.Apply themselves before trusting the
// image.
func Mount(path string) (*FS, error) {
	d, err := disk.OpenFileDisk(path, 0)
	if err != nil {
		return nil, err
	}
	sec, err := d.Read(v6.SuperblockSector)
	if err != nil {
		d.Close()
		return nil, err
	}
	sb, err := v6.DecodeSuperblock(sec)
	if err != nil {
		d.Close()
		return nil, err
	}

	fs := &FS{
		Disk:       d,
		SB:         sb,
		Journaling: sb.Uselog != 0,
		DataStart:  v6.DataStart(sb.Isize),
		DataEnd:    common.Bnum(sb.Fsize),
		WasDirty:   sb.Dirty != 0,
	}

	committed := bcache.CommittedFunc(func() uint64 { return ^uint64(0) })
	var flush bcache.FlushFunc
	if fs.Journaling {
		log, err := wal.Open(d, fs.DataEnd)
		if err != nil {
			d.Close()
			return nil, err
		}
		fs.Log = log
		committed = log.Committed
		flush = log.Flush
		freemap, err := log.ReadFreemap()
		if err != nil {
			d.Close()
			return nil, err
		}
		fs.Bitmap = alloc.LoadBitmap(freemap, fs.DataEnd-fs.DataStart)
	}

	fs.Bcache = bcache.New(d, bcacheCapacity, committed, flush)
	fs.Icache = icache.New(icacheCapacity, fs.inodeLoader, fs.inodeStorer, committed)

	if fs.Journaling {
		fs.Txn = txn.NewSystem(fs.Bcache, fs.Icache, fs.Log, fs.Bitmap)
	} else {
		fs.FreeList = alloc.NewFreeList(fs, sb.Nfree, sb.Free)
	}

	fs.SB.Dirty = 1
	fs.markSBDirty()
	if err := fs.syncSuperblock(); err != nil {
		d.Close()
		return nil, err
	}
	util.DPrintf(2, "jfs: mounted %s (journaling=%v, wasDirty=%v)\n", path, fs.Journaling, fs.WasDirty)
	return fs, nil
}

// Unmount checkpoints (if journaling), flushes both caches and the
// superblock, clears s_dirty, and closes the image (spec §3.2: "unmounted
// by checkpointing, clearing s_dirty").
func (fs *FS) Unmount() error {
	if fs.Journaling {
		if err := fs.Txn.Checkpoint(); err != nil {
			return err
		}
	}
	if err := fs.Sync(); err != nil {
		return err
	}
	fs.SB.Dirty = 0
	fs.markSBDirty()
	if err := fs.syncSuperblock(); err != nil {
		return err
	}
	if err := fs.Disk.Barrier(); err != nil {
		return err
	}
	return fs.Disk.Close()
}

// Sync flushes the inode cache, then the buffer cache (inode write-back
// can dirty the sectors holding them, so inodes must drain first), then
// the superblock, including (for a legacy image) a fresh snapshot of the
// free-block cache array.
func (fs *FS) Sync() error {
	if !fs.Journaling {
		fs.SB.Nfree, fs.SB.Free = fs.FreeList.Snapshot()
		fs.markSBDirty()
	}
	if err := fs.Icache.Sync(); err != nil {
		return err
	}
	if err := fs.Bcache.Sync(); err != nil {
		return err
	}
	return fs.syncSuperblock()
}

func (fs *FS) markSBDirty() { fs.sbDirty = true }

func (fs *FS) syncSuperblock() error {
	if !fs.sbDirty {
		return nil
	}
	if err := fs.Disk.Write(v6.SuperblockSector, fs.SB.Encode()); err != nil {
		return err
	}
	fs.sbDirty = false
	return nil
}

// Begin opens a transaction when journaling, or returns a nil Handle
// (meaning "no transaction") for a legacy image; every mutating fsops call
// takes the resulting Handle and every jfs helper accepts nil as "not
// journaling".
func (fs *FS) Begin() (*txn.Handle, error) {
	if !fs.Journaling {
		return nil, nil
	}
	return fs.Txn.Begin()
}

func (fs *FS) Commit(h *txn.Handle) error {
	if h == nil {
		return nil
	}
	return h.Commit()
}

func (fs *FS) Abort(h *txn.Handle) {
	if h == nil {
		return
	}
	h.Abort()
}

// DirtyInode marks ih modified: logged via the transaction when
// journaling, or simply flagged dirty for ordinary write-back otherwise.
func (fs *FS) DirtyInode(h *txn.Handle, ih *icache.Handle) error {
	if h != nil {
		return h.PatchInode(ih)
	}
	ih.MarkDirty()
	return nil
}

// Balloc allocates one block, dispatching to the bitmap (journaling) or
// the legacy free-block cache. metadata controls whether the block is
// zeroed before use: required for indirect blocks and directory contents,
// skipped for opaque file data (spec §4.8, §4.10's BlockAlloc.ZeroOnReplay).
func (fs *FS) Balloc(h *txn.Handle, hint uint64, metadata bool) (common.Bnum, error) {
	if fs.Journaling {
		bn, err := h.AllocBlock(fs.DataStart, hint, metadata)
		if err != nil {
			return 0, err
		}
		fs.lastAlloc = bn - fs.DataStart
		return bn, nil
	}
	bn, err := fs.FreeList.Alloc()
	if err != nil {
		return 0, err
	}
	if metadata {
		if err := fs.zeroSector(bn); err != nil {
			return 0, err
		}
	}
	fs.lastAlloc = bn
	return bn, nil
}

// Bfree releases one block back to whichever regime is authoritative.
func (fs *FS) Bfree(h *txn.Handle, bn common.Bnum) error {
	if fs.Journaling {
		return h.FreeBlock(fs.DataStart, bn)
	}
	return fs.FreeList.Free(bn)
}

func (fs *FS) nextHint() uint64 {
	h := fs.lastAlloc
	fs.lastAlloc++
	return h
}

// IAlloc pops a free inode number from the superblock's cache array,
// refilling it by scanning the whole inode table when empty (spec §4.8:
// "when exhausted, the entire inode table is scanned for IALLOC=0"; both
// regimes share this path). The returned handle's inode is zeroed but not
// yet marked IALLOC — callers finish initializing it and call DirtyInode.
func (fs *FS) IAlloc(h *txn.Handle) (*icache.Handle, error) {
	if fs.SB.Ninode == 0 {
		end := uint64(fs.SB.Isize) * common.InodesPerBlock
		for i := uint64(common.RootInum); i <= end && fs.SB.Ninode < common.SBNInode; i++ {
			ih, err := fs.Icache.Get(common.Inum(i))
			if err != nil {
				return nil, err
			}
			if !ih.Inode().IsAllocated() {
				fs.SB.Inode[fs.SB.Ninode] = uint16(i)
				fs.SB.Ninode++
			}
			ih.Release()
		}
	}
	if fs.SB.Ninode == 0 {
		return nil, fmt.Errorf("jfs: IAlloc: no free inodes: %w", fserrors.ErrResourceExhausted)
	}
	fs.SB.Ninode--
	inum := common.Inum(fs.SB.Inode[fs.SB.Ninode])
	fs.markSBDirty()
	ih, err := fs.Icache.Get(inum)
	if err != nil {
		return nil, err
	}
	*ih.Inode() = v6.Inode{}
	if err := fs.DirtyInode(h, ih); err != nil {
		ih.Release()
		return nil, err
	}
	return ih, nil
}

// IFree returns inum to the superblock's free-inode cache array, silently
// dropping it if the array is already full (spec's original behavior: the
// inode becomes unreachable until a future full-table rescan, which is
// harmless since it is already IALLOC=0).
func (fs *FS) IFree(inum common.Inum) error {
	if fs.SB.Ninode >= common.SBNInode {
		return nil
	}
	fs.SB.Inode[fs.SB.Ninode] = uint16(inum)
	fs.SB.Ninode++
	fs.markSBDirty()
	return nil
}

// WriteAt installs data at byte offset byteOff within sector bn, logging
// it through h when journaling or just dirtying the buffer cache slot
// otherwise. Used for block-pointer updates (inode tree, indirect blocks),
// directory entry writes and file data. When journaling, data is logged as
// Patch records of at most wal.MaxPatchBytes each.
func (fs *FS) WriteAt(h *txn.Handle, bn common.Bnum, byteOff int, data []byte) error {
	if h != nil {
		for len(data) > 0 {
			n := len(data)
			if n > wal.MaxPatchBytes {
				n = wal.MaxPatchBytes
			}
			if err := h.Patch(buf.MkBuf(addr.MkAddr(bn, uint64(byteOff)*8, uint64(n)*8), data[:n])); err != nil {
				return err
			}
			byteOff += n
			data = data[n:]
		}
		return nil
	}
	bh, err := fs.Bcache.Get(bn)
	if err != nil {
		return err
	}
	copy(bh.Bytes()[byteOff:], data)
	bh.MarkDirty()
	bh.Release()
	return nil
}

// readSectorBytes returns a private copy of sector bn's contents, or a
// zero sector if bn is the null block number (a hole).
func (fs *FS) readSectorBytes(bn common.Bnum) ([]byte, error) {
	if bn == common.NullBnum {
		return make([]byte, common.SectorSize), nil
	}
	bh, err := fs.Bcache.Get(bn)
	if err != nil {
		return nil, err
	}
	data := util.CloneBytes(bh.Bytes())
	bh.Release()
	return data, nil
}

func (fs *FS) zeroSector(bn common.Bnum) error {
	bh, err := fs.Bcache.Get(bn)
	if err != nil {
		return err
	}
	for i := range bh.Bytes() {
		bh.Bytes()[i] = 0
	}
	bh.MarkDirty()
	bh.Release()
	return nil
}

func (fs *FS) inodeLoader(ino common.Inum) (*v6.Inode, error) {
	bn := v6.InodeBlock(ino)
	off := v6.InodeOffset(ino) * common.InodeSize
	bh, err := fs.Bcache.Get(bn)
	if err != nil {
		return nil, err
	}
	data := util.CloneBytes(bh.Bytes()[off : off+common.InodeSize])
	bh.Release()
	return v6.DecodeInode(data)
}

func (fs *FS) inodeStorer(ino common.Inum, in *v6.Inode, lsn uint64, logged bool) error {
	bn := v6.InodeBlock(ino)
	off := v6.InodeOffset(ino) * common.InodeSize
	bh, err := fs.Bcache.Get(bn)
	if err != nil {
		return err
	}
	copy(bh.Bytes()[off:off+common.InodeSize], in.Encode())
	if logged {
		bh.MarkLogged(lsn)
	} else {
		bh.MarkDirty()
	}
	bh.Release()
	return nil
}

// ReadBlock and WriteBlock implement alloc.BlockIO, letting the legacy
// FreeList spill/refill its overflow chain through the buffer cache like
// everything else.
func (fs *FS) ReadBlock(bn common.Bnum) ([]byte, error) { return fs.readSectorBytes(bn) }

func (fs *FS) WriteBlock(bn common.Bnum, data []byte) error {
	return fs.WriteAt(nil, bn, 0, data)
}
