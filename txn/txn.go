// Package txn stitches the buffer/inode caches and the write-ahead log
// into the scoped-transaction idiom of spec §4.10: a System owns one
// mounted image's bcache.Cache, icache.Cache, wal.Log and alloc.Bitmap; a
// Handle returned by Begin stages Patch/BlockAlloc/BlockFree records and,
// on Commit, appends the matching Commit record, flushes the log, and
// folds pending frees into the bitmap (spec §9's "scoped transaction
// handle... on drop, commits" — Go has no destructors, so callers call
// Commit explicitly; a transaction left un-committed is simply replayed
// away as a torn Begin on the next mount, which is benign by design).
package txn

import (
	"fmt"
	"time"

	"github.com/c8ef/CS111/alloc"
	"github.com/c8ef/CS111/bcache"
	"github.com/c8ef/CS111/buf"
	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/icache"
	"github.com/c8ef/CS111/util"
	"github.com/c8ef/CS111/v6"
	"github.com/c8ef/CS111/wal"
)

// checkpointInterval is the "30 seconds elapsed" half of spec §4.10's
// checkpoint trigger.
const checkpointInterval = 30 * time.Second

// System is the journaling mediator for one mounted, journaled V6 image.
type System struct {
	Bcache *bcache.Cache
	Icache *icache.Cache
	Log    *wal.Log
	Bitmap *alloc.Bitmap

	depth          int // >0 while a Handle is open; reentrant Begin no-ops
	lastCheckpoint time.Time
}

// NewSystem wires a System around already-opened caches/log/bitmap. bc
// should have been constructed with committed/flush callbacks, and ic with
// a committed callback, pointing back at log (see jfs.Mount).
func NewSystem(bc *bcache.Cache, ic *icache.Cache, log *wal.Log, bitmap *alloc.Bitmap) *System {
	return &System{Bcache: bc, Icache: ic, Log: log, Bitmap: bitmap, lastCheckpoint: time.Now()}
}

// Handle is a single in-flight transaction.
type Handle struct {
	sys    *System
	lsn    uint32
	nested bool // true for a reentrant Begin: Commit on it is a no-op
}

// Begin opens a transaction, logging its Begin record. A Begin called
// while another Handle from the same System is still open returns a
// no-op nested Handle (spec §9: "nesting is idempotent").
func (s *System) Begin() (*Handle, error) {
	if s.depth > 0 {
		s.depth++
		return &Handle{sys: s, nested: true}, nil
	}
	seq, err := s.Log.Append(wal.Begin{})
	if err != nil {
		return nil, err
	}
	s.depth = 1
	return &Handle{sys: s, lsn: seq}, nil
}

// Patch installs b's bytes into their backing sector via the buffer cache
// and logs a Patch record so replay can reconstruct it. b's Addr must be
// byte-aligned (bit-granular writes, i.e. freemap bits, are never logged:
// the freemap is reconstructed wholesale at checkpoint instead).
func (h *Handle) Patch(b *buf.Buf) error {
	if b.Addr.Off%8 != 0 || b.Addr.Sz%8 != 0 {
		return fmt.Errorf("txn: Patch: bit-granular address %v cannot be logged: %w", b.Addr, fserrors.ErrInvalidArgument)
	}
	if len(b.Data) > wal.MaxPatchBytes {
		return fmt.Errorf("txn: Patch: %d bytes exceeds max %d: %w", len(b.Data), wal.MaxPatchBytes, fserrors.ErrInvalidArgument)
	}
	handle, err := h.sys.Bcache.Get(b.Addr.Blkno)
	if err != nil {
		return err
	}
	off := b.ByteOff()
	copy(handle.Bytes()[off:], b.Data)
	handle.MarkLogged(uint64(h.lsn))
	_, err = h.sys.Log.Append(wal.Patch{
		Blockno:       uint16(b.Addr.Blkno),
		OffsetInBlock: uint16(off),
		Bytes:         b.Data,
	})
	handle.Release()
	if err != nil {
		return err
	}
	util.DPrintf(5, "txn: patch blk=%d off=%d len=%d\n", b.Addr.Blkno, off, len(b.Data))
	return nil
}

// PatchInode logs inode ih's current in-memory contents as a Patch record
// against its backing sector (spec §4.7's "inode mutations are logged the
// same way block mutations are": grounded on original_source/P8/v6fs.cc's
// V6FS::log_patch, adapted to always patch the whole 32-byte inode rather
// than the original's exact mutated-field span, so a single Patch record
// is sufficient regardless of which field changed) and marks the icache
// entry logged so it cannot be written back before this transaction
// commits.
func (h *Handle) PatchInode(ih *icache.Handle) error {
	ino := ih.Inum()
	bn := v6.InodeBlock(ino)
	off := v6.InodeOffset(ino) * common.InodeSize
	data := ih.Inode().Encode()
	if _, err := h.sys.Log.Append(wal.Patch{
		Blockno:       uint16(bn),
		OffsetInBlock: uint16(off),
		Bytes:         data,
	}); err != nil {
		return err
	}
	ih.MarkLogged(uint64(h.lsn))
	util.DPrintf(5, "txn: patch inode=%d blk=%d off=%d\n", ino, bn, off)
	return nil
}

// AllocBlock allocates a data block near hint, zeroing its cached contents
// live (and recording zeroOnReplay so a crash replay does the same) when
// the block will hold metadata (an indirect block or directory contents)
// rather than opaque file data.
func (h *Handle) AllocBlock(base common.Bnum, hint uint64, zeroOnReplay bool) (common.Bnum, error) {
	rel, ok := h.sys.Bitmap.BallocNear(hint)
	if !ok {
		return 0, fmt.Errorf("txn: AllocBlock: no free blocks: %w", fserrors.ErrResourceExhausted)
	}
	bn := base + common.Bnum(rel)
	zor := uint8(0)
	if zeroOnReplay {
		zor = 1
		handle, err := h.sys.Bcache.Get(bn)
		if err != nil {
			return 0, err
		}
		for i := range handle.Bytes() {
			handle.Bytes()[i] = 0
		}
		handle.MarkLogged(uint64(h.lsn))
		handle.Release()
	}
	if _, err := h.sys.Log.Append(wal.BlockAlloc{Blockno: uint16(rel), ZeroOnReplay: zor}); err != nil {
		return 0, err
	}
	util.DPrintf(5, "txn: alloc block %d (zero=%v)\n", bn, zeroOnReplay)
	return bn, nil
}

// FreeBlock stages block bn (relative to base) as pending-free and logs a
// BlockFree record; the bitmap only reflects the free once Commit folds
// the pending list in.
func (h *Handle) FreeBlock(base common.Bnum, bn common.Bnum) error {
	rel := uint64(bn - base)
	if err := h.sys.Bitmap.Bfree(rel); err != nil {
		return err
	}
	_, err := h.sys.Log.Append(wal.BlockFree{Blockno: uint16(rel)})
	util.DPrintf(5, "txn: free block %d\n", bn)
	return err
}

// Commit closes the transaction: appends Commit, flushes the log so every
// record up to and including it is durable, folds pending frees into the
// bitmap, and (if warranted) checkpoints.
func (h *Handle) Commit() error {
	if h.nested {
		h.sys.depth--
		return nil
	}
	if _, err := h.sys.Log.Append(wal.Commit{Sequence: h.lsn}); err != nil {
		return err
	}
	if err := h.sys.Log.Flush(); err != nil {
		return err
	}
	h.sys.Bitmap.CommitFrees()
	h.sys.depth--
	return h.sys.maybeCheckpoint()
}

// Abort discards this transaction's pending frees without committing; the
// Begin already written to the log is harmless because replay discards any
// transaction lacking a matching Commit.
func (h *Handle) Abort() {
	if h.nested {
		h.sys.depth--
		return
	}
	h.sys.Bitmap.DiscardFrees()
	h.sys.depth--
}

// usedBytes estimates how much of the ring is not yet reclaimable: the
// distance from the last checkpoint to the current tail, wrapping once.
func (s *System) usedBytes() uint64 {
	ckpt, _ := s.Log.Checkpoint()
	tail := s.Log.Tail()
	if tail >= ckpt {
		return tail - ckpt
	}
	return tail + s.Log.RingBytes() - ckpt
}

func (s *System) maybeCheckpoint() error {
	low := s.usedBytes() > s.Log.RingBytes()/2
	stale := time.Since(s.lastCheckpoint) > checkpointInterval
	if !low && !stale {
		return nil
	}
	return s.Checkpoint()
}

// Checkpoint performs spec §4.10's checkpoint procedure: a synthetic
// Begin/Commit pair marks the new replay start, the log and caches are
// flushed so every patched sector is durable, the freemap is written, and
// finally the log header's checkpoint/sequence are updated — freemap
// first, header last, so the header remains the single linearization
// point for where replay must start (spec §5).
func (s *System) Checkpoint() error {
	beginSeq, err := s.Log.Append(wal.Begin{})
	if err != nil {
		return err
	}
	if _, err := s.Log.Append(wal.Commit{Sequence: beginSeq}); err != nil {
		return err
	}
	if err := s.Log.Flush(); err != nil {
		return err
	}
	// Inodes first: their write-back dirties buffer-cache sectors.
	if err := s.Icache.Sync(); err != nil {
		return err
	}
	if err := s.Bcache.Sync(); err != nil {
		return err
	}
	freemap := make([]byte, s.Log.MapSectors()*common.SectorSize)
	copy(freemap, s.Bitmap.Bytes())
	if err := s.Log.CheckpointNow(freemap, s.Log.Tail(), s.Log.PeekSeq()); err != nil {
		return err
	}
	s.lastCheckpoint = time.Now()
	util.DPrintf(3, "txn: checkpoint at tail=%d\n", s.Log.Tail())
	return nil
}
