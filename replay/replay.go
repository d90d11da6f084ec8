// Package replay implements spec §4.11's crash recovery: scanning the log
// forward from its last checkpoint, redoing every fully committed
// transaction found, and discarding any transaction left open by a crash.
// It is grounded on original_source/P8/replay.cc, adapted from the
// original's block-device-handle idiom to read/write sectors straight
// through the mounted jfs.FS's disk.Disk, since replay runs before any
// other code touches the caches.
package replay

import (
	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/jfs"
	"github.com/c8ef/CS111/util"
	"github.com/c8ef/CS111/wal"
)

// Apply scans fs's log from its checkpoint and redoes every transaction
// whose Commit record is present and matches its Begin's sequence number,
// per spec §4.11: "a transaction is redone iff both its Begin and a
// matching Commit are present; an open Begin with no Commit is torn and
// discarded, taking every record after it with it." It must be called
// before any other code reads through fs's caches, and only on a freshly
// mounted journaling image (callers check fs.WasDirty && fs.Journaling).
// On return, fs.Log's write tail and checkpoint both sit just past the last
// successfully replayed transaction, so new transactions are appended
// there and a later replay starts there.
func Apply(fs *jfs.FS) error {
	log := fs.Log
	start, startSeq := log.Checkpoint()

	lastGood := start
	lastGoodSeq := startSeq

	off := start
	var scanned uint64
	var inTxn bool
	var beginLSN uint32
	var staged []wal.Record
	replayedAny := false

	for scanned <= 2*log.RingBytes() {
		rec, seq, next, err := log.ReadAt(off)
		if err != nil {
			break
		}
		switch r := rec.(type) {
		case wal.Begin:
			inTxn = true
			beginLSN = seq
			staged = staged[:0]
		case wal.Commit:
			if inTxn && r.Sequence == beginLSN {
				if err := applyStaged(fs, staged); err != nil {
					return err
				}
				lastGood = next
				lastGoodSeq = seq + 1
				replayedAny = true
			}
			inTxn = false
			staged = nil
		case wal.Rewind:
			inTxn = false
			staged = nil
		default:
			if inTxn {
				staged = append(staged, rec)
			}
		}
		if next == 0 {
			scanned += log.RingBytes() - off
			off = 0
		} else {
			scanned += next - off
			off = next
		}
	}

	util.DPrintf(2, "replay: scanned to %d, replayed through %d (seq %d)\n", off, lastGood, lastGoodSeq)
	if err := log.SetRecoveredTail(lastGood, lastGoodSeq); err != nil {
		return err
	}
	if !replayedAny {
		return nil
	}
	if fs.Txn != nil {
		return fs.Txn.Checkpoint()
	}
	return nil
}

// applyStaged redoes one committed transaction's Patch/BlockAlloc/
// BlockFree records in the order they were logged, writing straight to
// disk and updating fs.Bitmap (spec §4.10's "replay applies them in log
// order, never in reverse").
func applyStaged(fs *jfs.FS, staged []wal.Record) error {
	for _, rec := range staged {
		switch r := rec.(type) {
		case wal.Patch:
			if err := patchSector(fs, common.Bnum(r.Blockno), int(r.OffsetInBlock), r.Bytes); err != nil {
				return err
			}
		case wal.BlockAlloc:
			fs.Bitmap.MarkUsed(uint64(r.Blockno))
			if r.ZeroOnReplay != 0 {
				bn := fs.DataStart + common.Bnum(r.Blockno)
				if err := patchSector(fs, bn, 0, make([]byte, common.SectorSize)); err != nil {
					return err
				}
			}
		case wal.BlockFree:
			fs.Bitmap.MarkFree(uint64(r.Blockno))
		}
	}
	return nil
}

func patchSector(fs *jfs.FS, bn common.Bnum, off int, data []byte) error {
	sec, err := fs.Disk.Read(bn)
	if err != nil {
		return err
	}
	copy(sec[off:], data)
	return fs.Disk.Write(bn, sec)
}
