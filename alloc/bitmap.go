// Package alloc implements block allocation for both regimes spec §4.8
// describes: a bitmap authoritative under journaling (Bitmap, grounded on
// original_source/P8/log.cc's in-memory freemap plus the teacher's
// mit-pdos-go-journal/alloc bitmap-scan idiom, generalized from a single
// next-to-try cursor to balloc_near's hint-based scan and a commit-gated
// pending-free list), and the legacy in-core 100-entry free-block cache
// chained through spilled blocks (FreeList, grounded on
// original_source/P8's non-journaling alloc path and filsys.h's s_free/
// s_nfree fields) used by images created without a log.
package alloc

import (
	"fmt"

	"github.com/c8ef/CS111/fserrors"
)

// Bitmap tracks data-block free/used state in memory, one bit per block
// (bit i corresponds to data block i relative to the filesystem's data
// area, not an absolute sector number — callers add their own base).
// Frees are staged in a pending list and only folded into the bitmap at
// transaction commit, so a freed block cannot be reused before the free
// is durable (spec §4.8).
type Bitmap struct {
	bits    []byte
	nbits   uint64
	pending []uint64
}

// NewBitmap creates a Bitmap for nbits blocks, all initially free.
func NewBitmap(nbits uint64) *Bitmap {
	return &Bitmap{bits: make([]byte, (nbits+7)/8), nbits: nbits}
}

// LoadBitmap wraps raw on-disk freemap bytes (1 = used, 0 = free, per
// spec §3.2) as a Bitmap covering nbits blocks.
func LoadBitmap(data []byte, nbits uint64) *Bitmap {
	b := &Bitmap{bits: make([]byte, len(data)), nbits: nbits}
	copy(b.bits, data)
	return b
}

// Bytes returns the raw on-disk freemap encoding (pending frees are NOT
// reflected until CommitFrees has been called).
func (b *Bitmap) Bytes() []byte {
	out := make([]byte, len(b.bits))
	copy(out, b.bits)
	return out
}

func (b *Bitmap) used(i uint64) bool  { return b.bits[i/8]&(1<<(i%8)) != 0 }
func (b *Bitmap) setUsed(i uint64)    { b.bits[i/8] |= 1 << (i % 8) }
func (b *Bitmap) setFree(i uint64)    { b.bits[i/8] &^= 1 << (i % 8) }

// BallocNear scans forward from hint (wrapping once) for the next free
// bit, marks it used immediately (allocation is durable the moment the
// caller logs a BlockAlloc record), and returns it.
func (b *Bitmap) BallocNear(hint uint64) (uint64, bool) {
	if b.nbits == 0 {
		return 0, false
	}
	hint %= b.nbits
	for off := uint64(0); off < b.nbits; off++ {
		i := (hint + off) % b.nbits
		if !b.used(i) {
			b.setUsed(i)
			return i, true
		}
	}
	return 0, false
}

// Bfree stages block i as pending-free; it is not reflected in Bytes()
// (and so not reusable by BallocNear) until CommitFrees.
func (b *Bitmap) Bfree(i uint64) error {
	if i >= b.nbits {
		return fmt.Errorf("alloc: Bfree: block %d out of range: %w", i, fserrors.ErrInvalidArgument)
	}
	b.pending = append(b.pending, i)
	return nil
}

// CommitFrees folds the pending-free list into the bitmap; called once a
// transaction's Commit record is durable.
func (b *Bitmap) CommitFrees() {
	for _, i := range b.pending {
		b.setFree(i)
	}
	b.pending = b.pending[:0]
}

// DiscardFrees drops the pending-free list without folding it in, used
// when a transaction aborts before commit.
func (b *Bitmap) DiscardFrees() {
	b.pending = b.pending[:0]
}

// NumFree reports the number of blocks not currently marked used (pending
// frees not yet committed are NOT counted as free).
func (b *Bitmap) NumFree() uint64 {
	n := uint64(0)
	for i := uint64(0); i < b.nbits; i++ {
		if !b.used(i) {
			n++
		}
	}
	return n
}

// MarkUsed force-marks block i used without going through BallocNear
// (used by mkfs/fsck to seed the bitmap from a reachability scan).
func (b *Bitmap) MarkUsed(i uint64) {
	if i < b.nbits {
		b.setUsed(i)
	}
}

// MarkFree force-marks block i free immediately, bypassing the pending
// list (used by fsck, which rebuilds the whole bitmap from scratch).
func (b *Bitmap) MarkFree(i uint64) {
	if i < b.nbits {
		b.setFree(i)
	}
}

// IsUsed reports whether block i is currently marked used.
func (b *Bitmap) IsUsed(i uint64) bool {
	if i >= b.nbits {
		return false
	}
	return b.used(i)
}

// NBits returns the bitmap's block count.
func (b *Bitmap) NBits() uint64 { return b.nbits }
