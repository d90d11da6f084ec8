package jfs

import (
	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/icache"
	"github.com/c8ef/CS111/itree"
	"github.com/c8ef/CS111/txn"
	"github.com/c8ef/CS111/v6"
)

// slot names one pointer within the block-pointer chain leading to file
// block k: either ino.Addr[idx] itself (bn == common.NullBnum) or entry
// idx of the indirect block bn.
type slot struct {
	bn  common.Bnum
	idx int
}

// resolveChain walks ino's block-pointer chain for file-block k as far as
// existing (non-hole) pointers go, per spec §4.6: "a zero pointer denotes
// a hole". It returns every slot visited, in root-to-leaf order, and the
// final pointer value (0 if the chain ends in a hole before reaching a
// leaf).
func (fs *FS) resolveChain(ino *v6.Inode, k uint64) ([]slot, common.Bnum, error) {
	loc, err := itree.Locate(ino.Mode, k)
	if err != nil {
		return nil, 0, err
	}
	slots := []slot{{bn: common.NullBnum, idx: loc.AddrIndex}}
	cur := common.Bnum(ino.Addr[loc.AddrIndex])
	for _, idx := range loc.Indices {
		if cur == common.NullBnum {
			return slots, common.NullBnum, nil
		}
		slots = append(slots, slot{bn: cur, idx: idx})
		sector, err := fs.readSectorBytes(cur)
		if err != nil {
			return nil, 0, err
		}
		cur = common.Bnum(itree.GetU16(sector, idx))
	}
	return slots, cur, nil
}

func (fs *FS) zeroSlot(h *txn.Handle, ino *v6.Inode, ih *icache.Handle, s slot) error {
	if s.bn == common.NullBnum {
		ino.Addr[s.idx] = 0
		return fs.DirtyInode(h, ih)
	}
	return fs.WriteAt(h, s.bn, s.idx*2, []byte{0, 0})
}

func (fs *FS) sectorAllZero(bn common.Bnum) (bool, error) {
	data, err := fs.readSectorBytes(bn)
	if err != nil {
		return false, err
	}
	for _, b := range data {
		if b != 0 {
			return false, nil
		}
	}
	return true, nil
}

// ReadFileBlock returns file-block k's contents (one sector), zero-filled
// if it is a hole.
func (fs *FS) ReadFileBlock(ino *v6.Inode, k uint64) ([]byte, error) {
	_, leaf, err := fs.resolveChain(ino, k)
	if err != nil {
		return nil, err
	}
	return fs.readSectorBytes(leaf)
}

// GetOrAllocBlock returns file-block k's sector number, allocating it (and
// any indirect blocks along the way) if it is currently a hole. A small
// file asked for a block past the direct range becomes ILARG first: its
// direct pointers move, in order, into a new single-indirect block at
// i_addr[0]. The caller logs the inode change (WriteFileAt does).
func (fs *FS) GetOrAllocBlock(h *txn.Handle, ino *v6.Inode, ih *icache.Handle, k uint64) (common.Bnum, error) {
	if ino.Mode&v6.ILARG == 0 && k >= common.NDirectBlocks {
		ptrs := make([]byte, 2*common.NDirectBlocks)
		for i, a := range ino.Addr {
			itree.PutU16(ptrs, i, a)
		}
		nb, err := fs.Balloc(h, fs.nextHint(), true)
		if err == nil {
			err = fs.WriteAt(h, nb, 0, ptrs)
		}
		if err != nil {
			return 0, err
		}
		ino.Addr = [common.NDirectBlocks]uint16{uint16(nb)}
		ino.Mode |= v6.ILARG
	}
	loc, err := itree.Locate(ino.Mode, k)
	if err != nil {
		return 0, err
	}
	cur := common.Bnum(ino.Addr[loc.AddrIndex])
	if cur == common.NullBnum {
		metadata := len(loc.Indices) > 0
		nb, err := fs.Balloc(h, fs.nextHint(), metadata)
		if err != nil {
			return 0, err
		}
		ino.Addr[loc.AddrIndex] = uint16(nb)
		if err := fs.DirtyInode(h, ih); err != nil {
			return 0, err
		}
		cur = nb
	}
	for i, idx := range loc.Indices {
		last := i == len(loc.Indices)-1
		sector, err := fs.readSectorBytes(cur)
		if err != nil {
			return 0, err
		}
		ptr := common.Bnum(itree.GetU16(sector, idx))
		if ptr == common.NullBnum {
			nb, err := fs.Balloc(h, fs.nextHint(), !last)
			if err != nil {
				return 0, err
			}
			lebuf := []byte{byte(nb), byte(nb >> 8)}
			if err := fs.WriteAt(h, cur, idx*2, lebuf); err != nil {
				return 0, err
			}
			ptr = nb
		}
		cur = ptr
	}
	return cur, nil
}

// Truncate frees every file block from newSize's block count up through
// ino's current block count (descending), collapsing any indirect block
// that becomes entirely empty, and sets ino's size to newSize.
func (fs *FS) Truncate(h *txn.Handle, ino *v6.Inode, ih *icache.Handle, newSize uint64) error {
	oldBlocks := itree.BlocksForSize(ino.Size())
	newBlocks := itree.BlocksForSize(newSize)
	for k := oldBlocks; k > newBlocks; k-- {
		if err := fs.freeBlock(h, ino, ih, k-1); err != nil {
			return err
		}
	}
	if err := ino.SetSize(newSize); err != nil {
		return err
	}
	return fs.DirtyInode(h, ih)
}

func (fs *FS) freeBlock(h *txn.Handle, ino *v6.Inode, ih *icache.Handle, k uint64) error {
	slots, leaf, err := fs.resolveChain(ino, k)
	if err != nil {
		return err
	}
	if leaf == common.NullBnum {
		return nil
	}
	if err := fs.Bfree(h, leaf); err != nil {
		return err
	}
	if err := fs.zeroSlot(h, ino, ih, slots[len(slots)-1]); err != nil {
		return err
	}
	for i := len(slots) - 1; i > 0; i-- {
		empty, err := fs.sectorAllZero(slots[i].bn)
		if err != nil {
			return err
		}
		if !empty {
			break
		}
		if err := fs.Bfree(h, slots[i].bn); err != nil {
			return err
		}
		if err := fs.zeroSlot(h, ino, ih, slots[i-1]); err != nil {
			return err
		}
	}
	return nil
}

// ReadFileAt reads n bytes at byte offset off from ino's contents,
// returning zeros for any part of the range at or past the file's
// current size.
func (fs *FS) ReadFileAt(ino *v6.Inode, off uint64, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	size := ino.Size()
	for len(out) < n {
		if off >= size {
			out = append(out, make([]byte, n-len(out))...)
			break
		}
		k := off / common.SectorSize
		secOff := off % common.SectorSize
		sector, err := fs.ReadFileBlock(ino, k)
		if err != nil {
			return nil, err
		}
		take := int(common.SectorSize - secOff)
		if take > n-len(out) {
			take = n - len(out)
		}
		if uint64(take) > size-off {
			take = int(size - off)
		}
		out = append(out, sector[secOff:secOff+uint64(take)]...)
		if take == 0 {
			out = append(out, make([]byte, n-len(out))...)
			break
		}
		off += uint64(take)
	}
	return out, nil
}

// WriteFileAt writes data at byte offset off into ino's contents,
// allocating blocks as needed and growing ino's recorded size if the
// write extends past it.
func (fs *FS) WriteFileAt(h *txn.Handle, ino *v6.Inode, ih *icache.Handle, off uint64, data []byte) error {
	end := off + uint64(len(data))
	written := 0
	for written < len(data) {
		pos := off + uint64(written)
		k := pos / common.SectorSize
		secOff := pos % common.SectorSize
		bn, err := fs.GetOrAllocBlock(h, ino, ih, k)
		if err != nil {
			return err
		}
		take := int(common.SectorSize - secOff)
		remaining := len(data) - written
		if take > remaining {
			take = remaining
		}
		if err := fs.WriteAt(h, bn, int(secOff), data[written:written+take]); err != nil {
			return err
		}
		written += take
	}
	if end > ino.Size() {
		if err := ino.SetSize(end); err != nil {
			return err
		}
		return fs.DirtyInode(h, ih)
	}
	return nil
}
