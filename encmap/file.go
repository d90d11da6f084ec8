package encmap

import (
	"fmt"

	"github.com/c8ef/CS111/cryptfile"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/ppage"
	"github.com/c8ef/CS111/util"
	"github.com/c8ef/CS111/vmregion"
	"github.com/c8ef/CS111/xex"
)

// File is an ENCMAP: a CryptFile whose decrypted contents can be mapped,
// demand-paged page by page, and accessed through ReadAt/WriteAt. It plays
// the role of original_source/P5's MCryptFile, with the virtual-address
// mapping replaced by vmregion.Region's explicit fault mediator (see
// package vmregion's doc comment for why) and ReadAt/WriteAt standing in
// for a raw pointer into map_base().
type File struct {
	cf       *cryptfile.CryptFile
	pool     *ppage.Pool
	pageSize uint64
	mapSize  uint64
	region   *vmregion.Region

	present map[uint64]int // virtual page -> owning ppage index
	dirty   map[uint64]bool
}

// Open opens (creating if absent) the ciphertext file at path bound to
// key; the file is not yet mapped until Map is called.
func Open(path string, key xex.Key) (*File, error) {
	cf, err := cryptfile.Open(path, key)
	if err != nil {
		return nil, err
	}
	return &File{cf: cf}, nil
}

// Map creates (or re-creates, after Unmap) the virtual region backing this
// file's decrypted contents, sized to max(minSize, file size) rounded up
// to the page size, and returns that size.
func (f *File) Map(minSize uint64) (uint64, error) {
	if f.region != nil {
		return 0, fmt.Errorf("encmap: Map: already mapped: %w", fserrors.ErrInvalidArgument)
	}
	size, err := f.cf.FileSize()
	if err != nil {
		return 0, err
	}
	if minSize > size {
		size = minSize
	}
	pool, err := acquirePool()
	if err != nil {
		return 0, err
	}
	f.pool = pool
	f.pageSize = uint64(ppage.PageSize())
	f.mapSize = roundUp(size, f.pageSize)
	f.present = make(map[uint64]int)
	f.dirty = make(map[uint64]bool)
	f.region = vmregion.New(f.mapSize, f.pageSize, f.fault)
	util.DPrintf(15, "encmap: mapped %d bytes (%d pages)\n", f.mapSize, f.mapSize/f.pageSize)
	return f.mapSize, nil
}

func roundUp(n, multiple uint64) uint64 {
	if multiple == 0 {
		return n
	}
	return (n + multiple - 1) / multiple * multiple
}

// MapSize returns the size of the current mapping; it is an error to call
// this before Map or after Unmap.
func (f *File) MapSize() (uint64, error) {
	if f.region == nil {
		return 0, fmt.Errorf("encmap: MapSize: not mapped: %w", fserrors.ErrInvalidArgument)
	}
	return f.mapSize, nil
}

// fault implements the fault-handling protocol of spec §4.5 / mcryptfile.cc
// fault(): vp not present triggers demand-load with a fresh physical page;
// vp present but read-only triggers the write-upgrade path.
func (f *File) fault(vp uint64, kind vmregion.FaultKind) error {
	switch kind {
	case vmregion.NotPresent:
		return f.faultLoad(vp)
	case vmregion.ReadOnlyWrite:
		return f.faultUpgrade(vp)
	default:
		return fmt.Errorf("encmap: fault: unknown kind %v: %w", kind, fserrors.ErrFsCorrupt)
	}
}

func (f *File) faultLoad(vp uint64) error {
	global.mu.Lock()
	pg, idx, err := f.pool.Alloc()
	global.mu.Unlock()
	if err != nil {
		if !fserrors.Is(err, fserrors.ErrResourceExhausted) {
			return err
		}
		if evictErr := evictOne(); evictErr != nil {
			return evictErr
		}
		global.mu.Lock()
		pg, idx, err = f.pool.Alloc()
		global.mu.Unlock()
		if err != nil {
			return err
		}
	}

	off := vp * f.pageSize
	n, err := f.cf.AlignedPread(pg, f.pageSize, off)
	if err != nil {
		return err
	}
	util.DPrintf(20, "encmap: fault load vp=%d read=%d bytes\n", vp, n)

	if err := f.region.Map(off, pg, vmregion.ProtRead); err != nil {
		return err
	}
	f.present[vp] = idx
	f.dirty[vp] = false

	global.mu.Lock()
	global.lru.pushFront(lruOwner{file: f, vp: vp}, idx)
	global.mu.Unlock()
	return nil
}

func (f *File) faultUpgrade(vp uint64) error {
	off := vp * f.pageSize
	if err := f.region.Remap(off, vmregion.ProtReadWrite); err != nil {
		return err
	}
	f.dirty[vp] = true

	global.mu.Lock()
	global.lru.touch(lruOwner{file: f, vp: vp})
	global.mu.Unlock()
	return nil
}

// evictOne evicts the global LRU tail: writes it back if dirty, unmaps it
// from its owning File, and frees the physical page, per spec §4.5's
// Eviction procedure.
func evictOne() error {
	global.mu.Lock()
	owner, idx, ok := global.lru.victim()
	if !ok {
		global.mu.Unlock()
		return errPoolEmpty
	}
	global.lru.remove(owner)
	global.mu.Unlock()

	o := owner.file
	vp := owner.vp
	if o.dirty[vp] {
		page := o.pool.At(idx)
		off := vp * o.pageSize
		if _, err := o.cf.AlignedPwrite(page, off); err != nil {
			return err
		}
		util.DPrintf(20, "encmap: evict vp=%d (dirty, written back)\n", vp)
	} else {
		util.DPrintf(20, "encmap: evict vp=%d (clean)\n", vp)
	}
	o.region.Unmap(vp * o.pageSize)
	delete(o.present, vp)
	delete(o.dirty, vp)

	global.mu.Lock()
	err := o.pool.Free(idx)
	global.mu.Unlock()
	return err
}

// ReadAt decrypts/demand-loads as needed and copies len(p) bytes starting
// at off into p, faulting in one page at a time.
func (f *File) ReadAt(p []byte, off uint64) (int, error) {
	if f.region == nil {
		return 0, fmt.Errorf("encmap: ReadAt: not mapped: %w", fserrors.ErrInvalidArgument)
	}
	n := 0
	for n < len(p) {
		cur := off + uint64(n)
		page, err := f.region.Access(cur, false)
		if err != nil {
			return n, err
		}
		pageOff := cur % f.pageSize
		k := copy(p[n:], page[pageOff:])
		n += k
	}
	return n, nil
}

// WriteAt faults in (or upgrades) each touched page and copies p into the
// mapping, marking those pages dirty.
func (f *File) WriteAt(p []byte, off uint64) (int, error) {
	if f.region == nil {
		return 0, fmt.Errorf("encmap: WriteAt: not mapped: %w", fserrors.ErrInvalidArgument)
	}
	n := 0
	for n < len(p) {
		cur := off + uint64(n)
		page, err := f.region.Access(cur, true)
		if err != nil {
			return n, err
		}
		pageOff := cur % f.pageSize
		k := copy(page[pageOff:], p[n:])
		n += k
	}
	return n, nil
}

// Flush writes back every dirty page without changing residency, per the
// Flush operation of spec §4.5.
func (f *File) Flush() error {
	if f.region == nil {
		return nil
	}
	for vp, isDirty := range f.dirty {
		if !isDirty {
			continue
		}
		idx := f.present[vp]
		page := f.pool.At(idx)
		off := vp * f.pageSize
		if _, err := f.cf.AlignedPwrite(page, off); err != nil {
			return err
		}
	}
	return nil
}

// Unmap flushes dirty pages, evicts every page this File owns, and tears
// down the virtual region, matching MCryptFile::unmap.
func (f *File) Unmap() error {
	if f.region == nil {
		return nil
	}
	if err := f.Flush(); err != nil {
		return err
	}
	for vp := range f.present {
		idx := f.present[vp]
		f.region.Unmap(vp * f.pageSize)
		delete(f.present, vp)
		delete(f.dirty, vp)
		global.mu.Lock()
		global.lru.remove(lruOwner{file: f, vp: vp})
		err := f.pool.Free(idx)
		global.mu.Unlock()
		if err != nil {
			return err
		}
	}
	f.region = nil
	return releasePool()
}

// Close tears down any mapping (flushing dirty pages first) and closes the
// underlying ciphertext file.
func (f *File) Close() error {
	if err := f.Unmap(); err != nil {
		return err
	}
	return f.cf.Close()
}
