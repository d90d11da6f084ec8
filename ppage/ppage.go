// Package ppage implements a fixed-size pool of pseudo-physical pages,
// grounded on original_source/P5/vm.{hh,cc}'s PhysMem. Each page is backed
// by a real page of memory (best-effort mlock'd, up to 1 MiB, via
// golang.org/x/sys/unix) so that decrypted ENCMAP contents are not paged
// out to swap. vmregion.Region maps pages allocated here into a caller's
// address space; encmap.File is the only caller of both.
package ppage

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/c8ef/CS111/fserrors"
)

// magic1, magic2 sandwich a freed page's contents: Free stamps magic1 over
// the first 8 bytes, magic2 over the last 8, and garbage over everything in
// between, matching vm.hh's FreePage corruption check. Alloc verifies the
// pattern is still intact before handing the page back out; a mismatch
// means something was written to the page after it was freed.
const (
	magic1  uint64 = 0xb587a9ce779288b5
	magic2  uint64 = 0xaa75b1b8ac4cd7d0
	garbage uint64 = 0x702e0f91a2a6bec7
)

var pageSize = unix.Getpagesize()

// PageSize returns the system page size used as the granularity of every
// Pool's pages.
func PageSize() int { return pageSize }

// Page is a pseudo-physical page: a byte slice of exactly the system page
// size, carved out of a Pool's backing mapping. Callers should not retain a
// Page past a call to Pool.Free for the same index.
type Page []byte

// Pool holds a fixed number of pages allocated up front from one anonymous
// mmap, handed out via Alloc and returned via Free.
type Pool struct {
	mu    sync.Mutex
	mem   []byte
	npage int
	free  []int // stack of free page indices
	live  []bool
}

// New creates a pool of npages pages, each pageSize bytes, backed by one
// anonymous mapping. It mlocks up to 1 MiB of that mapping (best-effort;
// failure, e.g. from lacking CAP_IPC_LOCK, is ignored exactly as the
// original tolerates an unprivileged mlock failure).
func New(npages int) (*Pool, error) {
	if npages <= 0 {
		return nil, fmt.Errorf("ppage: New: npages must be positive: %w", fserrors.ErrInvalidArgument)
	}
	size := npages * pageSize
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ppage: mmap: %w: %w", err, fserrors.ErrIO)
	}
	lock := mem
	if len(lock) > 0x100000 {
		lock = lock[:0x100000]
	}
	_ = unix.Mlock(lock)
	p := &Pool{mem: mem, npage: npages}
	p.live = make([]bool, npages)
	for i := npages - 1; i >= 0; i-- {
		p.sentinelize(i)
		p.free = append(p.free, i)
	}
	return p, nil
}

// sentinelize stamps the free-page corruption pattern into page idx.
func (p *Pool) sentinelize(idx int) {
	pg := p.slot(idx)
	binary.LittleEndian.PutUint64(pg[0:8], magic1)
	for off := 8; off+8 <= len(pg)-8; off += 8 {
		binary.LittleEndian.PutUint64(pg[off:off+8], garbage)
	}
	binary.LittleEndian.PutUint64(pg[len(pg)-8:], magic2)
}

// sentinelIntact reports whether page idx still carries the pattern Free
// (or New) stamped into it, i.e. nothing has written to it since.
func (p *Pool) sentinelIntact(idx int) bool {
	pg := p.slot(idx)
	if binary.LittleEndian.Uint64(pg[0:8]) != magic1 {
		return false
	}
	if binary.LittleEndian.Uint64(pg[len(pg)-8:]) != magic2 {
		return false
	}
	for off := 8; off+8 <= len(pg)-8; off += 8 {
		if binary.LittleEndian.Uint64(pg[off:off+8]) != garbage {
			return false
		}
	}
	return true
}

// NPages returns the total capacity of the pool.
func (p *Pool) NPages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.npage
}

// NFree returns the number of currently unallocated pages.
func (p *Pool) NFree() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *Pool) slot(i int) Page {
	return Page(p.mem[i*pageSize : (i+1)*pageSize])
}

// Alloc returns a free page and its index, or fserrors.ErrResourceExhausted
// if the pool is fully allocated. It is an error if the page's sentinel
// pattern was clobbered while it sat on the free list.
func (p *Pool) Alloc() (Page, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.free)
	if n == 0 {
		return nil, 0, fmt.Errorf("ppage: Alloc: pool exhausted: %w", fserrors.ErrResourceExhausted)
	}
	idx := p.free[n-1]
	if !p.sentinelIntact(idx) {
		return nil, 0, fmt.Errorf("ppage: Alloc: page %d written to after being freed: %w", idx, fserrors.ErrFsCorrupt)
	}
	p.free = p.free[:n-1]
	p.live[idx] = true
	pg := p.slot(idx)
	for i := range pg {
		pg[i] = 0
	}
	return pg, idx, nil
}

// Free returns page idx to the pool, stamping its sentinel pattern so a
// later Alloc can detect a use-after-free. It is an error to free a page
// that is not currently allocated (double free), matching the assertion
// in PhysMem::page_free.
func (p *Pool) Free(idx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= p.npage {
		return fmt.Errorf("ppage: Free: index %d out of range: %w", idx, fserrors.ErrInvalidArgument)
	}
	if !p.live[idx] {
		return fmt.Errorf("ppage: Free: page %d already free: %w", idx, fserrors.ErrFsCorrupt)
	}
	p.live[idx] = false
	p.sentinelize(idx)
	p.free = append(p.free, idx)
	return nil
}

// At returns the page currently at index idx without checking liveness;
// callers (encmap) that already track which indices they own use this
// for direct access.
func (p *Pool) At(idx int) Page {
	return p.slot(idx)
}

// Close releases the pool's backing mapping. It is an error to call this
// while any page is still allocated.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) != p.npage {
		return fmt.Errorf("ppage: Close: %d pages still allocated: %w", p.npage-len(p.free), fserrors.ErrFsCorrupt)
	}
	if err := unix.Munmap(p.mem); err != nil {
		return fmt.Errorf("ppage: munmap: %w: %w", err, fserrors.ErrIO)
	}
	return nil
}
