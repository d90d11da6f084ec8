// Package vmregion mediates access to a virtual address range backed by
// pages from a ppage.Pool, grounded on original_source/P5/vm.{hh,cc}'s
// VMRegion. The original traps missing or read-only pages with a real
// SIGSEGV handler and a raw pointer dereference; Go cannot catch a
// segmentation fault in a recoverable, per-page way without cgo and
// unsafe signal-context surgery (see SPEC_FULL.md §9 / DESIGN.md for the
// tradeoff). Region.Access is the explicit fault mediator per §4.5
// in its place: instead of touching memory and trapping the fault, callers
// go through Access, which performs exactly the same not-present/
// read-only-upgrade fault protocol the original's fault_handler does,
// then hands back a byte slice.
package vmregion

import (
	"fmt"

	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/ppage"
)

// Prot mirrors the protection bits of a mapping.
type Prot int

const (
	ProtNone Prot = iota
	ProtRead
	ProtReadWrite
)

// FaultKind distinguishes why Access could not immediately satisfy a
// request, matching the two cases original_source/P5/mcryptfile.cc's
// fault() handles: the page has never been faulted in (NotPresent), or it
// is mapped read-only and a write was requested (ReadOnlyWrite).
type FaultKind int

const (
	NotPresent FaultKind = iota
	ReadOnlyWrite
)

// Handler is invoked by Access when virtual page vpage is not mapped with
// sufficient protection for the requested access. It must call Map (or
// Remap) for vpage before returning, or Access returns ErrFsCorrupt.
type Handler func(vpage uint64, kind FaultKind) error

type mapping struct {
	page ppage.Page
	prot Prot
}

// Region represents nbytes of virtual address space divided into
// ppage-sized pages. Until Map is called for a given page, it has no
// backing and Access calls the fault handler.
type Region struct {
	pageSize uint64
	nbytes   uint64
	mappings map[uint64]*mapping
	handler  Handler
}

// New creates a region of nbytes bytes (rounded up to a page multiple)
// whose faults are dispatched to handler.
func New(nbytes uint64, pageSize uint64, handler Handler) *Region {
	return &Region{
		pageSize: pageSize,
		nbytes:   roundUp(nbytes, pageSize),
		mappings: make(map[uint64]*mapping),
		handler:  handler,
	}
}

func roundUp(n, multiple uint64) uint64 {
	if multiple == 0 {
		return n
	}
	return (n + multiple - 1) / multiple * multiple
}

// Size returns the region's size in bytes.
func (r *Region) Size() uint64 { return r.nbytes }

// PageSize returns the region's page granularity.
func (r *Region) PageSize() uint64 { return r.pageSize }

func (r *Region) vpageOf(offset uint64) uint64 { return offset / r.pageSize }

// Map installs page as the backing for the virtual page containing offset,
// replacing any prior mapping for that page (discarding it, as
// VMRegion::update does for a changed pa).
func (r *Region) Map(offset uint64, page ppage.Page, prot Prot) error {
	if offset >= r.nbytes {
		return fmt.Errorf("vmregion: Map: offset %d out of range: %w", offset, fserrors.ErrInvalidArgument)
	}
	vp := r.vpageOf(offset)
	r.mappings[vp] = &mapping{page: page, prot: prot}
	return nil
}

// Remap updates the protection bits of an already-mapped page without
// changing its backing page (the read-only -> read-write upgrade path).
func (r *Region) Remap(offset uint64, prot Prot) error {
	vp := r.vpageOf(offset)
	m, ok := r.mappings[vp]
	if !ok {
		return fmt.Errorf("vmregion: Remap: page %d not mapped: %w", vp, fserrors.ErrFsCorrupt)
	}
	m.prot = prot
	return nil
}

// Unmap removes the mapping for the virtual page containing offset, if
// any. It does not free the underlying ppage.Page; callers remain
// responsible for that (matching VMRegion::unmap, which only clears the
// PTE and lets the caller call PhysMem::page_free).
func (r *Region) Unmap(offset uint64) {
	delete(r.mappings, r.vpageOf(offset))
}

// Mapped reports whether the virtual page containing offset currently has
// a backing page, and with what protection.
func (r *Region) Mapped(offset uint64) (Prot, bool) {
	m, ok := r.mappings[r.vpageOf(offset)]
	if !ok {
		return ProtNone, false
	}
	return m.prot, true
}

// Access is the fault mediator: it ensures the page containing offset is
// mapped with sufficient protection for forWrite, invoking the region's
// Handler if not, and returns a byte slice of length pageSize backing that
// page, positioned so that slice[0] corresponds to the start of the page
// (not to offset itself — callers compute offset%pageSize to index in).
func (r *Region) Access(offset uint64, forWrite bool) ([]byte, error) {
	if offset >= r.nbytes {
		return nil, fmt.Errorf("vmregion: Access: offset %d out of range: %w", offset, fserrors.ErrInvalidArgument)
	}
	vp := r.vpageOf(offset)
	m, ok := r.mappings[vp]
	if !ok {
		if err := r.handler(vp, NotPresent); err != nil {
			return nil, err
		}
		m, ok = r.mappings[vp]
		if !ok {
			return nil, fmt.Errorf("vmregion: Access: handler did not map page %d: %w", vp, fserrors.ErrFsCorrupt)
		}
	}
	if forWrite && m.prot != ProtReadWrite {
		if err := r.handler(vp, ReadOnlyWrite); err != nil {
			return nil, err
		}
		m, ok = r.mappings[vp]
		if !ok || m.prot != ProtReadWrite {
			return nil, fmt.Errorf("vmregion: Access: handler did not upgrade page %d: %w", vp, fserrors.ErrFsCorrupt)
		}
	}
	return m.page, nil
}
