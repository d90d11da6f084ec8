// Package bcache implements the sector buffer cache shared by every reader
// and writer of a mounted V6 image: a fixed-capacity, LRU-ordered cache of
// decoded sectors with refcounts and log-aware eviction (spec §4.7).
package bcache

import (
	"fmt"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/disk"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/util"
)

// CommittedFunc reports the highest log sequence number known durable.
// Cache takes this as a dependency instead of importing the wal package
// directly, which keeps bcache independent of the log.
type CommittedFunc func() uint64

// FlushFunc forces the log to disk and advances what CommittedFunc
// reports; Cache calls it once, as a last resort, when eviction otherwise
// finds no victim (spec §4.7: "force a log flush and retry once").
type FlushFunc func() error

type entry struct {
	blockno   common.Bnum
	data      []byte
	refcount  int
	dirty     bool
	logged    bool
	lsn       uint64
	prev      *entry
	next      *entry
}

// Cache is the bounded sector cache.
type Cache struct {
	d         disk.Disk
	cap       int
	slots     map[common.Bnum]*entry
	head      *entry // MRU
	tail      *entry // LRU
	committed CommittedFunc
	flush     FlushFunc
}

// New creates a Cache of the given capacity (in sectors) over d.
func New(d disk.Disk, capacity int, committed CommittedFunc, flush FlushFunc) *Cache {
	return &Cache{
		d:         d,
		cap:       capacity,
		slots:     make(map[common.Bnum]*entry),
		committed: committed,
		flush:     flush,
	}
}

func (c *Cache) unlink(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *Cache) pushFront(e *entry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) touch(e *entry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushFront(e)
}

// Handle is a reference-counted view of one cached sector. Callers must
// call Release when done.
type Handle struct {
	c *Cache
	e *entry
}

// Bytes returns the sector's live contents. Mutations are visible to other
// holders of the same Handle's block (the cache has one copy per sector,
// not per handle).
func (h *Handle) Bytes() []byte { return h.e.data }

// Blockno returns the sector number this handle refers to.
func (h *Handle) Blockno() common.Bnum { return h.e.blockno }

// MarkDirty flags the slot as dirty. Callers that mutate through a
// transaction should use MarkLogged instead so eviction respects the WAL
// write-ahead contract.
func (h *Handle) MarkDirty() { h.e.dirty = true }

// MarkLogged records that this slot's pending modification depends on log
// record lsn not yet known committed; the cache will refuse to evict (or
// write back) the slot until CommittedFunc reports lsn as durable.
func (h *Handle) MarkLogged(lsn uint64) {
	h.e.dirty = true
	h.e.logged = true
	h.e.lsn = lsn
}

// Release drops this handle's reference.
func (h *Handle) Release() {
	h.e.refcount--
}

// evictable reports whether e may be chosen as an eviction victim: it must
// be unreferenced, and either clean, dirty-but-unlogged, or dirty-logged
// with its lsn already committed (spec §4.7).
func (c *Cache) evictable(e *entry) bool {
	if e.refcount != 0 {
		return false
	}
	if !e.dirty {
		return true
	}
	if !e.logged {
		return true
	}
	return e.lsn <= c.committed()
}

// writeBack flushes e to disk if dirty and clears dirty/logged.
func (c *Cache) writeBack(e *entry) error {
	if !e.dirty {
		return nil
	}
	if err := c.d.Write(e.blockno, e.data); err != nil {
		return err
	}
	e.dirty = false
	e.logged = false
	util.DPrintf(20, "bcache: wrote back %d\n", e.blockno)
	return nil
}

// evictOne removes the LRU-most evictable entry to make room, writing it
// back first. It tries a log flush once if nothing is evictable.
func (c *Cache) evictOne() error {
	for attempt := 0; attempt < 2; attempt++ {
		for e := c.tail; e != nil; e = e.prev {
			if c.evictable(e) {
				if err := c.writeBack(e); err != nil {
					return err
				}
				c.unlink(e)
				delete(c.slots, e.blockno)
				return nil
			}
		}
		if attempt == 0 && c.flush != nil {
			if err := c.flush(); err != nil {
				return err
			}
			continue
		}
	}
	return fmt.Errorf("bcache: no evictable slot available: %w", fserrors.ErrResourceExhausted)
}

// Get returns a handle to blockno, loading it from disk on first access.
// The returned handle's refcount must be released by the caller.
func (c *Cache) Get(blockno common.Bnum) (*Handle, error) {
	if e, ok := c.slots[blockno]; ok {
		c.touch(e)
		e.refcount++
		return &Handle{c: c, e: e}, nil
	}
	if len(c.slots) >= c.cap {
		if err := c.evictOne(); err != nil {
			return nil, err
		}
	}
	data, err := c.d.Read(blockno)
	if err != nil {
		return nil, err
	}
	e := &entry{blockno: blockno, data: data, refcount: 1}
	c.pushFront(e)
	c.slots[blockno] = e
	return &Handle{c: c, e: e}, nil
}

// Invalidate discards every slot without writing it back, used by fsck
// before applying repairs and by unmount after a final sync.
func (c *Cache) Invalidate() {
	c.slots = make(map[common.Bnum]*entry)
	c.head, c.tail = nil, nil
}

// Sync writes back every dirty slot that is unlogged or whose log record
// is committed, pinned or not, without discarding residency.
func (c *Cache) Sync() error {
	for e := c.head; e != nil; e = e.next {
		if e.dirty && (!e.logged || e.lsn <= c.committed()) {
			if err := c.writeBack(e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len reports the number of slots currently occupied.
func (c *Cache) Len() int { return len(c.slots) }
