// Package icache implements the in-memory inode cache (spec §4.7), shaped
// like bcache but keyed by inode number and holding decoded v6.Inode
// values instead of raw sectors. Unlike bcache it takes no flush callback:
// when no slot is evictable it returns ErrResourceExhausted without
// forcing the log or retrying. Grounded on the same
// buffer-cache idiom as bcache (mit-pdos-go-journal/buf, buftxn), adapted
// to V6's 16 inodes-per-sector packing (common.InodesPerBlock).
package icache

import (
	"fmt"

	"github.com/c8ef/CS111/bcache"
	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/v6"
)

// Loader reads inode number ino's backing sector via the buffer cache and
// decodes it; Storer re-encodes an inode back into its backing sector
// through the buffer cache (marking the sector dirty/logged as
// appropriate). Cache depends on these instead of bcache.Cache directly so
// a caller can interpose WAL-aware patch logging between the two caches.
type Loader func(ino common.Inum) (*v6.Inode, error)
type Storer func(ino common.Inum, in *v6.Inode, lsn uint64, logged bool) error

type entry struct {
	ino      common.Inum
	inode    *v6.Inode
	refcount int
	dirty    bool
	logged   bool
	lsn      uint64
	prev     *entry
	next     *entry
}

// Cache is the bounded inode cache.
type Cache struct {
	cap       int
	load      Loader
	store     Storer
	committed bcache.CommittedFunc
	slots     map[common.Inum]*entry
	head      *entry
	tail      *entry
}

// New creates an inode cache of the given capacity.
func New(capacity int, load Loader, store Storer, committed bcache.CommittedFunc) *Cache {
	return &Cache{
		cap:       capacity,
		load:      load,
		store:     store,
		committed: committed,
		slots:     make(map[common.Inum]*entry),
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

// Handle is a reference-counted view of one cached inode.
type Handle struct {
	c *Cache
	e *entry
}

// Inode returns the cached decoded inode. Mutate in place, then call
// MarkDirty or MarkLogged.
func (h *Handle) Inode() *v6.Inode { return h.e.inode }

// Inum returns the inode number this handle refers to.
func (h *Handle) Inum() common.Inum { return h.e.ino }

func (h *Handle) MarkDirty() { h.e.dirty = true }

func (h *Handle) MarkLogged(lsn uint64) {
	h.e.dirty = true
	h.e.logged = true
	h.e.lsn = lsn
}

// Release drops this handle's reference.
func (h *Handle) Release() { h.e.refcount-- }

func (c *Cache) evictable(e *entry) bool {
	if e.refcount != 0 {
		return false
	}
	if !e.dirty || !e.logged {
		return true
	}
	return e.lsn <= c.committed()
}

func (c *Cache) writeBack(e *entry) error {
	if !e.dirty {
		return nil
	}
	if err := c.store(e.ino, e.inode, e.lsn, e.logged); err != nil {
		return err
	}
	e.dirty, e.logged = false, false
	return nil
}

func (c *Cache) evictOne() error {
	for e := c.tail; e != nil; e = e.prev {
		if c.evictable(e) {
			if err := c.writeBack(e); err != nil {
				return err
			}
			c.unlink(e)
			delete(c.slots, e.ino)
			return nil
		}
	}
	return fmt.Errorf("icache: no evictable slot available: %w", fserrors.ErrResourceExhausted)
}

// Get returns a handle to inode ino, loading it via Loader on first
// access.
func (c *Cache) Get(ino common.Inum) (*Handle, error) {
	if e, ok := c.slots[ino]; ok {
		c.touch(e)
		e.refcount++
		return &Handle{c: c, e: e}, nil
	}
	if len(c.slots) >= c.cap {
		if err := c.evictOne(); err != nil {
			return nil, err
		}
	}
	in, err := c.load(ino)
	if err != nil {
		return nil, err
	}
	e := &entry{ino: ino, inode: in, refcount: 1}
	c.pushFront(e)
	c.slots[ino] = e
	return &Handle{c: c, e: e}, nil
}

// Invalidate discards every slot without writing it back.
func (c *Cache) Invalidate() {
	c.slots = make(map[common.Inum]*entry)
	c.head, c.tail = nil, nil
}

// Sync writes back every dirty slot that is unlogged or whose log record
// is committed, pinned or not.
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
