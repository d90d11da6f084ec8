// Package encmap implements ENCMAP: a demand-paged, transparently
// encrypted, memory-mapped file, grounded on
// original_source/P5/mcryptfile.{hh,cc} and vm.{hh,cc}. It composes
// cryptfile.CryptFile (ciphertext I/O + cipher), ppage.Pool (the global
// physical page pool), and vmregion.Region (the per-file virtual address
// range) the same way MCryptFile composes CryptFile, PhysMem, and VMRegion.
//
// The physical page pool and the cross-file LRU list are process-wide
// singletons, matching MCryptFile's static phy_mem_/page_num_/vm_instance_:
// the first File.Map call lazily creates the pool (sized by
// SetMemorySize, or a default), and the last File's teardown destroys it.
package encmap

import (
	"fmt"
	"sync"

	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/ppage"
)

const defaultPoolPages = 1000

var global struct {
	mu        sync.Mutex
	pool      *ppage.Pool
	instances int
	lru       *lruList
	poolSize  int
}

func init() {
	global.poolSize = defaultPoolPages
}

// SetMemorySize specifies the size, in pages, of the physical page pool
// shared by all encmap.Files. It has effect only before the first File is
// mapped, matching MCryptFile::set_memory_size.
func SetMemorySize(npages int) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.pool == nil {
		global.poolSize = npages
	}
}

// acquirePool returns the shared pool, creating it on the first call.
func acquirePool() (*ppage.Pool, error) {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.pool == nil {
		pool, err := ppage.New(global.poolSize)
		if err != nil {
			return nil, err
		}
		global.pool = pool
		global.lru = newLRUList()
	}
	global.instances++
	return global.pool, nil
}

// releasePool drops this File's reference to the shared pool, destroying
// it once the last File has released it.
func releasePool() error {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.instances--
	if global.instances == 0 {
		err := global.pool.Close()
		global.pool = nil
		global.lru = nil
		return err
	}
	return nil
}

// lruOwner identifies the (File, virtual page) pair a pool page is
// currently lent to, the same key vm.hh's comment about breaking cyclic
// ownership prescribes (spec §9): the LRU list owns neither the File nor
// the page directly, just this pair.
type lruOwner struct {
	file *File
	vp   uint64
}

type lruNode struct {
	owner    lruOwner
	ppageIdx int
	prev     *lruNode
	next     *lruNode
}

// lruList is a process-wide doubly linked list of allocated physical
// pages, most-recently-touched at the head, used to pick an eviction
// victim in O(1) and to support O(1) removal/re-insertion on touch.
type lruList struct {
	head, tail *lruNode
	nodes      map[lruOwner]*lruNode
}

func newLRUList() *lruList {
	return &lruList{nodes: make(map[lruOwner]*lruNode)}
}

func (l *lruList) pushFront(owner lruOwner, ppageIdx int) *lruNode {
	n := &lruNode{owner: owner, ppageIdx: ppageIdx}
	l.linkFront(n)
	l.nodes[owner] = n
	return n
}

func (l *lruList) linkFront(n *lruNode) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}

func (l *lruList) unlink(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

// touch moves an existing entry to the front (most-recently-used).
func (l *lruList) touch(owner lruOwner) {
	n, ok := l.nodes[owner]
	if !ok {
		return
	}
	l.unlink(n)
	l.linkFront(n)
}

func (l *lruList) remove(owner lruOwner) {
	n, ok := l.nodes[owner]
	if !ok {
		return
	}
	l.unlink(n)
	delete(l.nodes, owner)
}

// victim returns the least-recently-used entry (the tail), or false if the
// list is empty.
func (l *lruList) victim() (lruOwner, int, bool) {
	if l.tail == nil {
		return lruOwner{}, 0, false
	}
	return l.tail.owner, l.tail.ppageIdx, true
}

func (l *lruList) len() int {
	n := 0
	for c := l.head; c != nil; c = c.next {
		n++
	}
	return n
}

var errPoolEmpty = fmt.Errorf("encmap: pool exhausted and nothing to evict: %w", fserrors.ErrResourceExhausted)
