package icache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/v6"
)

func alwaysCommitted() uint64 { return ^uint64(0) }

// fakeStore is a trivial backing store standing in for jfs.FS's inode
// loader/storer, which round-trip through the buffer cache; here it's a
// plain map so icache's own eviction/dirty logic can be tested in
// isolation.
type fakeStore struct {
	backing map[common.Inum]v6.Inode
	stores  int
}

func newFakeStore() *fakeStore { return &fakeStore{backing: make(map[common.Inum]v6.Inode)} }

func (f *fakeStore) load(ino common.Inum) (*v6.Inode, error) {
	v := f.backing[ino]
	return &v, nil
}

func (f *fakeStore) store(ino common.Inum, in *v6.Inode, lsn uint64, logged bool) error {
	f.stores++
	f.backing[ino] = *in
	return nil
}

func TestGetLoadsAndCaches(t *testing.T) {
	fs := newFakeStore()
	fs.backing[1] = v6.Inode{Nlink: 7}
	c := New(4, fs.load, fs.store, alwaysCommitted)

	h, err := c.Get(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(7), h.Inode().Nlink)
	h.Release()
	assert.Equal(t, 1, c.Len())
}

func TestDirtyWriteBackOnEviction(t *testing.T) {
	fs := newFakeStore()
	c := New(2, fs.load, fs.store, alwaysCommitted)

	h0, err := c.Get(1)
	require.NoError(t, err)
	h0.Inode().Nlink = 3
	h0.MarkDirty()
	h0.Release()

	h1, err := c.Get(2)
	require.NoError(t, err)
	h1.Release()

	// A third distinct inode forces eviction of the LRU entry (1).
	h2, err := c.Get(3)
	require.NoError(t, err)
	h2.Release()

	assert.Equal(t, uint8(3), fs.backing[1].Nlink)
	assert.Equal(t, 1, fs.stores)
}

func TestReferencedEntryIsNeverEvicted(t *testing.T) {
	fs := newFakeStore()
	c := New(1, fs.load, fs.store, alwaysCommitted)

	h0, err := c.Get(1)
	require.NoError(t, err)

	_, err = c.Get(2)
	assert.Error(t, err)
	h0.Release()
}

func TestLoggedEntryBlocksEvictionUntilCommitted(t *testing.T) {
	fs := newFakeStore()
	committedLSN := uint64(0)
	c := New(1, fs.load, fs.store, func() uint64 { return committedLSN })

	h0, err := c.Get(1)
	require.NoError(t, err)
	h0.MarkLogged(5)
	h0.Release()

	_, err = c.Get(2)
	assert.Error(t, err, "logged-but-not-yet-committed slot must not be evicted")

	committedLSN = 5
	h1, err := c.Get(2)
	require.NoError(t, err)
	h1.Release()
}

func TestInvalidateDropsWithoutWriteBack(t *testing.T) {
	fs := newFakeStore()
	c := New(4, fs.load, fs.store, alwaysCommitted)

	h, err := c.Get(1)
	require.NoError(t, err)
	h.Inode().Nlink = 9
	h.MarkDirty()
	h.Release()

	c.Invalidate()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, fs.stores)
}
