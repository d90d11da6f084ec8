package jfs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/v6"
)

func TestCreateAndMountRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	fs, err := Create(path, 512, 64, 64)
	require.NoError(t, err)
	assert.True(t, fs.Journaling)
	assert.False(t, fs.WasDirty)

	root, err := fs.Icache.Get(common.RootInum)
	require.NoError(t, err)
	assert.True(t, root.Inode().IsDir())
	assert.Equal(t, uint8(2), root.Inode().Nlink)
	root.Release()

	require.NoError(t, fs.Unmount())

	fs2, err := Mount(path)
	require.NoError(t, err)
	defer fs2.Unmount()
	assert.True(t, fs2.Journaling)
}

func TestCreateLegacyImageHasNoLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	fs, err := Create(path, 512, 64, 0)
	require.NoError(t, err)
	defer fs.Unmount()
	assert.False(t, fs.Journaling)
	assert.Nil(t, fs.Log)
}

func TestWriteReadTruncateAcrossIndirectBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	fs, err := Create(path, 4096, 512, 512)
	require.NoError(t, err)
	defer fs.Unmount()

	h, err := fs.Begin()
	require.NoError(t, err)
	ih, err := fs.IAlloc(h)
	require.NoError(t, err)
	ino := ih.Inode()
	ino.Mode = v6.IALLOC | v6.ILARG | v6.IFREG | 0o644
	require.NoError(t, fs.DirtyInode(h, ih))

	// 20 blocks, all reached through the single-indirect block at i_addr[0].
	payload := make([]byte, 20*common.SectorSize)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, fs.WriteFileAt(h, ino, ih, 0, payload))
	require.NoError(t, fs.Commit(h))

	got, err := fs.ReadFileAt(ino, 0, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	h2, err := fs.Begin()
	require.NoError(t, err)
	require.NoError(t, fs.Truncate(h2, ino, ih, 0))
	require.NoError(t, fs.Commit(h2))
	assert.Equal(t, uint64(0), ino.Size())

	ih.Release()
}

// TestAbortDiscardsPendingFrees checks that a block freed inside a
// transaction which is then aborted stays allocated, per txn.Handle.Abort
// discarding the bitmap's pending-free list rather than committing it.
func TestAbortDiscardsPendingFrees(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	fs, err := Create(path, 512, 64, 64)
	require.NoError(t, err)
	defer fs.Unmount()

	h, err := fs.Begin()
	require.NoError(t, err)
	bn, err := fs.Balloc(h, 0, false)
	require.NoError(t, err)
	require.NoError(t, fs.Commit(h))

	before := fs.Bitmap.NumFree()

	h2, err := fs.Begin()
	require.NoError(t, err)
	require.NoError(t, fs.Bfree(h2, bn))
	fs.Abort(h2)

	assert.Equal(t, before, fs.Bitmap.NumFree(), "aborted free must not become visible")
}
