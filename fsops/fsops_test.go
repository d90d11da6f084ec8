package fsops

import (
	"path/filepath"
	"testing"

	"github.com/c8ef/CS111/jfs"
	"github.com/c8ef/CS111/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCreate(t *testing.T, logBlocks uint64) *jfs.FS {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	fs, err := jfs.Create(path, 2048, 256, logBlocks)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Unmount() })
	return fs
}

func TestMkdirRmdir(t *testing.T) {
	fs := mustCreate(t, 256)

	require.NoError(t, Mkdir(fs, "/a", 0o755))

	ih, err := Resolve(fs, "/a")
	require.NoError(t, err)
	assert.True(t, ih.Inode().IsDir())
	assert.Equal(t, uint8(2), ih.Inode().Nlink)
	ih.Release()

	root, err := Resolve(fs, "/")
	require.NoError(t, err)
	assert.Equal(t, uint8(3), root.Inode().Nlink, "mkdir bumps the parent's nlink")
	root.Release()

	require.Error(t, Mkdir(fs, "/a", 0o755), "mkdir on an existing name must fail")

	require.NoError(t, Rmdir(fs, "/a"))
	_, err = Resolve(fs, "/a")
	assert.Error(t, err)
}

func TestRmdirRefusesNonEmpty(t *testing.T) {
	fs := mustCreate(t, 256)
	require.NoError(t, Mkdir(fs, "/a", 0o755))
	require.NoError(t, Mkdir(fs, "/a/b", 0o755))
	assert.Error(t, Rmdir(fs, "/a"))
	require.NoError(t, Rmdir(fs, "/a/b"))
	require.NoError(t, Rmdir(fs, "/a"))
}

func TestMknodWriteReadUnlink(t *testing.T) {
	fs := mustCreate(t, 256)

	ih, err := Mknod(fs, "/f", v6.IFREG|0o644)
	require.NoError(t, err)
	payload := []byte("hello journaling filesystem")
	h, err := fs.Begin()
	require.NoError(t, err)
	require.NoError(t, fs.WriteFileAt(h, ih.Inode(), ih, 0, payload))
	require.NoError(t, fs.Commit(h))
	ih.Release()

	ih2, err := Resolve(fs, "/f")
	require.NoError(t, err)
	got, err := fs.ReadFileAt(ih2.Inode(), 0, len(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	ih2.Release()

	require.NoError(t, Unlink(fs, "/f"))
	_, err = Resolve(fs, "/f")
	assert.Error(t, err)
}

func TestLinkSharesInode(t *testing.T) {
	fs := mustCreate(t, 256)
	ih, err := Mknod(fs, "/f", v6.IFREG|0o644)
	require.NoError(t, err)
	ih.Release()

	require.NoError(t, Link(fs, "/f", "/g"))

	a, err := Resolve(fs, "/f")
	require.NoError(t, err)
	b, err := Resolve(fs, "/g")
	require.NoError(t, err)
	assert.Equal(t, a.Inum(), b.Inum())
	assert.Equal(t, uint8(2), a.Inode().Nlink)
	a.Release()
	b.Release()

	require.NoError(t, Unlink(fs, "/f"))
	b2, err := Resolve(fs, "/g")
	require.NoError(t, err)
	assert.Equal(t, uint8(1), b2.Inode().Nlink)
	b2.Release()
}

func TestLinkRefusesDirectories(t *testing.T) {
	fs := mustCreate(t, 256)
	require.NoError(t, Mkdir(fs, "/a", 0o755))
	assert.Error(t, Link(fs, "/a", "/b"))
}

func TestNonJournalingImage(t *testing.T) {
	fs := mustCreate(t, 0)
	require.NoError(t, Mkdir(fs, "/a", 0o755))
	ih, err := Mknod(fs, "/a/f", v6.IFREG|0o644)
	require.NoError(t, err)
	ih.Release()
	require.NoError(t, Unlink(fs, "/a/f"))
	require.NoError(t, Rmdir(fs, "/a"))
}
