package encmap

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c8ef/CS111/cryptfile"
	"github.com/c8ef/CS111/ppage"
	"github.com/c8ef/CS111/xex"
)

// resetPool forces a fresh pool/LRU for each test, since the pool and LRU
// are process-wide singletons; tests must not see state left behind by an
// earlier test.
func resetPool(t *testing.T, npages int) {
	t.Helper()
	global.mu.Lock()
	global.pool = nil
	global.lru = nil
	global.instances = 0
	global.poolSize = npages
	global.mu.Unlock()
}

func TestMappedReadMatchesUnderlyingCryptFile(t *testing.T) {
	resetPool(t, 10)
	path := filepath.Join(t.TempDir(), "img")
	key := xex.DeriveKey([]byte("k"))

	pageSize := ppage.PageSize()
	plain := bytes.Repeat([]byte("Z"), pageSize*3)

	cf, err := cryptfile.Open(path, key)
	require.NoError(t, err)
	_, err = cf.AlignedPwrite(plain, 0)
	require.NoError(t, err)
	require.NoError(t, cf.Close())

	f, err := Open(path, key)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Map(0)
	require.NoError(t, err)

	out := make([]byte, len(plain))
	n, err := f.ReadAt(out, 0)
	require.NoError(t, err)
	assert.Equal(t, len(plain), n)
	assert.Equal(t, plain, out)
}

func TestMappedWriteAndFlushPersists(t *testing.T) {
	resetPool(t, 10)
	path := filepath.Join(t.TempDir(), "img")
	key := xex.DeriveKey([]byte("k"))

	f, err := Open(path, key)
	require.NoError(t, err)
	pageSize := uint64(ppage.PageSize())
	_, err = f.Map(pageSize * 2)
	require.NoError(t, err)

	data := bytes.Repeat([]byte("W"), int(pageSize))
	_, err = f.WriteAt(data, 0)
	require.NoError(t, err)
	require.NoError(t, f.Flush())
	require.NoError(t, f.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, len(raw) >= int(pageSize))
}

func TestInPlaceModificationVisibleOnRereadWithoutEviction(t *testing.T) {
	resetPool(t, 10)
	path := filepath.Join(t.TempDir(), "img")
	key := xex.DeriveKey([]byte("k"))

	f, err := Open(path, key)
	require.NoError(t, err)
	defer f.Close()
	pageSize := uint64(ppage.PageSize())
	_, err = f.Map(pageSize)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("hello"), 10)
	require.NoError(t, err)

	out := make([]byte, 5)
	_, err = f.ReadAt(out, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), out)
}

func TestLRUEvictionVisitsEveryPageCorrectly(t *testing.T) {
	resetPool(t, 5)
	path := filepath.Join(t.TempDir(), "img")
	key := xex.DeriveKey([]byte("k"))

	pageSize := uint64(ppage.PageSize())
	plain := make([]byte, pageSize*15)
	for i := range plain {
		plain[i] = byte(i / int(pageSize))
	}

	cf, err := cryptfile.Open(path, key)
	require.NoError(t, err)
	_, err = cf.AlignedPwrite(plain, 0)
	require.NoError(t, err)
	require.NoError(t, cf.Close())

	f, err := Open(path, key)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.Map(0)
	require.NoError(t, err)

	for vp := uint64(0); vp < 15; vp++ {
		out := make([]byte, 1)
		_, err := f.ReadAt(out, vp*pageSize)
		require.NoError(t, err)
		assert.Equal(t, byte(vp), out[0], "page %d", vp)
	}
	assert.Equal(t, uint64(15*pageSize), f.cf.PreadBytes)
	assert.Equal(t, uint64(0), f.cf.PwriteBytes)
}

func TestWriteBackOnEvictionAcrossMultipleFiles(t *testing.T) {
	resetPool(t, 5)
	dir := t.TempDir()
	key := xex.DeriveKey([]byte("k"))
	pageSize := uint64(ppage.PageSize())

	paths := []string{
		filepath.Join(dir, "a"),
		filepath.Join(dir, "b"),
		filepath.Join(dir, "c"),
	}
	files := make([]*File, 3)
	for i, p := range paths {
		f, err := Open(p, key)
		require.NoError(t, err)
		_, err = f.Map(pageSize * 10)
		require.NoError(t, err)
		files[i] = f
		defer f.Close()
	}

	marker := []byte("MARK")
	for _, f := range files {
		_, err := f.WriteAt(marker, 0)
		require.NoError(t, err)
	}

	out := make([]byte, 1)
	for vp := uint64(0); vp < 9; vp++ {
		_, err := files[0].ReadAt(out, vp*pageSize)
		require.NoError(t, err)
	}

	for i, p := range paths {
		cf, err := cryptfile.Open(p, key)
		require.NoError(t, err)
		buf := make([]byte, 16)
		n, err := cf.AlignedPread(buf, 16, 0)
		require.NoError(t, err)
		require.NoError(t, cf.Close())
		assert.GreaterOrEqual(t, n, 4)
		assert.Equal(t, marker, buf[:4], "file %d", i)
	}
}
