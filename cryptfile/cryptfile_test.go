package cryptfile

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c8ef/CS111/xex"
)

func readFileRaw(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func TestAlignedWriteThenReadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")
	key := xex.DeriveKey([]byte("test-key"))
	cf, err := Open(path, key)
	require.NoError(t, err)
	defer cf.Close()

	data := bytes.Repeat([]byte("payload-content!"), 64) // 1024 bytes
	n, err := cf.AlignedPwrite(data, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)

	size, err := cf.FileSize()
	require.NoError(t, err)
	assert.Equal(t, uint64(len(data)), size)

	out := make([]byte, len(data)+16)
	n, err = cf.AlignedPread(out, uint64(len(out)), 0)
	require.NoError(t, err)
	assert.Equal(t, data, out[:n])
}

func TestAlignedPwriteRejectsMisalignment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")
	key := xex.DeriveKey([]byte("test-key"))
	cf, err := Open(path, key)
	require.NoError(t, err)
	defer cf.Close()

	_, err = cf.AlignedPwrite(make([]byte, 15), 0)
	assert.Error(t, err)
	_, err = cf.AlignedPwrite(make([]byte, 16), 1)
	assert.Error(t, err)
}

func TestOnDiskBytesAreCiphertext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")
	key := xex.DeriveKey([]byte("test-key"))
	cf, err := Open(path, key)
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("A"), 16)
	_, err = cf.AlignedPwrite(plain, 0)
	require.NoError(t, err)
	require.NoError(t, cf.Close())

	raw, err := readFileRaw(path)
	require.NoError(t, err)
	assert.NotEqual(t, plain, raw[:16])
}
