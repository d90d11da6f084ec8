package replay

import (
	"path/filepath"
	"testing"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/jfs"
	"github.com/c8ef/CS111/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCreate(t *testing.T) *jfs.FS {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	fs, err := jfs.Create(path, 2048, 256, 256)
	require.NoError(t, err)
	t.Cleanup(func() { fs.Unmount() })
	return fs
}

// TestApplyRedoesCommittedTransaction appends a Begin/Patch/Commit triple
// straight to the log (bypassing txn so the patch never reaches disk any
// other way) and checks that Apply redoes it, the way it would for a
// transaction whose commit record survived a crash but whose dirty cache
// pages did not.
func TestApplyRedoesCommittedTransaction(t *testing.T) {
	fs := mustCreate(t)

	want := []byte("redo me")
	beginSeq, err := fs.Log.Append(wal.Begin{})
	require.NoError(t, err)
	_, err = fs.Log.Append(wal.Patch{
		Blockno:       uint16(fs.DataStart),
		OffsetInBlock: 0,
		Bytes:         want,
	})
	require.NoError(t, err)
	_, err = fs.Log.Append(wal.Commit{Sequence: beginSeq})
	require.NoError(t, err)
	require.NoError(t, fs.Log.Flush())

	sec, err := fs.Disk.Read(fs.DataStart)
	require.NoError(t, err)
	assert.NotEqual(t, want, sec[:len(want)], "patch must not be visible before replay")

	require.NoError(t, Apply(fs))

	sec, err = fs.Disk.Read(fs.DataStart)
	require.NoError(t, err)
	assert.Equal(t, want, sec[:len(want)])
}

// TestApplyDiscardsTornTransaction checks that a Begin with no matching
// Commit leaves the image untouched, per spec §4.11's "an open Begin with
// no Commit is torn and discarded".
func TestApplyDiscardsTornTransaction(t *testing.T) {
	fs := mustCreate(t)

	before, err := fs.Disk.Read(fs.DataStart)
	require.NoError(t, err)
	beforeCopy := append([]byte(nil), before...)

	_, err = fs.Log.Append(wal.Begin{})
	require.NoError(t, err)
	_, err = fs.Log.Append(wal.Patch{
		Blockno:       uint16(fs.DataStart),
		OffsetInBlock: 0,
		Bytes:         []byte("never applied"),
	})
	require.NoError(t, err)
	require.NoError(t, fs.Log.Flush())

	require.NoError(t, Apply(fs))

	after, err := fs.Disk.Read(fs.DataStart)
	require.NoError(t, err)
	assert.Equal(t, beforeCopy, after)
}

func TestApplyOnCleanLogIsNoop(t *testing.T) {
	fs := mustCreate(t)
	require.NoError(t, Apply(fs))
	start, seq := fs.Log.Checkpoint()
	assert.Equal(t, common.Bnum(0), start)
	assert.Equal(t, uint32(1), seq) // a fresh log numbers from 1
}
