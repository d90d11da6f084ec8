package txn_test

import (
	"testing"

	"github.com/c8ef/CS111/addr"
	"github.com/c8ef/CS111/alloc"
	"github.com/c8ef/CS111/bcache"
	"github.com/c8ef/CS111/buf"
	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/disk"
	"github.com/c8ef/CS111/icache"
	"github.com/c8ef/CS111/txn"
	"github.com/c8ef/CS111/v6"
	"github.com/c8ef/CS111/wal"
	"github.com/stretchr/testify/require"
)

func mkSystem(t *testing.T) (*txn.System, disk.Disk, common.Bnum) {
	t.Helper()
	const dataBase common.Bnum = 20
	d := disk.NewMemDisk(200)
	log, err := wal.Create(d, 10, 8, 2)
	require.NoError(t, err)
	bm := alloc.NewBitmap(50)

	var bc *bcache.Cache
	bc = bcache.New(d, 16, func() uint64 { return log.Committed() }, func() error { return log.Flush() })
	ic := icache.New(4,
		func(ino common.Inum) (*v6.Inode, error) { return &v6.Inode{}, nil },
		func(ino common.Inum, in *v6.Inode, lsn uint64, logged bool) error { return nil },
		func() uint64 { return log.Committed() },
	)
	sys := txn.NewSystem(bc, ic, log, bm)
	return sys, d, dataBase
}

func TestCommitPersistsPatch(t *testing.T) {
	sys, d, base := mkSystem(t)

	h, err := sys.Begin()
	require.NoError(t, err)
	bn, err := h.AllocBlock(base, 0, false)
	require.NoError(t, err)
	b := buf.MkBuf(addr.MkAddr(bn, 0, 64), []byte("hello!!!"))
	require.NoError(t, h.Patch(b))
	require.NoError(t, h.Commit())
	// Commit makes the patch durable in the log; the home sector is
	// written back at the next checkpoint.
	require.NoError(t, sys.Checkpoint())

	sec, err := d.Read(bn)
	require.NoError(t, err)
	require.Equal(t, "hello!!!", string(sec[0:8]))
}

func TestAbortDiscardsFrees(t *testing.T) {
	sys, _, base := mkSystem(t)

	h, err := sys.Begin()
	require.NoError(t, err)
	bn, err := h.AllocBlock(base, 0, false)
	require.NoError(t, err)
	require.NoError(t, h.FreeBlock(base, bn))
	h.Abort()

	require.True(t, sys.Bitmap.IsUsed(uint64(bn-base)), "aborted free must not apply")
}

func TestNestedBeginIsNoop(t *testing.T) {
	sys, _, _ := mkSystem(t)
	outer, err := sys.Begin()
	require.NoError(t, err)
	inner, err := sys.Begin()
	require.NoError(t, err)
	require.NoError(t, inner.Commit())
	require.NoError(t, outer.Commit())
}

func TestCheckpointRoundTrips(t *testing.T) {
	sys, _, base := mkSystem(t)
	h, err := sys.Begin()
	require.NoError(t, err)
	_, err = h.AllocBlock(base, 0, false)
	require.NoError(t, err)
	require.NoError(t, h.Commit())
	require.NoError(t, sys.Checkpoint())

	ckpt, _ := sys.Log.Checkpoint()
	require.Equal(t, sys.Log.Tail(), ckpt)
}
