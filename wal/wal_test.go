package wal

import (
	"testing"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/disk"
	"github.com/c8ef/CS111/fserrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeqLE(t *testing.T) {
	assert.True(t, SeqLE(1, 2))
	assert.True(t, SeqLE(0xFFFFFFFF, 0))
	assert.False(t, SeqLE(2, 1))
}

func TestFrameRoundTrip(t *testing.T) {
	rec := Patch{Blockno: 7, OffsetInBlock: 3, Bytes: []byte("1234")}
	buf := frame(42, rec)
	got, seq, next, err := (&Log{ring: buf, ringBytes: uint64(len(buf))}).ReadAt(0)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), seq)
	assert.Equal(t, uint64(len(buf)), next)
	p, ok := got.(Patch)
	require.True(t, ok)
	assert.Equal(t, rec.Blockno, p.Blockno)
	assert.Equal(t, rec.Bytes, p.Bytes)
}

func TestFrameCRCMismatch(t *testing.T) {
	rec := Commit{Sequence: 5}
	buf := frame(5, rec)
	buf[headerSize] ^= 0xFF // corrupt the body
	l := &Log{ring: buf, ringBytes: uint64(len(buf))}
	_, _, _, err := l.ReadAt(0)
	assert.ErrorIs(t, err, fserrors.ErrLogCorrupt)
}

func mkTestLog(t *testing.T, ringSectors uint64) *Log {
	t.Helper()
	d := disk.NewMemDisk(100)
	l, err := Create(d, 10, 4+ringSectors+1, 4)
	require.NoError(t, err)
	return l
}

func TestAppendReadBack(t *testing.T) {
	l := mkTestLog(t, 4)
	seq, err := l.Append(Begin{})
	require.NoError(t, err)
	_, err = l.Append(Patch{Blockno: 1, OffsetInBlock: 0, Bytes: []byte("hi")})
	require.NoError(t, err)
	_, err = l.Append(Commit{Sequence: seq})
	require.NoError(t, err)

	rec, gotSeq, next, err := l.ReadAt(0)
	require.NoError(t, err)
	assert.Equal(t, Begin{}, rec)
	assert.Equal(t, seq, gotSeq)

	rec, _, next, err = l.ReadAt(next)
	require.NoError(t, err)
	p := rec.(Patch)
	assert.Equal(t, []byte("hi"), p.Bytes)

	rec, _, _, err = l.ReadAt(next)
	require.NoError(t, err)
	c := rec.(Commit)
	assert.Equal(t, seq, c.Sequence)
}

func TestAppendWraps(t *testing.T) {
	// A tiny ring: force several small records to cross the reserve
	// boundary and emit a Rewind.
	l := mkTestLog(t, 1) // 512-byte ring
	var last uint64
	for i := 0; i < 40; i++ { // 40 15-byte frames overrun the 512-byte ring
		_, err := l.Append(BlockFree{Blockno: uint16(i)})
		require.NoError(t, err)
	}
	require.Less(t, l.pos, l.ringBytes)
	_ = last
}

func TestFlushPersistsAndCheckpoints(t *testing.T) {
	l := mkTestLog(t, 4)
	seq, err := l.Append(Begin{})
	require.NoError(t, err)
	commitSeq, err := l.Append(Commit{Sequence: seq})
	require.NoError(t, err)
	require.NoError(t, l.Flush())
	assert.Equal(t, uint64(commitSeq), l.Committed())

	freemap := make([]byte, l.MapSectors()*common.SectorSize)
	require.NoError(t, l.CheckpointNow(freemap, l.Tail(), l.sequence))

	reopened, err := Open(l.d, l.hdrBlock)
	require.NoError(t, err)
	ckpt, ckptSeq := reopened.Checkpoint()
	assert.Equal(t, l.Tail(), ckpt)
	assert.Equal(t, l.sequence, ckptSeq)
}
