package v6

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c8ef/CS111/common"
)

func TestSuperblockRoundTrip(t *testing.T) {
	sb := &Superblock{Isize: 10, Fsize: 1000, Nfree: 3, Ninode: 2, Uselog: 1, Dirty: 1}
	sb.Free[0] = 42
	sb.Inode[0] = 7
	sb.Time[0] = 0x1234
	sb.Time[1] = 0x5678

	enc := sb.Encode()
	assert.Len(t, enc, 512)

	got, err := DecodeSuperblock(enc)
	require.NoError(t, err)
	assert.Equal(t, sb, got)
}

func TestInodeSizeSplitAndRoundTrip(t *testing.T) {
	ino := &Inode{Mode: IALLOC | IFREG, Nlink: 1}
	require.NoError(t, ino.SetSize(0x00ABCDEF))
	assert.Equal(t, uint64(0x00ABCDEF), ino.Size())

	ino.Atime = 0x01020304
	ino.Mtime = 0x05060708

	enc := ino.Encode()
	assert.Len(t, enc, 32)

	got, err := DecodeInode(enc)
	require.NoError(t, err)
	assert.Equal(t, ino.Size(), got.Size())
	assert.Equal(t, ino.Atime, got.Atime)
	assert.Equal(t, ino.Mtime, got.Mtime)
	assert.True(t, got.IsAllocated())
	assert.False(t, got.IsDir())
}

func TestSetSizeRejectsOverflow(t *testing.T) {
	ino := &Inode{}
	assert.Error(t, ino.SetSize(common.MaxFileSize + 1))
}

func TestDirentNamePaddingAndRoundTrip(t *testing.T) {
	d := &Dirent{Inumber: 5}
	require.NoError(t, d.SetName("foo"))

	enc := d.Encode()
	assert.Len(t, enc, 16)

	got, err := DecodeDirent(enc)
	require.NoError(t, err)
	assert.Equal(t, d.Inumber, got.Inumber)
	assert.Equal(t, "foo", got.NameString())
}

func TestDirentFullLengthNameHasNoTerminator(t *testing.T) {
	d := &Dirent{Inumber: 1}
	require.NoError(t, d.SetName("12345678901234"))
	assert.Equal(t, "12345678901234", d.NameString())
}

func TestDirentNameTooLongRejected(t *testing.T) {
	d := &Dirent{}
	assert.Error(t, d.SetName("123456789012345"))
}

func TestLogHeaderRoundTrip(t *testing.T) {
	h := &LogHeader{Magic: LogMagic, HdrBlock: 1000, LogSize: 64, MapSize: 8, Checkpoint: 10, Sequence: 20}
	enc := h.Encode()
	assert.Len(t, enc, 512)

	got, err := DecodeLogHeader(enc)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestLogHeaderRejectsBadMagic(t *testing.T) {
	h := &LogHeader{Magic: 0xdeadbeef}
	enc := h.Encode()
	_, err := DecodeLogHeader(enc)
	assert.Error(t, err)
}
