// Package v6 defines the on-disk byte layouts of the Version-6 UNIX
// filesystem format this module reimplements, grounded on
// original_source/P7/filsys.h, ino.h, direntv6.h for field order and sizes,
// and original_source/P8/logentry.hh, layout.hh for the log header and
// record framing. All multi-byte fields are little-endian, encoded with
// encoding/binary.
package v6

import (
	"encoding/binary"
	"fmt"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/fserrors"
)

// Mode bits (spec §6.2).
const (
	IALLOC uint16 = 0o100000
	IFMT   uint16 = 0o60000
	IFDIR  uint16 = 0o40000
	IFCHR  uint16 = 0o20000
	IFBLK  uint16 = 0o60000
	IFREG  uint16 = 0
	ILARG  uint16 = 0o10000
	ISUID  uint16 = 0o4000
	ISGID  uint16 = 0o2000
	ISVTX  uint16 = 0o1000
	IRWXA  uint16 = 0o0777
)

// BootMagic is the 16-bit magic stored in boot block sector 0.
const BootMagic uint16 = 0o407

// SuperblockSector, InodeStartSector locate fixed metadata sectors: sector
// 0 is the boot block, sector 1 the superblock, and the inode table begins
// immediately after (original_source/P8/layout.hh's INODE_START_SECTOR).
const SuperblockSector common.Bnum = 1
const InodeStartSector common.Bnum = 2

// InodeBlock and InodeOffset locate inode ino's sector and in-sector slot.
func InodeBlock(ino common.Inum) common.Bnum {
	return InodeStartSector + common.Bnum(uint64(ino-common.RootInum)/common.InodesPerBlock)
}

func InodeOffset(ino common.Inum) uint64 {
	return uint64(ino-common.RootInum) % common.InodesPerBlock
}

// DataStart returns the first data-block sector given isize inode-table
// sectors.
func DataStart(isize uint16) common.Bnum {
	return InodeStartSector + common.Bnum(isize)
}

// Superblock is the 512-byte on-disk superblock at SuperblockSector.
type Superblock struct {
	Isize  uint16
	Fsize  uint16
	Nfree  uint16
	Free   [common.SBNFree]uint16
	Ninode uint16
	Inode  [common.SBNInode]uint16
	Flock  uint8
	Ilock  uint8
	Fmod   uint8
	Ronly  uint8
	Time   [2]uint16
	Uselog uint8
	Dirty  uint8
}

// Encode marshals the superblock into a SectorSize-byte sector, zero-padded.
func (sb *Superblock) Encode() []byte {
	buf := make([]byte, common.SectorSize)
	w := &byteWriter{buf: buf}
	w.u16(sb.Isize)
	w.u16(sb.Fsize)
	w.u16(sb.Nfree)
	for _, f := range sb.Free {
		w.u16(f)
	}
	w.u16(sb.Ninode)
	for _, ino := range sb.Inode {
		w.u16(ino)
	}
	w.u8(sb.Flock)
	w.u8(sb.Ilock)
	w.u8(sb.Fmod)
	w.u8(sb.Ronly)
	w.u16(sb.Time[0])
	w.u16(sb.Time[1])
	w.u8(sb.Uselog)
	w.u8(sb.Dirty)
	return buf
}

// DecodeSuperblock unmarshals a SectorSize-byte sector into a Superblock.
func DecodeSuperblock(sector []byte) (*Superblock, error) {
	if uint64(len(sector)) != common.SectorSize {
		return nil, fmt.Errorf("v6: DecodeSuperblock: bad sector size %d: %w", len(sector), fserrors.ErrInvalidArgument)
	}
	r := &byteReader{buf: sector}
	sb := &Superblock{}
	sb.Isize = r.u16()
	sb.Fsize = r.u16()
	sb.Nfree = r.u16()
	for i := range sb.Free {
		sb.Free[i] = r.u16()
	}
	sb.Ninode = r.u16()
	for i := range sb.Inode {
		sb.Inode[i] = r.u16()
	}
	sb.Flock = r.u8()
	sb.Ilock = r.u8()
	sb.Fmod = r.u8()
	sb.Ronly = r.u8()
	sb.Time[0] = r.u16()
	sb.Time[1] = r.u16()
	sb.Uselog = r.u8()
	sb.Dirty = r.u8()
	return sb, r.err
}

// Inode is the 32-byte on-disk inode record.
type Inode struct {
	Mode  uint16
	Nlink uint8
	Uid   uint8
	Gid   uint8
	Size0 uint8
	Size1 uint16
	Addr  [common.NDirectBlocks]uint16
	Atime uint32
	Mtime uint32
}

// Size returns the inode's file size as encoded across Size0 (high 8 bits)
// and Size1 (low 16 bits), V6's 24-bit file size field.
func (ino *Inode) Size() uint64 {
	return uint64(ino.Size0)<<16 | uint64(ino.Size1)
}

// SetSize splits sz (must fit in 24 bits) across Size0/Size1.
func (ino *Inode) SetSize(sz uint64) error {
	if sz > common.MaxFileSize {
		return fmt.Errorf("v6: SetSize: %d exceeds max file size %d: %w", sz, common.MaxFileSize, fserrors.ErrResourceExhausted)
	}
	ino.Size0 = uint8(sz >> 16)
	ino.Size1 = uint16(sz & 0xffff)
	return nil
}

// swapTime implements the spec's "32-bit time fields stored as two 16-bit
// halves in swapped order" rule: t_disk = (t<<16)|(t>>16).
func swapTime(t uint32) uint32 {
	return t<<16 | t>>16
}

// Encode marshals the inode into a 32-byte slice.
func (ino *Inode) Encode() []byte {
	buf := make([]byte, common.InodeSize)
	w := &byteWriter{buf: buf}
	w.u16(ino.Mode)
	w.u8(ino.Nlink)
	w.u8(ino.Uid)
	w.u8(ino.Gid)
	w.u8(ino.Size0)
	w.u16(ino.Size1)
	for _, a := range ino.Addr {
		w.u16(a)
	}
	w.u32(swapTime(ino.Atime))
	w.u32(swapTime(ino.Mtime))
	return buf
}

// DecodeInode unmarshals a 32-byte slice into an Inode.
func DecodeInode(b []byte) (*Inode, error) {
	if uint64(len(b)) != common.InodeSize {
		return nil, fmt.Errorf("v6: DecodeInode: bad size %d: %w", len(b), fserrors.ErrInvalidArgument)
	}
	r := &byteReader{buf: b}
	ino := &Inode{}
	ino.Mode = r.u16()
	ino.Nlink = r.u8()
	ino.Uid = r.u8()
	ino.Gid = r.u8()
	ino.Size0 = r.u8()
	ino.Size1 = r.u16()
	for i := range ino.Addr {
		ino.Addr[i] = r.u16()
	}
	ino.Atime = swapTime(r.u32())
	ino.Mtime = swapTime(r.u32())
	return ino, r.err
}

// IsAllocated reports whether the inode is in use.
func (ino *Inode) IsAllocated() bool { return ino.Mode&IALLOC != 0 }

// IsDir reports whether the inode is a directory.
func (ino *Inode) IsDir() bool { return ino.Mode&IFMT == IFDIR }

// IsLarge reports whether the inode uses indirect addressing.
func (ino *Inode) IsLarge() bool { return ino.Mode&ILARG != 0 }

// Dirent is a 16-byte directory entry.
type Dirent struct {
	Inumber common.Inum
	Name    [14]byte
}

// NameString returns the entry's name with trailing NUL padding trimmed.
func (d *Dirent) NameString() string {
	n := len(d.Name)
	for n > 0 && d.Name[n-1] == 0 {
		n--
	}
	return string(d.Name[:n])
}

// SetName copies name into the entry, NUL-padding if shorter than 14
// bytes. A 14-byte name fills the field exactly with no terminator.
func (d *Dirent) SetName(name string) error {
	if len(name) > 14 {
		return fmt.Errorf("v6: SetName: name %q longer than 14 bytes: %w", name, fserrors.ErrInvalidArgument)
	}
	d.Name = [14]byte{}
	copy(d.Name[:], name)
	return nil
}

// Encode marshals the directory entry into 16 bytes.
func (d *Dirent) Encode() []byte {
	buf := make([]byte, common.DirentSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(d.Inumber))
	copy(buf[2:16], d.Name[:])
	return buf
}

// DecodeDirent unmarshals 16 bytes into a Dirent.
func DecodeDirent(b []byte) (*Dirent, error) {
	if uint64(len(b)) != common.DirentSize {
		return nil, fmt.Errorf("v6: DecodeDirent: bad size %d: %w", len(b), fserrors.ErrInvalidArgument)
	}
	d := &Dirent{}
	d.Inumber = common.Inum(binary.LittleEndian.Uint16(b[0:2]))
	copy(d.Name[:], b[2:16])
	return d, nil
}

// LogMagic is the magic stamped into a journal's LogHeader.
const LogMagic uint32 = 0x474C0636

// LogHeader is the 512-byte on-disk journal header, stored at sector
// s_fsize.
type LogHeader struct {
	Magic      uint32
	HdrBlock   uint32
	LogSize    uint16
	MapSize    uint16
	Checkpoint uint32
	Sequence   uint32
}

// Encode marshals the log header into a SectorSize-byte sector.
func (h *LogHeader) Encode() []byte {
	buf := make([]byte, common.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.HdrBlock)
	binary.LittleEndian.PutUint16(buf[8:10], h.LogSize)
	binary.LittleEndian.PutUint16(buf[10:12], h.MapSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.Checkpoint)
	binary.LittleEndian.PutUint32(buf[16:20], h.Sequence)
	return buf
}

// DecodeLogHeader unmarshals a SectorSize-byte sector into a LogHeader.
func DecodeLogHeader(sector []byte) (*LogHeader, error) {
	if uint64(len(sector)) != common.SectorSize {
		return nil, fmt.Errorf("v6: DecodeLogHeader: bad sector size %d: %w", len(sector), fserrors.ErrInvalidArgument)
	}
	h := &LogHeader{}
	h.Magic = binary.LittleEndian.Uint32(sector[0:4])
	h.HdrBlock = binary.LittleEndian.Uint32(sector[4:8])
	h.LogSize = binary.LittleEndian.Uint16(sector[8:10])
	h.MapSize = binary.LittleEndian.Uint16(sector[10:12])
	h.Checkpoint = binary.LittleEndian.Uint32(sector[12:16])
	h.Sequence = binary.LittleEndian.Uint32(sector[16:20])
	if h.Magic != LogMagic {
		return nil, fmt.Errorf("v6: DecodeLogHeader: bad magic %#x: %w", h.Magic, fserrors.ErrLogCorrupt)
	}
	return h, nil
}

// byteWriter/byteReader are tiny little-endian cursors used to keep the
// Encode/Decode methods above linear and free of manual offset arithmetic.
type byteWriter struct {
	buf []byte
	off int
}

func (w *byteWriter) u8(v uint8) {
	w.buf[w.off] = v
	w.off++
}

func (w *byteWriter) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[w.off:], v)
	w.off += 2
}

func (w *byteWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

type byteReader struct {
	buf []byte
	off int
	err error
}

func (r *byteReader) u8() uint8 {
	if r.off+1 > len(r.buf) {
		r.err = fmt.Errorf("v6: decode: short buffer: %w", fserrors.ErrInvalidArgument)
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *byteReader) u16() uint16 {
	if r.off+2 > len(r.buf) {
		r.err = fmt.Errorf("v6: decode: short buffer: %w", fserrors.ErrInvalidArgument)
		return 0
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v
}

func (r *byteReader) u32() uint32 {
	if r.off+4 > len(r.buf) {
		r.err = fmt.Errorf("v6: decode: short buffer: %w", fserrors.ErrInvalidArgument)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}
