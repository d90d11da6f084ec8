// Package wal implements the write-ahead physical redo log of spec §4.10:
// an append-only ring of CRC-protected records (Begin/Patch/BlockAlloc/
// BlockFree/Commit/Rewind) grouped into transactions, with a byte-granular
// checkpoint that bounds where replay must start scanning. It is grounded
// on original_source/P8/logentry.hh for the record tags and body layout and
// on original_source/P8/log.cc for the ring/checkpoint mechanics, following
// the on-disk-structure-plus-bounded-cache idiom the rest of this module
// uses for the buffer and inode caches.
package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/c8ef/CS111/fserrors"
)

// Record type tags (spec §4.10/§9: "the on-disk type tag is the record's
// index"). Unknown tags are ErrLogCorrupt.
const (
	TypeBegin      uint8 = 0
	TypePatch      uint8 = 1
	TypeBlockAlloc uint8 = 2
	TypeBlockFree  uint8 = 3
	TypeCommit     uint8 = 4
	TypeRewind     uint8 = 5
)

// headerSize is Header{sequence u32, type u8}; footerSize is
// Footer{crc32 u32, sequence u32} (spec §6.1).
const (
	headerSize = 4 + 1
	footerSize = 4 + 4
)

// MaxPatchBytes is the largest byte-vector a Patch record can carry: a
// single u8 length prefix caps it at 255 (spec §4.10).
const MaxPatchBytes = 255

// Record is the tagged union of log record bodies.
type Record interface {
	recType() uint8
	encodeBody() []byte
}

// Begin opens a transaction.
type Begin struct{}

// Patch records a byte-granular overwrite of a region inside one sector;
// Bytes must not span a sector boundary (len(Bytes) <= MaxPatchBytes).
type Patch struct {
	Blockno       uint16
	OffsetInBlock uint16
	Bytes         []byte
}

// BlockAlloc records that a previously-free block is now in use.
// ZeroOnReplay is 1 for metadata blocks whose contents must be zeroed on
// replay, 0 for file data (not logged).
type BlockAlloc struct {
	Blockno      uint16
	ZeroOnReplay uint8
}

// BlockFree records a block transitioning to free.
type BlockFree struct {
	Blockno uint16
}

// Commit closes the transaction opened by the matching Begin; Sequence
// must equal that Begin's LSN.
type Commit struct {
	Sequence uint32
}

// Rewind is emitted when the ring wraps; never appears inside a
// transaction.
type Rewind struct{}

func (Begin) recType() uint8      { return TypeBegin }
func (Begin) encodeBody() []byte  { return nil }
func (Rewind) recType() uint8     { return TypeRewind }
func (Rewind) encodeBody() []byte { return nil }

func (p Patch) recType() uint8 { return TypePatch }
func (p Patch) encodeBody() []byte {
	b := make([]byte, 2+2+1+len(p.Bytes))
	binary.LittleEndian.PutUint16(b[0:2], p.Blockno)
	binary.LittleEndian.PutUint16(b[2:4], p.OffsetInBlock)
	b[4] = uint8(len(p.Bytes))
	copy(b[5:], p.Bytes)
	return b
}

func (a BlockAlloc) recType() uint8 { return TypeBlockAlloc }
func (a BlockAlloc) encodeBody() []byte {
	b := make([]byte, 3)
	binary.LittleEndian.PutUint16(b[0:2], a.Blockno)
	b[2] = a.ZeroOnReplay
	return b
}

func (f BlockFree) recType() uint8 { return TypeBlockFree }
func (f BlockFree) encodeBody() []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b[0:2], f.Blockno)
	return b
}

func (c Commit) recType() uint8 { return TypeCommit }
func (c Commit) encodeBody() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b[0:4], c.Sequence)
	return b
}

// crc32Seeded computes the spec's non-reflected CRC-32 (poly 0x04C11DB7,
// seed 0x8AB27857, no final XOR) over data. hash/crc32 is hardwired to the
// reflected, 0xFFFFFFFF-seeded convention and cannot express this, so it is
// hand-rolled bit at a time, the way the original computes its own table
// in logentry.cc's analogue (see SPEC_FULL.md §4.10).
func crc32Seeded(data []byte) uint32 {
	const poly = 0x04C11DB7
	crc := uint32(0x8AB27857)
	for _, b := range data {
		crc ^= uint32(b) << 24
		for i := 0; i < 8; i++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// frame renders sequence/rec into Header+body+Footer bytes, per spec §6.1.
func frame(sequence uint32, rec Record) []byte {
	body := rec.encodeBody()
	buf := make([]byte, headerSize+len(body)+footerSize)
	binary.LittleEndian.PutUint32(buf[0:4], sequence)
	buf[4] = rec.recType()
	copy(buf[headerSize:], body)
	crc := crc32Seeded(buf[:headerSize+len(body)])
	foot := buf[headerSize+len(body):]
	binary.LittleEndian.PutUint32(foot[0:4], crc)
	binary.LittleEndian.PutUint32(foot[4:8], sequence)
	return buf
}

// bodySize returns the encoded body length for type tag t read from a
// stream whose next bytes (after the header) are peek, or an error if the
// length prefix itself can't yet be determined from peek.
func bodySize(t uint8, peek []byte) (int, error) {
	switch t {
	case TypeBegin, TypeRewind:
		return 0, nil
	case TypePatch:
		if len(peek) < 5 {
			return 0, fmt.Errorf("wal: bodySize: short patch header: %w", fserrors.ErrLogCorrupt)
		}
		return 5 + int(peek[4]), nil
	case TypeBlockAlloc:
		return 3, nil
	case TypeBlockFree:
		return 2, nil
	case TypeCommit:
		return 4, nil
	default:
		return 0, fmt.Errorf("wal: bodySize: unknown type tag %d: %w", t, fserrors.ErrLogCorrupt)
	}
}

// decodeBody turns a raw body (of the length bodySize reported) plus its
// type tag into a Record.
func decodeBody(t uint8, body []byte) (Record, error) {
	switch t {
	case TypeBegin:
		return Begin{}, nil
	case TypeRewind:
		return Rewind{}, nil
	case TypePatch:
		if len(body) < 5 {
			return nil, fmt.Errorf("wal: decode Patch: short body: %w", fserrors.ErrLogCorrupt)
		}
		n := int(body[4])
		if len(body) != 5+n {
			return nil, fmt.Errorf("wal: decode Patch: length mismatch: %w", fserrors.ErrLogCorrupt)
		}
		bytes := make([]byte, n)
		copy(bytes, body[5:])
		return Patch{
			Blockno:       binary.LittleEndian.Uint16(body[0:2]),
			OffsetInBlock: binary.LittleEndian.Uint16(body[2:4]),
			Bytes:         bytes,
		}, nil
	case TypeBlockAlloc:
		if len(body) != 3 {
			return nil, fmt.Errorf("wal: decode BlockAlloc: short body: %w", fserrors.ErrLogCorrupt)
		}
		return BlockAlloc{
			Blockno:      binary.LittleEndian.Uint16(body[0:2]),
			ZeroOnReplay: body[2],
		}, nil
	case TypeBlockFree:
		if len(body) != 2 {
			return nil, fmt.Errorf("wal: decode BlockFree: short body: %w", fserrors.ErrLogCorrupt)
		}
		return BlockFree{Blockno: binary.LittleEndian.Uint16(body[0:2])}, nil
	case TypeCommit:
		if len(body) != 4 {
			return nil, fmt.Errorf("wal: decode Commit: short body: %w", fserrors.ErrLogCorrupt)
		}
		return Commit{Sequence: binary.LittleEndian.Uint32(body[0:4])}, nil
	default:
		return nil, fmt.Errorf("wal: decode: unknown type tag %d: %w", t, fserrors.ErrLogCorrupt)
	}
}

// SeqLE implements the spec's half-range wraparound comparison: "le(a,b)
// iff b-a <= 2^31".
func SeqLE(a, b uint32) bool {
	return b-a <= 1<<31
}
