package wal

import (
	"fmt"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/disk"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/util"
	"github.com/c8ef/CS111/v6"
)

// Log owns the on-disk journal: the header sector, the freemap sectors
// immediately after it, and the byte-granular ring of records after that
// (spec §3.2, §4.10). It does not interpret Patch/BlockAlloc/BlockFree
// bodies; that is txn's and alloc's job. Log only frames, appends, reads
// back, and checkpoints.
type Log struct {
	d disk.Disk

	hdrBlock  common.Bnum // sector holding the LogHeader (== s_fsize)
	mapStart  common.Bnum // first freemap sector
	mapLen    uint64      // freemap length in sectors
	ringStart common.Bnum // first ring sector
	ringBytes uint64      // ring size in bytes

	ring []byte // in-memory mirror of the whole ring

	pos        uint64 // next physical write offset within ring
	sequence   uint32 // next LSN to assign
	committed  uint32 // highest LSN known durable
	checkpoint uint64 // byte offset of the oldest record replay must see
	ckptSeq    uint32 // sequence stamped at checkpoint
}

// reserveBytes is the space always kept free at the tail for a Rewind
// record's frame, per spec §4.10 ("reserve enough space for a Rewind").
const reserveBytes = headerSize + footerSize

// Create initializes a brand-new log area on d: header at hdrBlock, a
// zeroed freemap of mapSectors sectors, and a ring spanning the remaining
// logSectors-mapSectors-1 sectors. Used by mkfs.
func Create(d disk.Disk, hdrBlock common.Bnum, logSectors, mapSectors uint64) (*Log, error) {
	if logSectors <= mapSectors+1 {
		return nil, fmt.Errorf("wal: Create: log too small for its freemap: %w", fserrors.ErrInvalidArgument)
	}
	ringSectors := logSectors - mapSectors - 1
	l := &Log{
		d:         d,
		hdrBlock:  hdrBlock,
		mapStart:  hdrBlock + 1,
		mapLen:    mapSectors,
		ringStart: hdrBlock + 1 + mapSectors,
		ringBytes: ringSectors * common.SectorSize,
		ring:      make([]byte, ringSectors*common.SectorSize),
		sequence:  1,
		committed: 0,
	}
	if err := l.zeroFreemap(); err != nil {
		return nil, err
	}
	if err := l.writeHeader(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) zeroFreemap() error {
	zero := make([]byte, common.SectorSize)
	for i := uint64(0); i < l.mapLen; i++ {
		if err := l.d.Write(l.mapStart+i, zero); err != nil {
			return err
		}
	}
	return nil
}

// Open loads an existing log area from d, starting at hdrBlock, reading the
// ring fully into memory so record framing can be appended/scanned without
// per-byte disk I/O.
func Open(d disk.Disk, hdrBlock common.Bnum) (*Log, error) {
	sec, err := d.Read(hdrBlock)
	if err != nil {
		return nil, err
	}
	hdr, err := v6.DecodeLogHeader(sec)
	if err != nil {
		return nil, err
	}
	mapLen := uint64(hdr.MapSize)
	ringStart := hdrBlock + 1 + mapLen
	ringSectors := uint64(hdr.LogSize) - mapLen - 1
	ring := make([]byte, ringSectors*common.SectorSize)
	for i := uint64(0); i < ringSectors; i++ {
		sec, err := d.Read(ringStart + i)
		if err != nil {
			return nil, err
		}
		copy(ring[i*common.SectorSize:], sec)
	}
	l := &Log{
		d:          d,
		hdrBlock:   hdrBlock,
		mapStart:   hdrBlock + 1,
		mapLen:     mapLen,
		ringStart:  ringStart,
		ringBytes:  ringSectors * common.SectorSize,
		ring:       ring,
		pos:        uint64(hdr.Checkpoint),
		sequence:   hdr.Sequence,
		committed:  hdr.Sequence,
		checkpoint: uint64(hdr.Checkpoint),
		ckptSeq:    hdr.Sequence,
	}
	return l, nil
}

// Checkpoint returns the byte offset replay must start scanning from, and
// the sequence number stamped there.
func (l *Log) Checkpoint() (uint64, uint32) { return l.checkpoint, l.ckptSeq }

// Tail returns the log's current physical write position (txn uses it to
// measure log usage and as the position of a new checkpoint).
func (l *Log) Tail() uint64 { return l.pos }

// SetRecoveredTail is called once by replay after it has scanned forward
// from the checkpoint and found the true end of valid data: pos becomes
// the new write tail and also the new checkpoint (nothing before it can
// ever need replaying again), matching spec §4.11's post-replay reset.
func (l *Log) SetRecoveredTail(pos uint64, seq uint32) error {
	l.pos = pos
	l.sequence = seq
	l.committed = seq
	return l.persistCheckpoint(pos, seq)
}

// NextSeq assigns and consumes the next log sequence number.
func (l *Log) NextSeq() uint32 {
	s := l.sequence
	l.sequence++
	return s
}

// PeekSeq returns the sequence number NextSeq would assign next, without
// consuming it.
func (l *Log) PeekSeq() uint32 { return l.sequence }

// Committed reports the highest sequence number known durable (satisfies
// bcache.CommittedFunc / icache's equivalent).
func (l *Log) Committed() uint64 { return uint64(l.committed) }

// ringWrite copies b into the in-memory ring starting at physical offset
// off (off+len(b) <= ringBytes; callers never ask for a wrapping write).
func (l *Log) ringWrite(off uint64, b []byte) {
	copy(l.ring[off:], b)
}

// Append frames rec at the current tail, writing a Rewind and wrapping to
// the start first if rec (plus the ever-reserved Rewind frame) would not
// fit before ringBytes (spec §4.10's reserve-before-append rule). Returns
// the LSN assigned to rec.
func (l *Log) Append(rec Record) (uint32, error) {
	frameLen := uint64(headerSize + len(rec.encodeBody()) + footerSize)
	if l.pos+frameLen+reserveBytes > l.ringBytes {
		rewind := frame(l.NextSeq(), Rewind{})
		if l.pos+uint64(len(rewind)) > l.ringBytes {
			return 0, fmt.Errorf("wal: Append: ring too small to hold even a Rewind: %w", fserrors.ErrResourceExhausted)
		}
		l.ringWrite(l.pos, rewind)
		l.pos = 0
	}
	seq := l.NextSeq()
	buf := frame(seq, rec)
	l.ringWrite(l.pos, buf)
	l.pos += uint64(len(buf))
	util.DPrintf(10, "wal: append seq=%d type=%d at %d\n", seq, rec.recType(), l.pos-uint64(len(buf)))
	return seq, nil
}

// Flush writes the in-memory ring back to disk and advances Committed to
// the sequence number of the last record appended (spec §4.10: "flush()
// forces the log buffer to disk and advances committed").
func (l *Log) Flush() error {
	for i := uint64(0); i*common.SectorSize < l.ringBytes; i++ {
		sec := l.ring[i*common.SectorSize : (i+1)*common.SectorSize]
		if err := l.d.Write(l.ringStart+common.Bnum(i), sec); err != nil {
			return err
		}
	}
	if err := l.d.Barrier(); err != nil {
		return err
	}
	l.committed = l.sequence - 1
	return nil
}

// WriteFreemap persists data (mapLen sectors) to the freemap region.
func (l *Log) WriteFreemap(data []byte) error {
	if uint64(len(data)) != l.mapLen*common.SectorSize {
		return fmt.Errorf("wal: WriteFreemap: size mismatch: %w", fserrors.ErrInvalidArgument)
	}
	for i := uint64(0); i < l.mapLen; i++ {
		if err := l.d.Write(l.mapStart+i, data[i*common.SectorSize:(i+1)*common.SectorSize]); err != nil {
			return err
		}
	}
	return nil
}

// ReadFreemap loads the freemap region.
func (l *Log) ReadFreemap() ([]byte, error) {
	data := make([]byte, l.mapLen*common.SectorSize)
	for i := uint64(0); i < l.mapLen; i++ {
		sec, err := l.d.Read(l.mapStart + i)
		if err != nil {
			return nil, err
		}
		copy(data[i*common.SectorSize:], sec)
	}
	return data, nil
}

// MapSectors, RingBytes expose ring geometry for callers sizing freemaps.
func (l *Log) MapSectors() uint64 { return l.mapLen }
func (l *Log) RingBytes() uint64  { return l.ringBytes }

func (l *Log) writeHeader() error {
	h := &v6.LogHeader{
		Magic:      v6.LogMagic,
		HdrBlock:   uint32(l.hdrBlock),
		LogSize:    uint16(l.mapLen + 1 + l.ringBytes/common.SectorSize),
		MapSize:    uint16(l.mapLen),
		Checkpoint: uint32(l.checkpoint),
		Sequence:   l.ckptSeq,
	}
	if h.Sequence == 0 {
		h.Sequence = l.sequence
	}
	return l.d.Write(l.hdrBlock, h.Encode())
}

// CheckpointNow persists freemapData and the (pos, seq) replay-start point:
// freemap first, header last, per spec §4.10/§5 ("the log header is the
// single linearization point for replay's starting state").
func (l *Log) CheckpointNow(freemapData []byte, pos uint64, seq uint32) error {
	if err := l.WriteFreemap(freemapData); err != nil {
		return err
	}
	return l.persistCheckpoint(pos, seq)
}

func (l *Log) persistCheckpoint(pos uint64, seq uint32) error {
	l.checkpoint = pos
	l.ckptSeq = seq
	return l.writeHeader()
}

// ReadAt decodes the record physically at byte offset off in the ring,
// returning the record, its LSN, and the offset immediately following it.
// A Rewind record reports next=0 so callers loop back to the start; EOF-ish
// conditions (off too close to ringBytes to hold a header) are reported as
// ErrLogCorrupt so replay's scan treats them as "nothing more here".
func (l *Log) ReadAt(off uint64) (Record, uint32, uint64, error) {
	if off+headerSize > l.ringBytes {
		return nil, 0, 0, fmt.Errorf("wal: ReadAt: short header at %d: %w", off, fserrors.ErrLogCorrupt)
	}
	seq := leUint32(l.ring[off : off+4])
	typ := l.ring[off+4]
	bsz, err := bodySize(typ, l.ring[off+headerSize:])
	if err != nil {
		return nil, 0, 0, err
	}
	end := off + uint64(headerSize+bsz+footerSize)
	if end > l.ringBytes {
		return nil, 0, 0, fmt.Errorf("wal: ReadAt: record at %d runs past ring end: %w", off, fserrors.ErrLogCorrupt)
	}
	body := l.ring[off+headerSize : off+uint64(headerSize+bsz)]
	footer := l.ring[off+uint64(headerSize+bsz) : end]
	wantCRC := leUint32(footer[0:4])
	wantSeq := leUint32(footer[4:8])
	gotCRC := crc32Seeded(l.ring[off : off+uint64(headerSize+bsz)])
	if wantCRC != gotCRC || wantSeq != seq {
		return nil, 0, 0, fmt.Errorf("wal: ReadAt: footer mismatch at %d: %w", off, fserrors.ErrLogCorrupt)
	}
	rec, err := decodeBody(typ, body)
	if err != nil {
		return nil, 0, 0, err
	}
	next := end
	if typ == TypeRewind {
		next = 0
	}
	return rec, seq, next, nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
