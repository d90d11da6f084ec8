package disk

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/util"
)

var _ Disk = (*FileDisk)(nil)

// FileDisk is a Disk backed by a regular file, accessed with pread/pwrite
// (golang.org/x/sys/unix) at sector granularity.
type FileDisk struct {
	fd         int
	numSectors uint64
	writes     uint64
}

// crashAt is the test-only write count (CRASH_AT env var, §6) at which
// FileDisk.Write starts failing every call, simulating a power loss
// partway through an operation so replay/fsck tests can exercise recovery.
var crashAt = func() uint64 {
	if s := os.Getenv("CRASH_AT"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n
		}
	}
	return 0
}()

// OpenFileDisk opens (creating if absent) path and, if it is a plain file
// whose size is not numSectors sectors, truncates or extends it to that
// size. Passing numSectors=0 opens
// the file at its existing size (used for already-created images).
func OpenFileDisk(path string, numSectors uint64) (*FileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, err, fserrors.ErrIO)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %w: %w", path, err, fserrors.ErrIO)
	}
	if numSectors == 0 {
		numSectors = uint64(stat.Size) / common.SectorSize
	} else if (stat.Mode&unix.S_IFMT) == unix.S_IFREG && uint64(stat.Size) != numSectors*common.SectorSize {
		if err := unix.Ftruncate(fd, int64(numSectors*common.SectorSize)); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("truncate %s: %w: %w", path, err, fserrors.ErrIO)
		}
	}
	return &FileDisk{fd: fd, numSectors: numSectors}, nil
}

func (d *FileDisk) ReadTo(a common.Bnum, buf Sector) error {
	if uint64(len(buf)) != common.SectorSize {
		return fmt.Errorf("ReadTo: buffer is not sector-sized: %w", fserrors.ErrInvalidArgument)
	}
	if a >= d.numSectors {
		return fmt.Errorf("ReadTo: out-of-bounds read at %d: %w", a, fserrors.ErrInvalidArgument)
	}
	n, err := unix.Pread(d.fd, buf, int64(a*common.SectorSize))
	if err != nil || uint64(n) != common.SectorSize {
		return fmt.Errorf("ReadTo(%d): %w: %w", a, err, fserrors.ErrIO)
	}
	util.DPrintf(20, "disk: read %d\n", a)
	return nil
}

func (d *FileDisk) Read(a common.Bnum) (Sector, error) {
	buf := make([]byte, common.SectorSize)
	if err := d.ReadTo(a, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *FileDisk) Write(a common.Bnum, v Sector) error {
	if uint64(len(v)) != common.SectorSize {
		return fmt.Errorf("Write: v is not sector-sized (%d bytes): %w", len(v), fserrors.ErrInvalidArgument)
	}
	if a >= d.numSectors {
		return fmt.Errorf("Write: out-of-bounds write at %d: %w", a, fserrors.ErrInvalidArgument)
	}
	d.writes++
	if crashAt != 0 && d.writes >= crashAt {
		return fmt.Errorf("Write(%d): CRASH_AT reached: %w", a, fserrors.ErrIO)
	}
	n, err := unix.Pwrite(d.fd, v, int64(a*common.SectorSize))
	if err != nil || uint64(n) != common.SectorSize {
		return fmt.Errorf("Write(%d): %w: %w", a, err, fserrors.ErrIO)
	}
	util.DPrintf(20, "disk: write %d\n", a)
	return nil
}

func (d *FileDisk) Size() (uint64, error) { return d.numSectors, nil }

func (d *FileDisk) Barrier() error {
	if err := unix.Fsync(d.fd); err != nil {
		return fmt.Errorf("fsync: %w: %w", err, fserrors.ErrIO)
	}
	return nil
}

func (d *FileDisk) Close() error {
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("close: %w: %w", err, fserrors.ErrIO)
	}
	return nil
}

/////////////////////////////////////////////////////////////////////////

var _ Disk = (*MemDisk)(nil)

// MemDisk is an in-memory Disk used by tests that don't want to touch the
// filesystem (the bcache, wal and txn tests).
type MemDisk struct {
	mu      sync.RWMutex
	sectors [][]byte
}

func NewMemDisk(numSectors uint64) *MemDisk {
	sectors := make([][]byte, numSectors)
	for i := range sectors {
		sectors[i] = make([]byte, common.SectorSize)
	}
	return &MemDisk{sectors: sectors}
}

func (d *MemDisk) ReadTo(a common.Bnum, buf Sector) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if a >= uint64(len(d.sectors)) {
		return fmt.Errorf("ReadTo: out-of-bounds read at %d: %w", a, fserrors.ErrInvalidArgument)
	}
	copy(buf, d.sectors[a])
	return nil
}

func (d *MemDisk) Read(a common.Bnum) (Sector, error) {
	buf := make([]byte, common.SectorSize)
	if err := d.ReadTo(a, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (d *MemDisk) Write(a common.Bnum, v Sector) error {
	if uint64(len(v)) != common.SectorSize {
		return fmt.Errorf("Write: v is not sector-sized (%d bytes): %w", len(v), fserrors.ErrInvalidArgument)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if a >= uint64(len(d.sectors)) {
		return fmt.Errorf("Write: out-of-bounds write at %d: %w", a, fserrors.ErrInvalidArgument)
	}
	copy(d.sectors[a], v)
	return nil
}

func (d *MemDisk) Size() (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return uint64(len(d.sectors)), nil
}

func (d *MemDisk) Barrier() error { return nil }
func (d *MemDisk) Close() error   { return nil }
