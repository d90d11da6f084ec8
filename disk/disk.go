// Package disk provides sector-granular access to a V6 filesystem image at
// the spec's fixed 512-byte sector (common.SectorSize).
package disk

import "github.com/c8ef/CS111/common"

// Sector is one on-disk sector's worth of bytes.
type Sector = []byte

// Disk provides sector-addressed access to a filesystem image.
type Disk interface {
	// Read reads sector a. Expects a < Size().
	Read(a common.Bnum) (Sector, error)

	// ReadTo reads sector a into b, which must be common.SectorSize bytes.
	ReadTo(a common.Bnum, b Sector) error

	// Write updates sector a. Expects a < Size().
	Write(a common.Bnum, v Sector) error

	// Size reports the disk size in sectors.
	Size() (uint64, error)

	// Barrier ensures all prior Writes are durable before it returns.
	Barrier() error

	// Close releases any resources held by the disk.
	Close() error
}
