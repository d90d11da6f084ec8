// Package fserrors defines the error taxonomy shared by ENCMAP and JFS
// (spec §7). Every public operation that can fail returns one of these
// sentinels, usually wrapped with additional context via fmt.Errorf's %w.
package fserrors

import "errors"

var (
	// ErrIO is a failure of an underlying read/write/stat syscall.
	ErrIO = errors.New("fserrors: io error")

	// ErrLogCorrupt is a structural log error: bad magic, CRC mismatch,
	// sequence mismatch, or an unrecognized record tag.
	ErrLogCorrupt = errors.New("fserrors: log corrupt")

	// ErrResourceExhausted covers a full cache, no free blocks, no free
	// inodes, or a file size that would overflow the addressable range.
	ErrResourceExhausted = errors.New("fserrors: resource exhausted")

	// ErrInvalidArgument is API misuse: bad alignment, an oversized name,
	// an out-of-range inumber, or a pointer not owned by its cache.
	ErrInvalidArgument = errors.New("fserrors: invalid argument")

	// ErrCryptoFailed is returned when the underlying cipher primitive
	// fails.
	ErrCryptoFailed = errors.New("fserrors: crypto failed")

	// ErrFsCorrupt marks an asserted runtime invariant violation: eviction
	// of a referenced cache slot, freeing an already-free block, and
	// similar internal-consistency failures.
	ErrFsCorrupt = errors.New("fserrors: filesystem corrupt")

	// ErrNotDir, ErrNoEntry, ErrExist, ErrNotEmpty are raised by path
	// resolution and directory operations (spec §4.9).
	ErrNotDir   = errors.New("fserrors: not a directory")
	ErrNoEntry  = errors.New("fserrors: no such entry")
	ErrExist    = errors.New("fserrors: entry already exists")
	ErrNotEmpty = errors.New("fserrors: directory not empty")
	ErrIsDir    = errors.New("fserrors: is a directory")
	ErrPerm     = errors.New("fserrors: permission denied")
)

// Is reports whether err wraps target, a thin re-export of errors.Is so
// callers need only import this package.
func Is(err, target error) bool { return errors.Is(err, target) }
