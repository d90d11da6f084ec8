// Package cryptfile provides CryptFile, a ciphertext-on-disk, plaintext-in-
// memory file abstraction built on xex.Cipher, grounded on
// original_source/P5/cryptfile.{hh,cc}. It is the non-demand-paged ENCMAP
// primitive: every read/write round-trips through the cipher immediately.
// encmap.File reuses this type for its own underlying file I/O and
// layers demand paging on top.
package cryptfile

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/util"
	"github.com/c8ef/CS111/xex"
)

// CryptFile is a regular file whose on-disk bytes are always ciphertext;
// every aligned read/write transparently applies xex encryption/decryption
// keyed by a single xex.Key for the file's lifetime.
type CryptFile struct {
	fd     int
	cipher *xex.Cipher

	PreadBytes  uint64
	PwriteBytes uint64
}

// Open opens (creating if absent) the ciphertext file at path and binds it
// to key.
func Open(path string, key xex.Key) (*CryptFile, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, fmt.Errorf("cryptfile: open %s: %w: %w", path, err, fserrors.ErrIO)
	}
	c, err := xex.NewCipher(key)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &CryptFile{fd: fd, cipher: c}, nil
}

// FileSize returns the size in bytes of the underlying ciphertext file
// (equal to the plaintext size; XEX does not expand data).
func (c *CryptFile) FileSize() (uint64, error) {
	var stat unix.Stat_t
	if err := unix.Fstat(c.fd, &stat); err != nil {
		return 0, fmt.Errorf("cryptfile: fstat: %w: %w", err, fserrors.ErrIO)
	}
	if stat.Size < 0 {
		return 0, fmt.Errorf("cryptfile: negative file size: %w", fserrors.ErrFsCorrupt)
	}
	return uint64(stat.Size), nil
}

// AlignedPread reads up to len bytes at offset (both multiples of
// xex.BlockSize) and decrypts them into dst, returning the number of
// plaintext bytes produced. It mirrors CryptFile::aligned_pread's handling
// of a short final read at EOF: n is rounded down to a block multiple
// before decryption.
func (c *CryptFile) AlignedPread(dst []byte, length, offset uint64) (int, error) {
	if length%xex.BlockSize != 0 || offset%xex.BlockSize != 0 {
		return 0, fmt.Errorf("cryptfile: AlignedPread: len=%d offset=%d must be block-aligned: %w",
			length, offset, fserrors.ErrInvalidArgument)
	}
	buf := make([]byte, length)
	n, err := unix.Pread(c.fd, buf, int64(offset))
	if err != nil {
		return 0, fmt.Errorf("cryptfile: pread: %w: %w", err, fserrors.ErrIO)
	}
	if n <= 0 {
		return n, nil
	}
	n -= n % xex.BlockSize
	if n == 0 {
		return 0, nil
	}
	if err := c.cipher.Decrypt(dst[:n], buf[:n], offset); err != nil {
		return 0, err
	}
	c.PreadBytes += uint64(n)
	util.DPrintf(20, "cryptfile: pread %d bytes at %d\n", n, offset)
	return n, nil
}

// AlignedPwrite encrypts src and writes it at offset (both length and
// offset must be multiples of xex.BlockSize).
func (c *CryptFile) AlignedPwrite(src []byte, offset uint64) (int, error) {
	length := uint64(len(src))
	if length%xex.BlockSize != 0 || offset%xex.BlockSize != 0 {
		return 0, fmt.Errorf("cryptfile: AlignedPwrite: len=%d offset=%d must be block-aligned: %w",
			length, offset, fserrors.ErrInvalidArgument)
	}
	buf := make([]byte, length)
	if err := c.cipher.Encrypt(buf, src, offset); err != nil {
		return 0, err
	}
	n, err := unix.Pwrite(c.fd, buf, int64(offset))
	if err != nil {
		return 0, fmt.Errorf("cryptfile: pwrite: %w: %w", err, fserrors.ErrIO)
	}
	c.PwriteBytes += uint64(n)
	util.DPrintf(20, "cryptfile: pwrite %d bytes at %d\n", n, offset)
	return n, nil
}

// Truncate resizes the underlying ciphertext file.
func (c *CryptFile) Truncate(size uint64) error {
	if err := unix.Ftruncate(c.fd, int64(size)); err != nil {
		return fmt.Errorf("cryptfile: truncate: %w: %w", err, fserrors.ErrIO)
	}
	return nil
}

// Close closes the underlying file descriptor. It does not erase the
// cipher's key material; callers that also hold the xex.Key should call
// Key.Erase separately once done.
func (c *CryptFile) Close() error {
	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("cryptfile: close: %w: %w", err, fserrors.ErrIO)
	}
	return nil
}

// Fd returns the raw file descriptor, for callers (encmap) that need to
// mmap/pread/pwrite it directly.
func (c *CryptFile) Fd() int { return c.fd }

// Cipher returns the bound cipher, for callers that need to encrypt/decrypt
// pages outside of CryptFile's own read/write path.
func (c *CryptFile) Cipher() *xex.Cipher { return c.cipher }
