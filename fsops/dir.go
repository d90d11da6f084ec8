// Package fsops implements directory contents, path resolution, and the
// mutating filesystem operations built on top of jfs's block/inode
// primitives (spec §4.9), grounded on original_source/P8/fsops.{hh,cc}.
package fsops

import (
	"fmt"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/icache"
	"github.com/c8ef/CS111/jfs"
	"github.com/c8ef/CS111/txn"
	"github.com/c8ef/CS111/v6"
)

// Lookup streams dir's entries and returns the inumber and byte offset of
// the first live entry (d_inumber != 0) named name (spec §4.9).
func Lookup(fs *jfs.FS, dir *v6.Inode, name string) (common.Inum, uint64, error) {
	size := dir.Size()
	for off := uint64(0); off < size; off += common.DirentSize {
		raw, err := fs.ReadFileAt(dir, off, int(common.DirentSize))
		if err != nil {
			return 0, 0, err
		}
		ent, err := v6.DecodeDirent(raw)
		if err != nil {
			return 0, 0, err
		}
		if ent.Inumber != common.NullInum && ent.NameString() == name {
			return ent.Inumber, off, nil
		}
	}
	return 0, 0, fmt.Errorf("fsops: Lookup: %q: %w", name, fserrors.ErrNoEntry)
}

// findSlot returns the offset of an existing live entry named name if
// present, else the offset of the first free (d_inumber == 0) slot within
// dir's current size, else dir's current size (meaning "append").
func findSlot(fs *jfs.FS, dir *v6.Inode, name string) (offset uint64, exists bool, err error) {
	size := dir.Size()
	free := size
	foundFree := false
	for off := uint64(0); off < size; off += common.DirentSize {
		raw, err := fs.ReadFileAt(dir, off, int(common.DirentSize))
		if err != nil {
			return 0, false, err
		}
		ent, err := v6.DecodeDirent(raw)
		if err != nil {
			return 0, false, err
		}
		if ent.Inumber != common.NullInum && ent.NameString() == name {
			return off, true, nil
		}
		if ent.Inumber == common.NullInum && !foundFree {
			free = off
			foundFree = true
		}
	}
	return free, false, nil
}

// SetEntry installs inum/name at byte offset off in dir (creating a fresh
// slot if off == dir.Size()), and dirties/logs the parent's mtime (spec
// §4.9: "callers must then install an inumber via a separate call, which
// also dirties and logs the parent directory's mtime").
func SetEntry(fs *jfs.FS, h *txn.Handle, dir *v6.Inode, dirIh *icache.Handle, off uint64, inum common.Inum, name string) error {
	ent := &v6.Dirent{Inumber: inum}
	if err := ent.SetName(name); err != nil {
		return err
	}
	if err := fs.WriteFileAt(h, dir, dirIh, off, ent.Encode()); err != nil {
		return err
	}
	dir.Mtime = uint32(now())
	return fs.DirtyInode(h, dirIh)
}

// ClearEntry zeroes the entry at off, marking the slot free for reuse.
func ClearEntry(fs *jfs.FS, h *txn.Handle, dir *v6.Inode, dirIh *icache.Handle, off uint64) error {
	return fs.WriteFileAt(h, dir, dirIh, off, make([]byte, common.DirentSize))
}

// Create returns the offset at which name should be installed: an
// existing live entry's offset if name is already present (exists=true),
// otherwise a free or newly-appended slot (exists=false). The caller then
// calls SetEntry to install the inumber.
func Create(fs *jfs.FS, dir *v6.Inode, name string) (offset uint64, exists bool, err error) {
	return findSlot(fs, dir, name)
}

// IsEmpty reports whether dir (a directory) contains no live entries
// besides "." and "..".
func IsEmpty(fs *jfs.FS, dir *v6.Inode) (bool, error) {
	size := dir.Size()
	for off := uint64(0); off < size; off += common.DirentSize {
		raw, err := fs.ReadFileAt(dir, off, int(common.DirentSize))
		if err != nil {
			return false, err
		}
		ent, err := v6.DecodeDirent(raw)
		if err != nil {
			return false, err
		}
		if ent.Inumber == common.NullInum {
			continue
		}
		switch ent.NameString() {
		case ".", "..":
			continue
		default:
			return false, nil
		}
	}
	return true, nil
}
