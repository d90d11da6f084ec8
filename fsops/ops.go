package fsops

import (
	"fmt"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/icache"
	"github.com/c8ef/CS111/jfs"
	"github.com/c8ef/CS111/v6"
)

// Mkdir creates a new directory at path with the given permission bits,
// seeding "." and ".." and bumping the parent's nlink (spec §4.9).
func Mkdir(fs *jfs.FS, path string, perm uint16) error {
	h, err := fs.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			fs.Abort(h)
		}
	}()

	parent, leaf, leafInum, err := ResolveParent(fs, path, NDCreate)
	if err != nil {
		return err
	}
	defer parent.Release()
	if leafInum != common.NullInum {
		return fmt.Errorf("fsops: Mkdir: %q: %w", path, fserrors.ErrExist)
	}

	childIh, err := fs.IAlloc(h)
	if err != nil {
		return err
	}
	defer childIh.Release()
	child := childIh.Inode()
	child.Mode = v6.IALLOC | v6.IFDIR | (perm & v6.IRWXA)
	child.Nlink = 2
	if err := fs.DirtyInode(h, childIh); err != nil {
		return err
	}

	dot := &v6.Dirent{Inumber: childIh.Inum()}
	if err := dot.SetName("."); err != nil {
		return err
	}
	dotdot := &v6.Dirent{Inumber: parent.Inum()}
	if err := dotdot.SetName(".."); err != nil {
		return err
	}
	if err := fs.WriteFileAt(h, child, childIh, 0, dot.Encode()); err != nil {
		return err
	}
	if err := fs.WriteFileAt(h, child, childIh, common.DirentSize, dotdot.Encode()); err != nil {
		return err
	}

	off, exists, err := Create(fs, parent.Inode(), leaf)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("fsops: Mkdir: %q: %w", path, fserrors.ErrExist)
	}
	if err := SetEntry(fs, h, parent.Inode(), parent, off, childIh.Inum(), leaf); err != nil {
		return err
	}
	parent.Inode().Nlink++
	if err := fs.DirtyInode(h, parent); err != nil {
		return err
	}

	committed = true
	return fs.Commit(h)
}

// Rmdir removes the empty directory at path, decrementing the parent's
// nlink and freeing the child inode (spec §4.9: "refuses non-empty
// directories (ignoring '.' and '..'), then truncates, decrements parent
// nlink, and frees the inode").
func Rmdir(fs *jfs.FS, path string) error {
	h, err := fs.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			fs.Abort(h)
		}
	}()

	parent, leaf, leafInum, err := ResolveParent(fs, path, 0)
	if err != nil {
		return err
	}
	defer parent.Release()

	childIh, err := fs.Icache.Get(leafInum)
	if err != nil {
		return err
	}
	defer childIh.Release()
	if !childIh.Inode().IsDir() {
		return fmt.Errorf("fsops: Rmdir: %q: %w", path, fserrors.ErrNotDir)
	}
	empty, err := IsEmpty(fs, childIh.Inode())
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("fsops: Rmdir: %q: %w", path, fserrors.ErrNotEmpty)
	}

	_, off, err := Lookup(fs, parent.Inode(), leaf)
	if err != nil {
		return err
	}
	if err := ClearEntry(fs, h, parent.Inode(), parent, off); err != nil {
		return err
	}
	parent.Inode().Nlink--
	if err := fs.DirtyInode(h, parent); err != nil {
		return err
	}

	if err := fs.Truncate(h, childIh.Inode(), childIh, 0); err != nil {
		return err
	}
	if err := fs.IFree(childIh.Inum()); err != nil {
		return err
	}
	childIh.Inode().Mode = 0
	childIh.Inode().Nlink = 0
	if err := fs.DirtyInode(h, childIh); err != nil {
		return err
	}

	committed = true
	return fs.Commit(h)
}

// Link adds a new name newPath for the existing file oldPath, incrementing
// its nlink. Hard links to directories are forbidden (spec §4.12's pass 2
// invariant enforced at creation time too, not just by fsck).
func Link(fs *jfs.FS, oldPath, newPath string) error {
	h, err := fs.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			fs.Abort(h)
		}
	}()

	srcIh, err := Resolve(fs, oldPath)
	if err != nil {
		return err
	}
	defer srcIh.Release()
	if srcIh.Inode().IsDir() {
		return fmt.Errorf("fsops: Link: %q: %w", oldPath, fserrors.ErrIsDir)
	}
	if srcIh.Inode().Nlink >= 255 {
		return fmt.Errorf("fsops: Link: %q: nlink overflow: %w", oldPath, fserrors.ErrResourceExhausted)
	}

	parent, leaf, leafInum, err := ResolveParent(fs, newPath, NDCreate)
	if err != nil {
		return err
	}
	defer parent.Release()
	if leafInum != common.NullInum {
		return fmt.Errorf("fsops: Link: %q: %w", newPath, fserrors.ErrExist)
	}

	off, exists, err := Create(fs, parent.Inode(), leaf)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("fsops: Link: %q: %w", newPath, fserrors.ErrExist)
	}
	if err := SetEntry(fs, h, parent.Inode(), parent, off, srcIh.Inum(), leaf); err != nil {
		return err
	}
	srcIh.Inode().Nlink++
	if err := fs.DirtyInode(h, srcIh); err != nil {
		return err
	}

	committed = true
	return fs.Commit(h)
}

// Unlink removes path's directory entry, decrementing the target's nlink
// and freeing it once nlink reaches zero (spec §4.9).
func Unlink(fs *jfs.FS, path string) error {
	h, err := fs.Begin()
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			fs.Abort(h)
		}
	}()

	parent, leaf, leafInum, err := ResolveParent(fs, path, 0)
	if err != nil {
		return err
	}
	defer parent.Release()

	targetIh, err := fs.Icache.Get(leafInum)
	if err != nil {
		return err
	}
	defer targetIh.Release()
	if targetIh.Inode().IsDir() {
		return fmt.Errorf("fsops: Unlink: %q: %w", path, fserrors.ErrIsDir)
	}

	_, off, err := Lookup(fs, parent.Inode(), leaf)
	if err != nil {
		return err
	}
	if err := ClearEntry(fs, h, parent.Inode(), parent, off); err != nil {
		return err
	}

	target := targetIh.Inode()
	if target.Nlink > 0 {
		target.Nlink--
	}
	if target.Nlink == 0 {
		if err := fs.Truncate(h, target, targetIh, 0); err != nil {
			return err
		}
		if err := fs.IFree(targetIh.Inum()); err != nil {
			return err
		}
		target.Mode = 0
	}
	if err := fs.DirtyInode(h, targetIh); err != nil {
		return err
	}

	committed = true
	return fs.Commit(h)
}

// Mknod creates a new file of the given mode (caller ORs in the type bits:
// v6.IFREG, v6.IFCHR, v6.IFBLK) at path and returns a handle to it, which
// the caller must Release. NDExclusive semantics: path must not already
// exist.
func Mknod(fs *jfs.FS, path string, mode uint16) (*icache.Handle, error) {
	h, err := fs.Begin()
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			fs.Abort(h)
		}
	}()

	parent, leaf, _, err := ResolveParent(fs, path, NDCreate|NDExclusive)
	if err != nil {
		return nil, err
	}
	defer parent.Release()

	childIh, err := fs.IAlloc(h)
	if err != nil {
		return nil, err
	}
	child := childIh.Inode()
	child.Mode = v6.IALLOC | mode
	child.Nlink = 1
	if err := fs.DirtyInode(h, childIh); err != nil {
		childIh.Release()
		return nil, err
	}

	off, exists, err := Create(fs, parent.Inode(), leaf)
	if err != nil {
		childIh.Release()
		return nil, err
	}
	if exists {
		childIh.Release()
		return nil, fmt.Errorf("fsops: Mknod: %q: %w", path, fserrors.ErrExist)
	}
	if err := SetEntry(fs, h, parent.Inode(), parent, off, childIh.Inum(), leaf); err != nil {
		childIh.Release()
		return nil, err
	}

	committed = true
	if err := fs.Commit(h); err != nil {
		childIh.Release()
		return nil, err
	}
	return childIh, nil
}
