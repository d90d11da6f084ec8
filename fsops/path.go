package fsops

import (
	"fmt"
	"strings"

	"github.com/c8ef/CS111/common"
	"github.com/c8ef/CS111/fserrors"
	"github.com/c8ef/CS111/icache"
	"github.com/c8ef/CS111/jfs"
)

// Flags control path-level resolution behavior: whether "." and ".." are
// legal as last components, whether to create if absent, and whether to
// fail if present. ResolveParent does no permission checks; NDDirWrite is
// accepted and has no effect.
type Flags uint32

const (
	NDDotOK Flags = 1 << iota
	NDCreate
	NDExclusive
	NDDirWrite
)

// split breaks path into non-empty, "/"-delimited components; an empty
// path or a path of only slashes yields nil (the root itself).
func split(path string) []string {
	var comps []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			comps = append(comps, c)
		}
	}
	return comps
}

// Resolve walks path from the root, returning a handle to the inode it
// names. "." and ".." mid-path work because every directory this module
// creates contains self- and parent-referencing entries for them; no
// separate parent-stack bookkeeping is needed.
func Resolve(fs *jfs.FS, path string) (*icache.Handle, error) {
	comps := split(path)
	cur, err := fs.Icache.Get(common.RootInum)
	if err != nil {
		return nil, err
	}
	for _, comp := range comps {
		if !cur.Inode().IsDir() {
			cur.Release()
			return nil, fmt.Errorf("fsops: Resolve: %q: %w", path, fserrors.ErrNotDir)
		}
		inum, _, err := Lookup(fs, cur.Inode(), comp)
		cur.Release()
		if err != nil {
			return nil, err
		}
		cur, err = fs.Icache.Get(inum)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// ResolveParent walks all but the last component of path and returns a
// handle to the containing directory, the final component's name, and
// its inumber if it currently exists (0 otherwise). The caller releases
// the returned handle. flags govern whether a missing/existing leaf, or
// a leaf of "." or "..", is acceptable.
func ResolveParent(fs *jfs.FS, path string, flags Flags) (parent *icache.Handle, leaf string, leafInum common.Inum, err error) {
	comps := split(path)
	if len(comps) == 0 {
		return nil, "", 0, fmt.Errorf("fsops: ResolveParent: %q: path names the root, which has no parent: %w", path, fserrors.ErrInvalidArgument)
	}
	leaf = comps[len(comps)-1]
	if (leaf == "." || leaf == "..") && flags&NDDotOK == 0 {
		return nil, "", 0, fmt.Errorf("fsops: ResolveParent: %q: %q not allowed as final component: %w", path, leaf, fserrors.ErrInvalidArgument)
	}

	cur, err := fs.Icache.Get(common.RootInum)
	if err != nil {
		return nil, "", 0, err
	}
	for _, comp := range comps[:len(comps)-1] {
		if !cur.Inode().IsDir() {
			cur.Release()
			return nil, "", 0, fmt.Errorf("fsops: ResolveParent: %q: %w", path, fserrors.ErrNotDir)
		}
		inum, _, err := Lookup(fs, cur.Inode(), comp)
		cur.Release()
		if err != nil {
			return nil, "", 0, err
		}
		cur, err = fs.Icache.Get(inum)
		if err != nil {
			return nil, "", 0, err
		}
	}
	if !cur.Inode().IsDir() {
		cur.Release()
		return nil, "", 0, fmt.Errorf("fsops: ResolveParent: %q: %w", path, fserrors.ErrNotDir)
	}

	inum, _, lookErr := Lookup(fs, cur.Inode(), leaf)
	exists := lookErr == nil
	if !exists && !fserrors.Is(lookErr, fserrors.ErrNoEntry) {
		cur.Release()
		return nil, "", 0, lookErr
	}
	if exists && flags&NDExclusive != 0 {
		cur.Release()
		return nil, "", 0, fmt.Errorf("fsops: ResolveParent: %q: %w", path, fserrors.ErrExist)
	}
	if !exists && flags&NDCreate == 0 {
		cur.Release()
		return nil, "", 0, fmt.Errorf("fsops: ResolveParent: %q: %w", path, fserrors.ErrNoEntry)
	}
	return cur, leaf, inum, nil
}
