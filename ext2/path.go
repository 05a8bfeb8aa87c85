package ext2

import (
	"strings"

	"github.com/kosfs/kosfs/fserr"
)

// maxSymlinkHops bounds the number of symlink indirections resolvePath
// will follow before giving up, matching the common VFS convention
// (Linux's own MAXSYMLINKS is 40; a small embedded volume needs far
// less, so a conservative bound is used here).
const maxSymlinkHops = 16

// resolved names one path component: the inode it names, its parent,
// and the component name within that parent (for rename/unlink).
type resolved struct {
	ino     uint32
	in      inode
	parent  uint32
	pin     inode
	name    string
	isRoot  bool
}

func splitComponents(path string) []string {
	var out []string
	for _, c := range strings.Split(path, "/") {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

func splitParent(path string) (dir, base string) {
	path = strings.TrimRight(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	if i == 0 {
		return "/", path[1:]
	}
	return path[:i], path[i+1:]
}

// resolvePath walks path from the root inode, following every symlink
// it meets, including one named by the final component. Callers that
// act on a final symlink itself (Remove, Readlink) look that component
// up in its parent directory instead.
func (fs *FS) resolvePath(path string) (resolved, error) {
	return fs.resolveFrom(rootInode, path, 0)
}

func (fs *FS) resolveFrom(startIno uint32, path string, hops int) (resolved, error) {
	comps := splitComponents(path)
	curIno := startIno
	curIn, err := fs.readInode(curIno)
	if err != nil {
		return resolved{}, err
	}
	if len(comps) == 0 {
		return resolved{ino: curIno, in: curIn, parent: curIno, pin: curIn, isRoot: true}, nil
	}

	parentIno, parentIn := curIno, curIn
	for i, name := range comps {
		if !parentIn.isDir() {
			return resolved{}, fserr.NotDirectory
		}
		e, _, _, err := fs.dirLookup(&parentIn, name)
		if err != nil {
			return resolved{}, err
		}
		childIno := e.Inode
		childIn, err := fs.readInode(childIno)
		if err != nil {
			return resolved{}, err
		}

		last := i == len(comps)-1
		if childIn.isLink() {
			if hops >= maxSymlinkHops {
				return resolved{}, fserr.Wrap(fserr.InvalidArgument, "ext2: too many levels of symbolic links")
			}
			target, err := fs.readSymlink(childIno, &childIn)
			if err != nil {
				return resolved{}, err
			}
			rest := strings.Join(comps[i+1:], "/")
			base := parentIno
			if strings.HasPrefix(target, "/") {
				base = rootInode
			}
			joined := target
			if rest != "" {
				joined = strings.TrimRight(target, "/") + "/" + rest
			}
			return fs.resolveFrom(base, joined, hops+1)
		}

		if last {
			return resolved{ino: childIno, in: childIn, parent: parentIno, pin: parentIn, name: name,
				isRoot: childIno == rootInode}, nil
		}
		parentIno, parentIn = childIno, childIn
	}
	return resolved{}, fserr.NoEntry // unreachable; comps is non-empty
}

// resolveParent resolves path's containing directory, returning it
// plus the final component name (which need not exist yet — used by
// Mkdir/create/rename's destination side).
func (fs *FS) resolveParent(path string) (uint32, inode, string, error) {
	dir, base := splitParent(path)
	if base == "" {
		return 0, inode{}, "", fserr.InvalidArgument
	}
	if dir == "" {
		dir = "/"
	}
	r, err := fs.resolvePath(dir)
	if err != nil {
		return 0, inode{}, "", err
	}
	if !r.in.isDir() {
		return 0, inode{}, "", fserr.NotDirectory
	}
	return r.ino, r.in, base, nil
}
