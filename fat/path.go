package fat

import (
	"github.com/kosfs/kosfs/fserr"
	"github.com/kosfs/kosfs/ucs2"
)

// resolved describes one path lookup's result: the matched entry
// (meaningless when isRoot) and, if it is itself a directory, the
// location of its contents for a further lookup or a readdir call.
type resolved struct {
	isRoot   bool
	dirent   shortDirent
	eLoc     entryLoc
	childLoc dirLoc
}

func (r *resolved) isDir() bool { return r.isRoot || r.dirent.isDir() }

// resolvePath walks path component by component from the root. It
// returns fserr.NotDirectory as soon as a non-final component turns
// out not to be a directory, and fserr.NoEntry the first time a
// component is missing.
func (fs *FS) resolvePath(path string) (resolved, error) {
	cur := resolved{isRoot: true, childLoc: fs.rootDirLoc()}
	for _, name := range ucs2.SplitComponents(path) {
		if !cur.isDir() {
			return resolved{}, fserr.NotDirectory
		}
		d, eLoc, err := fs.lookup(cur.childLoc, name)
		if err != nil {
			return resolved{}, err
		}
		cur = resolved{dirent: d, eLoc: eLoc}
		if d.isDir() {
			cur.childLoc = clusterDirLoc(d.fstClus)
		}
	}
	return cur, nil
}

// resolveParent resolves path's parent directory and returns it along
// with the final path component, failing with NotDirectory/NoEntry the
// same way resolvePath does for the ancestor components.
func (fs *FS) resolveParent(path string) (dirLoc, string, error) {
	parent, base := ucs2.SplitParent(path)
	if base == "" {
		return dirLoc{}, "", fserr.InvalidArgument
	}
	if parent == "" {
		return fs.rootDirLoc(), base, nil
	}
	r, err := fs.resolvePath(parent)
	if err != nil {
		return dirLoc{}, "", err
	}
	if !r.isDir() {
		return dirLoc{}, "", fserr.NotDirectory
	}
	return r.childLoc, base, nil
}
