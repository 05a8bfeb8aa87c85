package ext2

import "github.com/kosfs/kosfs/fserr"

// DirEntry describes one directory member returned by ReadDir.
type DirEntry struct {
	Name  string
	IsDir bool
	Inode uint32
}

// ReadDir lists the members of the directory at path, omitting "." and
// "..".
func (fs *FS) ReadDir(path string) ([]DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	r, err := fs.resolvePath(path)
	if err != nil {
		return nil, err
	}
	if !r.in.isDir() {
		return nil, fserr.NotDirectory
	}
	var out []DirEntry
	err = fs.forEachDirent(&r.in, func(_ uint32, _ int, e dirEntry) (bool, error) {
		if e.Name == "." || e.Name == ".." {
			return false, nil
		}
		out = append(out, DirEntry{Name: e.Name, IsDir: e.FileType == ftDir, Inode: e.Inode})
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Mkdir creates an empty directory at path.
func (fs *FS) Mkdir(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}
	parentIno, parentIn, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	if _, _, _, err := fs.dirLookup(&parentIn, name); err == nil {
		return fserr.Exists
	}

	g := fs.groupOfInode(parentIno)
	ino, err := fs.allocInode(g, true)
	if err != nil {
		return err
	}
	now := unixTime(fs.now())
	in := inode{Mode: modeDir | defaultPerm, CTime: now, MTime: now, ATime: now}
	if err := fs.dirCreateEmpty(ino, &in, parentIno); err != nil {
		fs.freeInode(ino, true)
		return err
	}
	if err := fs.writeInode(ino, &in); err != nil {
		fs.freeInodeBlocks(&in)
		fs.freeInode(ino, true)
		return err
	}
	if err := fs.dirAddEntry(parentIno, &parentIn, name, ino, ftDir); err != nil {
		fs.freeInodeBlocks(&in)
		fs.freeInode(ino, true)
		return err
	}
	parentIn.LinksCount++ // the new subdirectory's ".." points back here
	if err := fs.writeInode(parentIno, &parentIn); err != nil {
		return err
	}
	return nil
}

// Rmdir removes an empty directory.
func (fs *FS) Rmdir(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}
	r, err := fs.resolvePath(path)
	if err != nil {
		return err
	}
	if r.isRoot {
		return fserr.InvalidArgument
	}
	if !r.in.isDir() {
		return fserr.NotDirectory
	}
	if fs.busy(r.ino) {
		return fserr.Busy
	}
	empty, err := fs.dirIsEmpty(&r.in)
	if err != nil {
		return err
	}
	if !empty {
		return fserr.NotEmpty
	}
	if err := fs.freeInodeBlocks(&r.in); err != nil {
		return err
	}
	r.in.LinksCount = 0
	r.in.DTime = unixTime(fs.now())
	if err := fs.writeInode(r.ino, &r.in); err != nil {
		return err
	}
	if err := fs.freeInode(r.ino, true); err != nil {
		return err
	}
	if err := fs.dirRemoveEntry(&r.pin, r.name); err != nil {
		return err
	}
	r.pin.LinksCount--
	return fs.writeInode(r.parent, &r.pin)
}

// Remove unlinks a non-directory file.
func (fs *FS) Remove(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}
	parentIno, parentIn, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	e, _, _, err := fs.dirLookup(&parentIn, name)
	if err != nil {
		return err
	}
	in, err := fs.readInode(e.Inode)
	if err != nil {
		return err
	}
	r := resolved{ino: e.Inode, in: in, parent: parentIno, pin: parentIn, name: name}
	if r.in.isDir() {
		return fserr.IsDirectory
	}
	if fs.busy(r.ino) {
		return fserr.Busy
	}
	if err := fs.dirRemoveEntry(&r.pin, r.name); err != nil {
		return err
	}
	if r.in.LinksCount > 0 {
		r.in.LinksCount--
	}
	if r.in.LinksCount == 0 {
		if err := fs.freeInodeBlocks(&r.in); err != nil {
			return err
		}
		r.in.DTime = unixTime(fs.now())
		if err := fs.writeInode(r.ino, &r.in); err != nil {
			return err
		}
		if err := fs.freeInode(r.ino, false); err != nil {
			return err
		}
	} else if err := fs.writeInode(r.ino, &r.in); err != nil {
		return err
	}
	return fs.writeInode(r.parent, &r.pin)
}

// Rename moves or renames a file or directory. An existing newPath is
// replaced when its type matches (an empty directory for a directory,
// a non-directory for a file). It rejects the move if newPath names a
// descendant of oldPath, the ancestor-walk check fs_ext2.c's int_rename
// also performs, and
// avoids fs_ext2.c's known bug of re-locking (instead of unlocking) the
// filesystem mutex on its error-return path, by construction: every
// exit here runs through the deferred fs.mu.Unlock() set up once at the
// top of the call.
func (fs *FS) Rename(oldPath, newPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}

	old, err := fs.resolvePath(oldPath)
	if err != nil {
		return err
	}
	if old.isRoot {
		return fserr.InvalidArgument
	}
	if fs.busy(old.ino) {
		return fserr.Busy
	}

	newParentIno, newParentIn, newName, err := fs.resolveParent(newPath)
	if err != nil {
		return err
	}
	existing, _, _, lookupErr := fs.dirLookup(&newParentIn, newName)
	destExists := lookupErr == nil
	if destExists && existing.Inode == old.ino {
		// oldPath and newPath already name the same inode (e.g. a
		// no-op rename, or onto a hard link of itself): nothing to do.
		return nil
	}
	var existingIn inode
	if destExists {
		existingIn, err = fs.readInode(existing.Inode)
		if err != nil {
			return err
		}
		if fs.busy(existing.Inode) {
			return fserr.Busy
		}
		if old.in.isDir() {
			if !existingIn.isDir() {
				return fserr.NotDirectory
			}
			empty, err := fs.dirIsEmpty(&existingIn)
			if err != nil {
				return err
			}
			if !empty {
				return fserr.NotEmpty
			}
		} else if existingIn.isDir() {
			return fserr.IsDirectory
		}
	}

	if old.in.isDir() {
		isDescendant, err := fs.inodeIsAncestor(old.ino, newParentIno)
		if err != nil {
			return err
		}
		if isDescendant {
			return fserr.InvalidArgument
		}
	}

	fileType := fileTypeForMode(old.in.Mode)
	if destExists {
		// Overwrite in place: the slot already named newName, now it
		// points at old.ino instead. A replaced directory's own ".."
		// link to newParentIno is removed below and old.ino's ".." link
		// to newParentIno is added further down, so newParentIn's own
		// link count is unaffected either way.
		if err := fs.dirRedirEntry(&newParentIn, newName, old.ino, fileType); err != nil {
			return err
		}
	} else {
		if err := fs.dirAddEntry(newParentIno, &newParentIn, newName, old.ino, fileType); err != nil {
			return err
		}
		if old.in.isDir() {
			newParentIn.LinksCount++
		}
	}
	if err := fs.writeInode(newParentIno, &newParentIn); err != nil {
		return err
	}

	if destExists {
		if existingIn.isDir() {
			if err := fs.freeInodeBlocks(&existingIn); err != nil {
				return err
			}
			existingIn.LinksCount = 0
			existingIn.DTime = unixTime(fs.now())
			if err := fs.writeInode(existing.Inode, &existingIn); err != nil {
				return err
			}
			if err := fs.freeInode(existing.Inode, true); err != nil {
				return err
			}
		} else {
			if existingIn.LinksCount > 0 {
				existingIn.LinksCount--
			}
			if existingIn.LinksCount == 0 {
				if err := fs.freeInodeBlocks(&existingIn); err != nil {
					return err
				}
				existingIn.DTime = unixTime(fs.now())
				if err := fs.writeInode(existing.Inode, &existingIn); err != nil {
					return err
				}
				if err := fs.freeInode(existing.Inode, false); err != nil {
					return err
				}
			} else if err := fs.writeInode(existing.Inode, &existingIn); err != nil {
				return err
			}
		}
	}

	if err := fs.dirRemoveEntry(&old.pin, old.name); err != nil {
		return err
	}
	if old.in.isDir() && old.parent != newParentIno {
		old.pin.LinksCount--
	}
	if err := fs.writeInode(old.parent, &old.pin); err != nil {
		return err
	}

	if old.in.isDir() && old.parent != newParentIno {
		if err := fs.dirRedirEntry(&old.in, "..", newParentIno, ftDir); err != nil {
			return err
		}
	}
	return nil
}

// inodeIsAncestor reports whether candidate is newParent itself or one
// of its ancestors, by chasing ".." entries up toward the root
// (fs_ext2.c's int_rename performs the equivalent walk before allowing
// a directory move).
func (fs *FS) inodeIsAncestor(candidate, newParent uint32) (bool, error) {
	cur := newParent
	for {
		if cur == candidate {
			return true, nil
		}
		if cur == rootInode {
			return false, nil
		}
		in, err := fs.readInode(cur)
		if err != nil {
			return false, err
		}
		e, _, _, err := fs.dirLookup(&in, "..")
		if err != nil {
			return false, err
		}
		if e.Inode == cur {
			return false, nil
		}
		cur = e.Inode
	}
}

// Symlink creates a symbolic link at linkPath pointing at target.
func (fs *FS) Symlink(target, linkPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}
	parentIno, parentIn, name, err := fs.resolveParent(linkPath)
	if err != nil {
		return err
	}
	if _, _, _, err := fs.dirLookup(&parentIn, name); err == nil {
		return fserr.Exists
	}
	g := fs.groupOfInode(parentIno)
	ino, err := fs.allocInode(g, false)
	if err != nil {
		return err
	}
	now := unixTime(fs.now())
	in := inode{Mode: modeLink | 0777, LinksCount: 1, CTime: now, MTime: now, ATime: now}
	if err := fs.writeSymlink(&in, g, target); err != nil {
		fs.freeInode(ino, false)
		return err
	}
	if err := fs.writeInode(ino, &in); err != nil {
		fs.freeInode(ino, false)
		return err
	}
	if err := fs.dirAddEntry(parentIno, &parentIn, name, ino, ftSymlink); err != nil {
		fs.freeInode(ino, false)
		return err
	}
	return fs.writeInode(parentIno, &parentIn)
}

// Readlink returns a symlink's target text.
func (fs *FS) Readlink(path string) (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, parentIn, name, err := fs.resolveParent(path)
	if err != nil {
		return "", err
	}
	e, _, _, err := fs.dirLookup(&parentIn, name)
	if err != nil {
		return "", err
	}
	if e.FileType != ftSymlink {
		return "", fserr.InvalidArgument
	}
	in, err := fs.readInode(e.Inode)
	if err != nil {
		return "", err
	}
	return fs.readSymlink(e.Inode, &in)
}

// Link creates a hard link at newPath pointing at the inode oldPath
// already names (directories cannot be hard-linked).
func (fs *FS) Link(oldPath, newPath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}
	old, err := fs.resolvePath(oldPath)
	if err != nil {
		return err
	}
	if old.in.isDir() {
		return fserr.IsDirectory
	}
	newParentIno, newParentIn, newName, err := fs.resolveParent(newPath)
	if err != nil {
		return err
	}
	if _, _, _, err := fs.dirLookup(&newParentIn, newName); err == nil {
		return fserr.Exists
	}
	if err := fs.dirAddEntry(newParentIno, &newParentIn, newName, old.ino, fileTypeForMode(old.in.Mode)); err != nil {
		return err
	}
	if err := fs.writeInode(newParentIno, &newParentIn); err != nil {
		return err
	}
	old.in.LinksCount++
	return fs.writeInode(old.ino, &old.in)
}
