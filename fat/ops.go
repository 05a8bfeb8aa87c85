package fat

import "github.com/kosfs/kosfs/fserr"

// ReadDir lists the members of the directory at path.
func (fs *FS) ReadDir(path string) ([]DirEntry, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	r, err := fs.resolvePath(path)
	if err != nil {
		return nil, err
	}
	if !r.isDir() {
		return nil, fserr.NotDirectory
	}
	return fs.readdir(r.childLoc)
}

// Mkdir creates an empty directory at path.
func (fs *FS) Mkdir(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}
	parentLoc, name, err := fs.resolveParent(path)
	if err != nil {
		return err
	}
	if _, _, err := fs.lookup(parentLoc, name); err == nil {
		return fserr.Exists
	}

	cluster, err := fs.allocateCluster()
	if err != nil {
		return err
	}
	parentCluster := parentLoc.firstCluster // 0 for the raw FAT12/16 root, matching the FAT32 root's own "no parent cluster" convention
	if err := fs.initSubdirCluster(cluster, parentCluster, fs.now()); err != nil {
		fs.freeChain(cluster)
		return err
	}
	if _, err := fs.addEntry(parentLoc, name, attrDirectory, cluster, 0, fs.now()); err != nil {
		fs.freeChain(cluster)
		return err
	}
	return nil
}

// Rmdir removes an empty directory: one that contains only "." and "..".
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
	if !r.dirent.isDir() {
		return fserr.NotDirectory
	}
	if fs.busy(r.eLoc) {
		return fserr.Busy
	}
	empty, err := fs.isDirEmpty(r.dirent.fstClus)
	if err != nil {
		return err
	}
	if !empty {
		return fserr.NotEmpty
	}
	if err := fs.freeChain(r.dirent.fstClus); err != nil {
		return err
	}
	return fs.removeEntry(r.eLoc)
}

// Remove unlinks a regular file.
func (fs *FS) Remove(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}
	r, err := fs.resolvePath(path)
	if err != nil {
		return err
	}
	if r.isRoot || r.dirent.isDir() {
		return fserr.IsDirectory
	}
	if fs.busy(r.eLoc) {
		return fserr.Busy
	}
	if r.dirent.fstClus >= firstDataCluster {
		if err := fs.freeChain(r.dirent.fstClus); err != nil {
			return err
		}
	}
	return fs.removeEntry(r.eLoc)
}

// Rename moves or renames a file or directory, rejecting the move if
// newPath already exists or if it names a descendant of oldPath (which
// would otherwise detach oldPath's subtree from the root by relinking
// it under itself).
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
	if fs.busy(old.eLoc) {
		return fserr.Busy
	}

	newParentLoc, newName, err := fs.resolveParent(newPath)
	if err != nil {
		return err
	}
	if _, _, err := fs.lookup(newParentLoc, newName); err == nil {
		return fserr.Exists
	}

	if old.dirent.isDir() {
		isDescendant, err := fs.clusterIsAncestor(old.dirent.fstClus, newParentLoc)
		if err != nil {
			return err
		}
		if isDescendant {
			return fserr.InvalidArgument
		}
	}

	newLoc, err := fs.addEntry(newParentLoc, newName, old.dirent.attr, old.dirent.fstClus, old.dirent.fileSize, fs.now())
	if err != nil {
		return err
	}
	if err := fs.removeEntry(old.eLoc); err != nil {
		fs.removeEntry(newLoc)
		return err
	}
	if old.dirent.isDir() {
		if err := fs.fixUpParentLink(old.dirent.fstClus, newParentLoc.firstCluster); err != nil {
			return err
		}
	}
	return nil
}

// clusterIsAncestor reports whether candidate (a directory cluster) is
// newParentLoc itself or one of its ancestors, by chasing ".." entries
// up to the root. Used to reject a rename that would move a directory
// into its own descendant, the same "dir vs non-descendant-of-itself"
// invariant the ext2 engine's rename enforces.
func (fs *FS) clusterIsAncestor(candidate uint32, newParentLoc dirLoc) (bool, error) {
	if newParentLoc.raw {
		return false, nil // the root has no ".." to chase past
	}
	cluster := newParentLoc.firstCluster
	for {
		if cluster == candidate {
			return true, nil
		}
		if fs.fsType == FAT32 && cluster == fs.rootCluster {
			return false, nil // the FAT32 root has no ".." either
		}
		d, _, err := fs.lookup(clusterDirLoc(cluster), "..")
		if err != nil {
			return false, err
		}
		if d.fstClus == cluster || d.fstClus == 0 {
			return false, nil
		}
		cluster = d.fstClus
	}
}

// fixUpParentLink rewrites a moved directory's ".." entry to point at
// its new parent.
func (fs *FS) fixUpParentLink(dirCluster, newParentCluster uint32) error {
	d, eLoc, err := fs.lookup(clusterDirLoc(dirCluster), "..")
	if err != nil {
		return err
	}
	d.fstClus = newParentCluster
	return fs.writeShortDirent(eLoc, &d)
}

// Symlink, Link and Readlink are not part of the FAT on-disk format;
// FAT has no notion of a link record.
func (fs *FS) Symlink(string, string) error    { return fserr.NotSupported }
func (fs *FS) Link(string, string) error       { return fserr.NotSupported }
func (fs *FS) Readlink(string) (string, error) { return "", fserr.NotSupported }
