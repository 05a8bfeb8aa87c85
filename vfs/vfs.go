package vfs

import (
	"sync"

	"github.com/kosfs/kosfs/blockdev"
	"github.com/kosfs/kosfs/fserr"
)

// VFS is the host-facing uniform filesystem API: a single
// mutex-guarded object fanning every call out to whichever engine owns
// the longest matching mount-point prefix. Each engine keeps its own
// internal open-file table and enforces its own busy-handle rules;
// VFS additionally remembers each handle's owning engine and original
// path so Fstat can resolve metadata without the engine needing a
// stat-by-handle method of its own.
type VFS struct {
	mt *MountTable

	mu      sync.Mutex
	handles map[Handle]openHandle
}

type openHandle struct {
	engine Engine
	path   string
	flags  OpenFlags
}

// FcntlCmd selects the operation Fcntl performs: GETFL/SETFL/GETFD/SETFD
// minimal flag introspection. Neither engine stores a close-on-exec bit
// or lets the access mode change after open, so GETFD always reports 0
// and SETFD/SETFL are no-ops that succeed without altering anything but
// are kept as distinct commands rather than folded into GETFL, so a
// caller's intent is still visible in a trace of its calls.
type FcntlCmd int

const (
	FcntlGetFL FcntlCmd = iota
	FcntlSetFL
	FcntlGetFD
	FcntlSetFD
)

// Fcntl reports or (as a no-op) accepts a handle's flags.
func (v *VFS) Fcntl(h Handle, cmd FcntlCmd, arg OpenFlags) (OpenFlags, error) {
	v.mu.Lock()
	oh, ok := v.handles[h]
	v.mu.Unlock()
	if !ok {
		return 0, fserr.BadFileDescriptor
	}
	switch cmd {
	case FcntlGetFL:
		return oh.flags, nil
	case FcntlSetFL, FcntlSetFD:
		return 0, nil
	case FcntlGetFD:
		return 0, nil
	default:
		return 0, fserr.InvalidArgument
	}
}

// New returns an empty VFS with no volumes mounted.
func New() *VFS {
	return &VFS{mt: NewMountTable(), handles: make(map[Handle]openHandle)}
}

// Mount mounts the filesystem already on dev per opts and grafts it
// onto the namespace at path.
func (v *VFS) Mount(path string, dev blockdev.Device, opts MountOptions) error {
	return v.mt.Mount(path, dev, opts)
}

// Unmount flushes and releases the volume mounted exactly at path.
func (v *VFS) Unmount(path string) error {
	return v.mt.Unmount(path)
}

// Sync flushes every mounted volume.
func (v *VFS) Sync() error { return v.mt.Sync() }

// Close unmounts every volume still mounted, ignoring open handles
// left dangling on them: unmounting with open handles still outstanding
// is a caller error but is not itself prevented.
func (v *VFS) Close() error { return v.mt.UnmountAll() }

// Open resolves path against the mount table and opens it on the
// owning engine.
func (v *VFS) Open(path string, flags OpenFlags) (Handle, error) {
	eng, rel, err := v.mt.resolve(path)
	if err != nil {
		return nil, err
	}
	h, err := eng.Open(rel, flags)
	if err != nil {
		return nil, err
	}
	v.mu.Lock()
	v.handles[h] = openHandle{engine: eng, path: path, flags: flags}
	v.mu.Unlock()
	return h, nil
}

func (v *VFS) lookup(h Handle) (Engine, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	oh, ok := v.handles[h]
	return oh.engine, ok
}

// CloseHandle releases an open handle (named distinctly from the
// VFS-wide Close, which unmounts every volume).
func (v *VFS) CloseHandle(h Handle) error {
	eng, ok := v.lookup(h)
	if !ok {
		return fserr.BadFileDescriptor
	}
	err := eng.Close(h)
	v.mu.Lock()
	delete(v.handles, h)
	v.mu.Unlock()
	return err
}

// Read reads from an open handle.
func (v *VFS) Read(h Handle, buf []byte) (int, error) {
	eng, ok := v.lookup(h)
	if !ok {
		return 0, fserr.BadFileDescriptor
	}
	return eng.Read(h, buf)
}

// Write writes to an open handle.
func (v *VFS) Write(h Handle, buf []byte) (int, error) {
	eng, ok := v.lookup(h)
	if !ok {
		return 0, fserr.BadFileDescriptor
	}
	return eng.Write(h, buf)
}

// Seek repositions an open handle.
func (v *VFS) Seek(h Handle, offset int64, whence int) (int64, error) {
	eng, ok := v.lookup(h)
	if !ok {
		return 0, fserr.BadFileDescriptor
	}
	return eng.Seek(h, offset, whence)
}

// Tell returns an open handle's current position.
func (v *VFS) Tell(h Handle) (int64, error) {
	eng, ok := v.lookup(h)
	if !ok {
		return 0, fserr.BadFileDescriptor
	}
	return eng.Tell(h), nil
}

// Total reports an open handle's total file size in bytes, taken from
// Fstat(h).Size, for callers that only want the one field.
func (v *VFS) Total(h Handle) (int64, error) {
	st, err := v.Fstat(h)
	if err != nil {
		return 0, err
	}
	return st.Size, nil
}

// Fstat reports the metadata of an already-open handle's path, as
// last resolved at Open time (this engine generation does not track
// renames of a still-open handle onto the handle itself, matching
// fat.FS's own detached-directory-entry handle model).
func (v *VFS) Fstat(h Handle) (Stat, error) {
	v.mu.Lock()
	oh, ok := v.handles[h]
	v.mu.Unlock()
	if !ok {
		return Stat{}, fserr.BadFileDescriptor
	}
	return oh.engine.Stat(oh.path)
}

// ReadDir lists the members of the directory at path.
func (v *VFS) ReadDir(path string) ([]DirEntry, error) {
	eng, rel, err := v.mt.resolve(path)
	if err != nil {
		return nil, err
	}
	return eng.ReadDir(rel)
}

// Mkdir creates an empty directory at path.
func (v *VFS) Mkdir(path string) error {
	eng, rel, err := v.mt.resolve(path)
	if err != nil {
		return err
	}
	return eng.Mkdir(rel)
}

// Rmdir removes an empty directory.
func (v *VFS) Rmdir(path string) error {
	eng, rel, err := v.mt.resolve(path)
	if err != nil {
		return err
	}
	return eng.Rmdir(rel)
}

// Remove (unlink) removes a non-directory file.
func (v *VFS) Remove(path string) error {
	eng, rel, err := v.mt.resolve(path)
	if err != nil {
		return err
	}
	return eng.Remove(rel)
}

// Rename moves oldPath to newPath. Both paths must resolve to the same
// mounted volume; spanning two volumes is rejected with CrossDevice
// since no engine supports a cross-volume atomic rename.
func (v *VFS) Rename(oldPath, newPath string) error {
	oldEng, oldRel, err := v.mt.resolve(oldPath)
	if err != nil {
		return err
	}
	newEng, newRel, err := v.mt.resolve(newPath)
	if err != nil {
		return err
	}
	if oldEng != newEng {
		return fserr.CrossDevice
	}
	return oldEng.Rename(oldRel, newRel)
}

// Symlink creates a symbolic link (ext2 only; fat.FS returns
// NotSupported, surfaced unchanged).
func (v *VFS) Symlink(target, linkPath string) error {
	eng, rel, err := v.mt.resolve(linkPath)
	if err != nil {
		return err
	}
	return eng.Symlink(target, rel)
}

// Readlink returns a symlink's raw target text.
func (v *VFS) Readlink(path string) (string, error) {
	eng, rel, err := v.mt.resolve(path)
	if err != nil {
		return "", err
	}
	return eng.Readlink(rel)
}

// Link creates a hard link; both paths must resolve to the same
// volume for the same CrossDevice reason as Rename.
func (v *VFS) Link(oldPath, newPath string) error {
	oldEng, oldRel, err := v.mt.resolve(oldPath)
	if err != nil {
		return err
	}
	newEng, newRel, err := v.mt.resolve(newPath)
	if err != nil {
		return err
	}
	if oldEng != newEng {
		return fserr.CrossDevice
	}
	return oldEng.Link(oldRel, newRel)
}

// Stat resolves path and reports its metadata.
func (v *VFS) Stat(path string) (Stat, error) {
	eng, rel, err := v.mt.resolve(path)
	if err != nil {
		return Stat{}, err
	}
	return eng.Stat(rel)
}
