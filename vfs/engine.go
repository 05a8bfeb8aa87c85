// Package vfs generalizes the single-engine "one package-level FS"
// surface both the fat and ext2 packages expose on their own into a
// mount-table-driven surface spanning any number of simultaneously
// mounted volumes of either kind.
//
// Neither engine's own File/Stat/DirEntry/OpenFlags types can satisfy a
// shared interface directly — Go has no covariant return types, and
// fat.FS and ext2.FS each return their own concrete structs from Open/
// Stat/ReadDir. Engine wraps each concrete engine behind a handle
// boxed as Handle and translates between the engine's own types and
// this package's.
package vfs

import "time"

// OpenFlags mirrors the POSIX open(2) bits fat.OpenFlags and
// ext2.OpenFlags already use; the three types share a bit layout so
// translation at the engine boundary is a straight conversion.
type OpenFlags uint32

const (
	O_RDONLY    OpenFlags = 0
	O_WRONLY    OpenFlags = 1
	O_RDWR      OpenFlags = 2
	O_CREATE    OpenFlags = 1 << 4
	O_EXCL      OpenFlags = 1 << 5
	O_TRUNC     OpenFlags = 1 << 6
	O_APPEND    OpenFlags = 1 << 7
	O_DIRECTORY OpenFlags = 1 << 8
)

// Stat describes a file or directory's metadata, independent of which
// engine produced it.
type Stat struct {
	Size      int64
	IsDir     bool
	ModTime   time.Time
	Blocks    int64 // 512-byte units, matching st_blocks
	BlockSize int
}

// DirEntry is one member of a directory listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Handle is an opaque open-file reference. Its concrete type is
// private to the engine that produced it; callers pass it back
// unmodified to Read/Write/Seek/Tell/Close.
type Handle interface{}

// Engine is the uniform surface a mounted volume exposes to the mount
// table, implemented by the fatEngine and ext2Engine adapters in this
// package. Path arguments are already relative to the volume's own
// root (the mount table strips the mount-point prefix before calling
// through).
type Engine interface {
	ReadOnly() bool
	Sync() error
	Unmount() error

	Open(path string, flags OpenFlags) (Handle, error)
	Close(h Handle) error
	Read(h Handle, buf []byte) (int, error)
	Write(h Handle, buf []byte) (int, error)
	Seek(h Handle, offset int64, whence int) (int64, error)
	Tell(h Handle) int64

	ReadDir(path string) ([]DirEntry, error)
	Mkdir(path string) error
	Rmdir(path string) error
	Remove(path string) error
	Rename(oldPath, newPath string) error
	Symlink(target, linkPath string) error
	Readlink(path string) (string, error)
	Link(oldPath, newPath string) error
	Stat(path string) (Stat, error)
}
