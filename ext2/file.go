package ext2

import (
	"errors"
	"io"
	"time"

	"github.com/kosfs/kosfs/fserr"
)

// OpenFlags mirrors the POSIX open(2) flag bits the fat package's File
// type already exposes, since both engines are driven through the same
// vfs surface.
type OpenFlags uint32

const (
	O_RDONLY    OpenFlags = 0
	O_WRONLY    OpenFlags = 1
	O_RDWR      OpenFlags = 2
	accessMask  OpenFlags = 0x3
	O_CREATE    OpenFlags = 1 << 4
	O_EXCL      OpenFlags = 1 << 5
	O_TRUNC     OpenFlags = 1 << 6
	O_APPEND    OpenFlags = 1 << 7
	O_DIRECTORY OpenFlags = 1 << 8
)

// File is one open file handle.
type File struct {
	fs        *FS
	ino       uint32
	parent    uint32
	name      string
	isDir     bool
	size      uint64
	pos       int64
	writable  bool
	metaDirty bool
}

func (fs *FS) trackOpen(f *File) {
	if fs.openFiles == nil {
		fs.openFiles = make(map[*File]struct{})
	}
	fs.openFiles[f] = struct{}{}
}

func (fs *FS) forgetHandle(f *File) {
	delete(fs.openFiles, f)
}

// busy reports whether any open handle refers to ino, used to reject
// rmdir/unlink/rename on an in-use inode.
func (fs *FS) busy(ino uint32) bool {
	for f := range fs.openFiles {
		if f.ino == ino {
			return true
		}
	}
	return false
}

// Open resolves path and returns a handle for it, creating the file
// when O_CREATE is set and it does not already exist.
func (fs *FS) Open(path string, flags OpenFlags) (*File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	want := flags & accessMask
	if want != O_RDONLY && fs.readOnly {
		return nil, fserr.ReadOnlyFilesystem
	}

	r, err := fs.resolvePath(path)
	switch {
	case err == nil:
		if flags&O_EXCL != 0 {
			return nil, fserr.Exists
		}
		if r.in.isDir() && flags&O_DIRECTORY == 0 && want != O_RDONLY {
			return nil, fserr.IsDirectory
		}
		f := fs.openHandle(r, want != O_RDONLY)
		if flags&O_TRUNC != 0 && !f.isDir && f.writable {
			if err := fs.truncateHandle(f, 0); err != nil {
				fs.forgetHandle(f)
				return nil, err
			}
		}
		if flags&O_APPEND != 0 {
			f.pos = int64(f.size)
		}
		return f, nil

	case errors.Is(err, fserr.NoEntry):
		if flags&O_CREATE == 0 {
			return nil, fserr.NoEntry
		}
		if fs.readOnly {
			return nil, fserr.ReadOnlyFilesystem
		}
		parentIno, parentIn, name, perr := fs.resolveParent(path)
		if perr != nil {
			return nil, perr
		}
		ino, cerr := fs.createInode(parentIno, &parentIn, name, modeReg|defaultFile, ftRegular)
		if cerr != nil {
			return nil, cerr
		}
		f := &File{fs: fs, ino: ino, parent: parentIno, name: name, writable: true}
		fs.trackOpen(f)
		return f, nil

	default:
		return nil, err
	}
}

func (fs *FS) openHandle(r resolved, writable bool) *File {
	f := &File{
		fs: fs, ino: r.ino, parent: r.parent, name: r.name,
		isDir: r.in.isDir(), size: r.in.Size, writable: writable && !fs.readOnly,
	}
	fs.trackOpen(f)
	return f
}

// Close releases a handle, flushing its metadata first if metaDirty is
// set. Write stores size and mtime in the inode itself and leaves
// metaDirty clear.
func (fs *FS) Close(f *File) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.openFiles[f]; !ok {
		return fserr.BadFileDescriptor
	}
	var err error
	if f.metaDirty {
		err = fs.flushMeta(f)
	}
	fs.forgetHandle(f)
	return err
}

func (fs *FS) flushMeta(f *File) error {
	in, err := fs.readInode(f.ino)
	if err != nil {
		return err
	}
	in.Size = f.size
	in.MTime = unixTime(fs.now())
	return fs.writeInode(f.ino, &in)
}

// createInode allocates a new inode of the given mode/file-type,
// zeroes its block map, links it into parentIn under name, and returns
// its number.
func (fs *FS) createInode(parentIno uint32, parentIn *inode, name string, mode uint16, fileType uint8) (uint32, error) {
	if _, _, _, err := fs.dirLookup(parentIn, name); err == nil {
		return 0, fserr.Exists
	}
	g := fs.groupOfInode(parentIno)
	ino, err := fs.allocInode(g, mode&modeFmt == modeDir)
	if err != nil {
		return 0, err
	}
	now := unixTime(fs.now())
	in := inode{Mode: mode, LinksCount: 1, CTime: now, MTime: now, ATime: now}
	if err := fs.writeInode(ino, &in); err != nil {
		fs.freeInode(ino, false)
		return 0, err
	}
	if err := fs.dirAddEntry(parentIno, parentIn, name, ino, fileType); err != nil {
		fs.freeInode(ino, false)
		return 0, err
	}
	if err := fs.writeInode(parentIno, parentIn); err != nil {
		return 0, err
	}
	return ino, nil
}

// Read fills buf from the file's current position and advances it.
func (fs *FS) Read(f *File, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f.isDir {
		return 0, fserr.IsDirectory
	}
	if uint64(f.pos) >= f.size {
		return 0, io.EOF
	}
	remaining := f.size - uint64(f.pos)
	if uint64(len(buf)) > remaining {
		buf = buf[:remaining]
	}

	in, err := fs.readInode(f.ino)
	if err != nil {
		return 0, err
	}

	bs := int64(fs.blockSize)
	n := 0
	for n < len(buf) {
		idx := uint32((f.pos + int64(n)) / bs)
		off := int((f.pos + int64(n)) % bs)
		block, err := fs.blockAt(&in, idx)
		if err != nil {
			return n, err
		}
		want := len(buf) - n
		if want > fs.blockSize-off {
			want = fs.blockSize - off
		}
		if block == 0 {
			for i := 0; i < want; i++ {
				buf[n+i] = 0
			}
		} else {
			data, err := fs.blockCache.Get(int64(block))
			if err != nil {
				return n, err
			}
			copy(buf[n:n+want], data[off:off+want])
		}
		n += want
	}
	f.pos += int64(n)
	return n, nil
}

// Write stores buf at the file's current position, extending the block
// map and recorded size as needed.
func (fs *FS) Write(f *File, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f.isDir {
		return 0, fserr.IsDirectory
	}
	if !f.writable {
		return 0, fserr.ReadOnlyFilesystem
	}
	if len(buf) == 0 {
		return 0, nil
	}

	in, err := fs.readInode(f.ino)
	if err != nil {
		return 0, err
	}
	g := fs.groupOfInode(f.ino)

	bs := int64(fs.blockSize)
	n := 0
	for n < len(buf) {
		idx := uint32((f.pos + int64(n)) / bs)
		off := int((f.pos + int64(n)) % bs)
		block, err := fs.ensureBlockAt(&in, idx, g)
		if err != nil {
			return n, err
		}
		want := len(buf) - n
		if want > fs.blockSize-off {
			want = fs.blockSize - off
		}
		data, err := fs.blockCache.Get(int64(block))
		if err != nil {
			return n, err
		}
		copy(data[off:off+want], buf[n:n+want])
		if err := fs.blockCache.MarkDirty(int64(block)); err != nil {
			return n, err
		}
		n += want
	}
	f.pos += int64(n)
	if uint64(f.pos) > f.size {
		f.size = uint64(f.pos)
	}
	in.Size = f.size
	in.MTime = unixTime(fs.now())
	if err := fs.writeInode(f.ino, &in); err != nil {
		return n, err
	}
	f.metaDirty = false
	return n, nil
}

// Seek repositions a handle. whence follows io.Seeker's convention.
func (fs *FS) Seek(f *File, offset int64, whence int) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.pos
	case io.SeekEnd:
		base = int64(f.size)
	default:
		return 0, fserr.InvalidArgument
	}
	pos := base + offset
	if pos < 0 {
		return 0, fserr.InvalidArgument
	}
	f.pos = pos
	return pos, nil
}

// Tell returns a handle's current position.
func (fs *FS) Tell(f *File) int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return f.pos
}

func (fs *FS) truncateHandle(f *File, size uint64) error {
	if size != 0 {
		return fserr.NotSupported
	}
	in, err := fs.readInode(f.ino)
	if err != nil {
		return err
	}
	if err := fs.freeInodeBlocks(&in); err != nil {
		return err
	}
	in.Size = 0
	in.MTime = unixTime(fs.now())
	if err := fs.writeInode(f.ino, &in); err != nil {
		return err
	}
	f.size = 0
	f.pos = 0
	return nil
}

// Stat describes a file or directory's metadata.
type Stat struct {
	Size      int64
	IsDir     bool
	ModTime   time.Time
	Blocks    int64
	BlockSize int
}

// Stat resolves path (following symlinks) and reports its metadata.
func (fs *FS) Stat(path string) (Stat, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	r, err := fs.resolvePath(path)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		Size:      int64(r.in.Size),
		IsDir:     r.in.isDir(),
		ModTime:   time.Unix(int64(r.in.MTime), 0).UTC(),
		Blocks:    int64(r.in.Blocks),
		BlockSize: fs.blockSize,
	}, nil
}
