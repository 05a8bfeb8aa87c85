package fat

import (
	"errors"
	"io"
	"time"

	"github.com/kosfs/kosfs/fserr"
)

// OpenFlags mirrors the POSIX open(2) flag bits exposed through the
// vfs layer.
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

// File is one open file handle. It is not safe for concurrent use
// directly; all access goes through FS methods, which hold fs.mu.
type File struct {
	fs           *FS
	eLoc         entryLoc
	isDir        bool
	firstCluster uint32
	size         uint32
	pos          int64
	writable     bool
	metaDirty    bool
}

const noEntryLoc = ^uint32(0)

func (fs *FS) trackOpen(f *File) {
	if fs.openFiles == nil {
		fs.openFiles = make(map[*File]struct{})
	}
	fs.openFiles[f] = struct{}{}
}

// busy reports whether any currently open handle refers to the short
// entry at e, used to reject rmdir/unlink/rename on an in-use entry
// with EBUSY.
func (fs *FS) busy(e entryLoc) bool {
	for f := range fs.openFiles {
		if f.eLoc.loc == e.loc && f.eLoc.shortAbs == e.shortAbs {
			return true
		}
	}
	return false
}

// Open resolves path and returns a handle for it, optionally creating
// the file when O_CREATE is set and it does not already exist.
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
		if r.isRoot {
			return fs.openHandle(resolved{isRoot: true, childLoc: fs.rootDirLoc()}, want != O_RDONLY)
		}
		if r.dirent.isDir() && flags&O_DIRECTORY == 0 && want != O_RDONLY {
			return nil, fserr.IsDirectory
		}
		f, err := fs.openHandle(r, want != O_RDONLY)
		if err != nil {
			return nil, err
		}
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
		parentLoc, name, perr := fs.resolveParent(path)
		if perr != nil {
			return nil, perr
		}
		eLoc, cerr := fs.addEntry(parentLoc, name, attrArchive, 0, 0, fs.now())
		if cerr != nil {
			return nil, cerr
		}
		f := &File{fs: fs, eLoc: eLoc, writable: true}
		fs.trackOpen(f)
		return f, nil

	default:
		return nil, err
	}
}

func (fs *FS) openHandle(r resolved, writable bool) (*File, error) {
	f := &File{fs: fs, writable: writable && !fs.readOnly}
	if r.isRoot {
		f.isDir = true
		f.firstCluster = fs.rootCluster
		f.eLoc = entryLoc{loc: fs.rootDirLoc(), shortAbs: noEntryLoc}
	} else {
		f.isDir = r.dirent.isDir()
		f.firstCluster = r.dirent.fstClus
		f.size = r.dirent.fileSize
		f.eLoc = r.eLoc
	}
	fs.trackOpen(f)
	return f, nil
}

func (fs *FS) forgetHandle(f *File) {
	delete(fs.openFiles, f)
}

// Close releases a handle, flushing its metadata if Write changed the
// file's size or first cluster.
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
	if f.isDir || f.eLoc.shortAbs == noEntryLoc {
		return nil
	}
	d, _, err := fs.lookupByLoc(f.eLoc)
	if err != nil {
		return err
	}
	d.fstClus = f.firstCluster
	d.fileSize = f.size
	date, tm := fatDateTime(fs.now())
	d.wrtDate, d.wrtTime = date, tm
	return fs.writeShortDirent(f.eLoc, &d)
}

// lookupByLoc re-reads the short entry a handle already points at,
// used before rewriting its metadata.
func (fs *FS) lookupByLoc(e entryLoc) (shortDirent, entryLoc, error) {
	w, err := fs.newSlotWalker(e.loc)
	if err != nil {
		return shortDirent{}, entryLoc{}, err
	}
	for w.absIdx < e.shortAbs {
		ok, err := w.next()
		if err != nil {
			return shortDirent{}, entryLoc{}, err
		}
		if !ok {
			return shortDirent{}, entryLoc{}, fserr.Wrap(fserr.CorruptFilesystem, "fat: entry vanished")
		}
	}
	return decodeShortDirent(w.slot()), e, nil
}

// Read fills buf from the file's current position and advances it.
func (fs *FS) Read(f *File, buf []byte) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if f.isDir {
		return 0, fserr.IsDirectory
	}
	if f.pos >= int64(f.size) {
		return 0, io.EOF
	}
	remaining := int64(f.size) - f.pos
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	clusterSize := int64(fs.ClusterSize())
	clusterIdx := f.pos / clusterSize
	offInCluster := f.pos % clusterSize

	cluster, err := fs.clusterAt(f.firstCluster, clusterIdx)
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(buf) {
		data, err := fs.dataCache.Get(int64(cluster))
		if err != nil {
			return n, err
		}
		chunk := copy(buf[n:], data[offInCluster:])
		n += chunk
		f.pos += int64(chunk)
		offInCluster = 0
		if n == len(buf) {
			break
		}
		next, err := fs.readEntry(cluster)
		if err != nil {
			return n, err
		}
		if fs.isEOC(next) || next == clusterFree {
			break
		}
		cluster = next
	}
	return n, nil
}

// clusterAt walks the chain starting at first, index clusters forward.
func (fs *FS) clusterAt(first uint32, index int64) (uint32, error) {
	c := first
	for i := int64(0); i < index; i++ {
		next, err := fs.readEntry(c)
		if err != nil {
			return 0, err
		}
		if fs.isEOC(next) || next == clusterFree {
			return 0, fserr.Wrap(fserr.CorruptFilesystem, "fat: short chain")
		}
		c = next
	}
	return c, nil
}

// Write stores buf at the file's current position, extending the
// cluster chain and the recorded file size as needed.
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

	clusterSize := int64(fs.ClusterSize())
	if f.firstCluster < firstDataCluster {
		c, err := fs.allocateCluster()
		if err != nil {
			return 0, err
		}
		if _, err := fs.dataCache.GetCleared(int64(c)); err != nil {
			return 0, err
		}
		f.firstCluster = c
		f.metaDirty = true
	}

	clusterIdx := f.pos / clusterSize
	offInCluster := f.pos % clusterSize

	cluster, err := fs.growChainTo(f.firstCluster, clusterIdx)
	if err != nil {
		return 0, err
	}

	n := 0
	for n < len(buf) {
		var data []byte
		if offInCluster == 0 && int64(len(buf)-n) >= clusterSize {
			data, err = fs.dataCache.GetCleared(int64(cluster))
		} else {
			data, err = fs.dataCache.Get(int64(cluster))
		}
		if err != nil {
			return n, err
		}
		chunk := copy(data[offInCluster:], buf[n:])
		if err := fs.dataCache.MarkDirty(int64(cluster)); err != nil {
			return n, err
		}
		n += chunk
		f.pos += int64(chunk)
		offInCluster = 0
		if n == len(buf) {
			break
		}
		next, err := fs.appendCluster(cluster)
		if err != nil {
			return n, err
		}
		cluster = next
	}

	if uint32(f.pos) > f.size {
		f.size = uint32(f.pos)
		f.metaDirty = true
	}
	return n, nil
}

// growChainTo walks (allocating as needed) to the index-th cluster in
// first's chain.
func (fs *FS) growChainTo(first uint32, index int64) (uint32, error) {
	c := first
	for i := int64(0); i < index; i++ {
		next, err := fs.readEntry(c)
		if err != nil {
			return 0, err
		}
		if fs.isEOC(next) || next == clusterFree {
			next, err = fs.appendCluster(c)
			if err != nil {
				return 0, err
			}
		}
		c = next
	}
	return c, nil
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

func (fs *FS) truncateHandle(f *File, size uint32) error {
	if size != 0 {
		return fserr.NotSupported
	}
	if f.firstCluster >= firstDataCluster {
		if err := fs.freeChain(f.firstCluster); err != nil {
			return err
		}
	}
	f.firstCluster = 0
	f.size = 0
	f.pos = 0
	f.metaDirty = true
	return nil
}

// Stat describes a file or directory's metadata, independent of how
// the underlying engine represents it.
type Stat struct {
	Size      int64
	IsDir     bool
	ModTime   time.Time
	Blocks    int64
	BlockSize int
}

// Stat resolves path and reports its metadata without opening it.
func (fs *FS) Stat(path string) (Stat, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	r, err := fs.resolvePath(path)
	if err != nil {
		return Stat{}, err
	}
	if r.isRoot {
		return Stat{IsDir: true, BlockSize: fs.ClusterSize()}, nil
	}
	n, err := fs.chainLength(r.dirent.fstClus)
	if err != nil {
		return Stat{}, err
	}
	return Stat{
		Size:      int64(r.dirent.fileSize),
		IsDir:     r.dirent.isDir(),
		ModTime:   decodeFATTime(r.dirent.wrtDate, r.dirent.wrtTime),
		Blocks:    int64(n),
		BlockSize: fs.ClusterSize(),
	}, nil
}

func decodeFATTime(date, tm uint16) time.Time {
	year := int(date>>9) + 1980
	month := int((date >> 5) & 0xF)
	day := int(date & 0x1F)
	hour := int(tm >> 11)
	minute := int((tm >> 5) & 0x3F)
	second := int(tm&0x1F) * 2
	if month == 0 {
		month = 1
	}
	if day == 0 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
}
