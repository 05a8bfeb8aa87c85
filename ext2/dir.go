package ext2

import "github.com/kosfs/kosfs/fserr"

// File type tags stored in ext2_dirent_t.file_type, grounded on
// directory.h's EXT2_FT_* constants.
const (
	ftUnknown = 0
	ftRegular = 1
	ftDir     = 2
	ftChrdev  = 3
	ftBlkdev  = 4
	ftFifo    = 5
	ftSock    = 6
	ftSymlink = 7
)

const direntHeaderSize = 8 // inode(4) + rec_len(2) + name_len(1) + file_type(1)

// dirEntry mirrors one ext2_dirent_t record (directory.h).
type dirEntry struct {
	Inode    uint32
	RecLen   uint16
	NameLen  uint8
	FileType uint8
	Name     string
}

func decodeDirEntry(buf []byte) dirEntry {
	var e dirEntry
	e.Inode = order.Uint32(buf[0:])
	e.RecLen = order.Uint16(buf[4:])
	e.NameLen = buf[6]
	e.FileType = buf[7]
	if int(e.NameLen) <= len(buf)-direntHeaderSize {
		e.Name = string(buf[direntHeaderSize : direntHeaderSize+int(e.NameLen)])
	}
	return e
}

func encodeDirEntry(buf []byte, e dirEntry) {
	order.PutUint32(buf[0:], e.Inode)
	order.PutUint16(buf[4:], e.RecLen)
	buf[6] = e.NameLen
	buf[7] = e.FileType
	copy(buf[direntHeaderSize:], e.Name)
}

// dirEntryMinSize returns the minimum rec_len needed to store a name of
// the given length, rounded up to a 4-byte boundary as the format
// requires.
func dirEntryMinSize(nameLen int) uint16 {
	n := direntHeaderSize + nameLen
	return uint16((n + 3) &^ 3)
}

func fileTypeForMode(mode uint16) uint8 {
	switch mode & modeFmt {
	case modeDir:
		return ftDir
	case modeReg:
		return ftRegular
	case modeLink:
		return ftSymlink
	case modeChr:
		return ftChrdev
	case modeBlk:
		return ftBlkdev
	case modeFifo:
		return ftFifo
	case modeSock:
		return ftSock
	default:
		return ftUnknown
	}
}

// forEachDirent walks the directory blocks owned by dirIn, invoking fn
// with each live entry's (block, byte offset within block, decoded
// record). Iteration stops early if fn returns stop=true or a non-nil
// error.
func (fs *FS) forEachDirent(dirIn *inode, fn func(block uint32, off int, e dirEntry) (stop bool, err error)) error {
	nblocks := fs.blockCountForSize(dirIn.Size)
	for bi := uint32(0); bi < nblocks; bi++ {
		block, err := fs.blockAt(dirIn, bi)
		if err != nil {
			return err
		}
		if block == 0 {
			continue
		}
		buf, err := fs.blockCache.Get(int64(block))
		if err != nil {
			return err
		}
		off := 0
		for off < fs.blockSize {
			e := decodeDirEntry(buf[off:])
			if e.RecLen == 0 {
				break
			}
			if e.Inode != 0 {
				stop, err := fn(block, off, e)
				if err != nil {
					return err
				}
				if stop {
					return nil
				}
			}
			off += int(e.RecLen)
		}
	}
	return nil
}

// dirLookup searches dirIn for name, returning its dirent and the
// (block, offset) of the record for in-place rewriting (rename).
func (fs *FS) dirLookup(dirIn *inode, name string) (dirEntry, uint32, int, error) {
	var found dirEntry
	var fBlock uint32
	var fOff int
	err := fs.forEachDirent(dirIn, func(block uint32, off int, e dirEntry) (bool, error) {
		if e.Name == name {
			found, fBlock, fOff = e, block, off
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return dirEntry{}, 0, 0, err
	}
	if found.Inode == 0 {
		return dirEntry{}, 0, 0, fserr.NoEntry
	}
	return found, fBlock, fOff, nil
}

// dirIsEmpty reports whether dirIn (a directory inode) contains only
// "." and ".." (directory.h's ext2_dir_is_empty contract).
func (fs *FS) dirIsEmpty(dirIn *inode) (bool, error) {
	empty := true
	err := fs.forEachDirent(dirIn, func(_ uint32, _ int, e dirEntry) (bool, error) {
		if e.Name != "." && e.Name != ".." {
			empty = false
			return true, nil
		}
		return false, nil
	})
	return empty, err
}

// dirAddEntry inserts (childIno, name, fileType) into dirIn, splitting
// the first record with enough slack space, or appending a new block if
// none has room (directory.h's ext2_dir_add_entry).
func (fs *FS) dirAddEntry(dirIno uint32, dirIn *inode, name string, childIno uint32, fileType uint8) error {
	need := dirEntryMinSize(len(name))
	nblocks := fs.blockCountForSize(dirIn.Size)

	for bi := uint32(0); bi < nblocks; bi++ {
		block, err := fs.blockAt(dirIn, bi)
		if err != nil {
			return err
		}
		buf, err := fs.blockCache.Get(int64(block))
		if err != nil {
			return err
		}
		off := 0
		for off < fs.blockSize {
			e := decodeDirEntry(buf[off:])
			if e.RecLen == 0 {
				break
			}
			used := uint16(0)
			if e.Inode != 0 {
				used = dirEntryMinSize(int(e.NameLen))
			}
			slack := e.RecLen - used
			if slack >= need {
				if e.Inode != 0 {
					// split: shrink the live entry to its own minimum size
					// and place the new record in the freed tail.
					newOff := off + int(used)
					order.PutUint16(buf[off+4:], used)
					encodeDirEntry(buf[newOff:], dirEntry{
						Inode: childIno, RecLen: slack, NameLen: uint8(len(name)), FileType: fileType, Name: name,
					})
				} else {
					encodeDirEntry(buf[off:], dirEntry{
						Inode: childIno, RecLen: e.RecLen, NameLen: uint8(len(name)), FileType: fileType, Name: name,
					})
				}
				return fs.blockCache.MarkDirty(int64(block))
			}
			off += int(e.RecLen)
		}
	}

	g := fs.groupOfInode(dirIno)
	block, err := fs.allocBlock(g)
	if err != nil {
		return err
	}
	buf, err := fs.blockCache.GetCleared(int64(block))
	if err != nil {
		return err
	}
	encodeDirEntry(buf, dirEntry{
		Inode: childIno, RecLen: uint16(fs.blockSize), NameLen: uint8(len(name)), FileType: fileType, Name: name,
	})
	if err := fs.blockCache.MarkDirty(int64(block)); err != nil {
		return err
	}

	idx := nblocks
	if err := fs.linkBlockAt(dirIn, idx, block, g); err != nil {
		fs.freeBlock(block)
		return err
	}
	dirIn.Size += uint64(fs.blockSize)
	return nil
}

// dirRemoveEntry marks the live entry named target dead by folding its
// rec_len into the entry immediately preceding it in the same block, or
// zeroing its inode field if it is the first record.
func (fs *FS) dirRemoveEntry(dirIn *inode, target string) error {
	nblocks := fs.blockCountForSize(dirIn.Size)
	for bi := uint32(0); bi < nblocks; bi++ {
		block, err := fs.blockAt(dirIn, bi)
		if err != nil {
			return err
		}
		if block == 0 {
			continue
		}
		buf, err := fs.blockCache.Get(int64(block))
		if err != nil {
			return err
		}
		off, prevOff := 0, -1
		for off < fs.blockSize {
			e := decodeDirEntry(buf[off:])
			if e.RecLen == 0 {
				break
			}
			if e.Inode != 0 && e.Name == target {
				if prevOff >= 0 {
					prev := decodeDirEntry(buf[prevOff:])
					order.PutUint16(buf[prevOff+4:], prev.RecLen+e.RecLen)
				} else {
					order.PutUint32(buf[off:], 0)
				}
				return fs.blockCache.MarkDirty(int64(block))
			}
			prevOff = off
			off += int(e.RecLen)
		}
	}
	return fserr.NoEntry
}

// dirRedirEntry rewrites an existing entry's inode number and file type
// in place, used by rename when the destination name already resolves
// to an inode being replaced, and by "..": relinking on directory move
// (directory.h's ext2_dir_redir_entry).
func (fs *FS) dirRedirEntry(dirIn *inode, name string, newIno uint32, newType uint8) error {
	_, block, off, err := fs.dirLookup(dirIn, name)
	if err != nil {
		return err
	}
	buf, err := fs.blockCache.Get(int64(block))
	if err != nil {
		return err
	}
	order.PutUint32(buf[off:], newIno)
	buf[off+7] = newType
	return fs.blockCache.MarkDirty(int64(block))
}

// dirCreateEmpty allocates the first data block of a brand-new
// directory inode and populates it with "." and ".." (directory.h's
// ext2_dir_create_empty).
func (fs *FS) dirCreateEmpty(dirIno uint32, dirIn *inode, parentIno uint32) error {
	g := fs.groupOfInode(dirIno)
	block, err := fs.allocBlock(g)
	if err != nil {
		return err
	}
	buf, err := fs.blockCache.GetCleared(int64(block))
	if err != nil {
		return err
	}
	dotLen := dirEntryMinSize(1)
	encodeDirEntry(buf, dirEntry{Inode: dirIno, RecLen: dotLen, NameLen: 1, FileType: ftDir, Name: "."})
	encodeDirEntry(buf[dotLen:], dirEntry{
		Inode: parentIno, RecLen: uint16(fs.blockSize) - dotLen, NameLen: 2, FileType: ftDir, Name: "..",
	})
	if err := fs.blockCache.MarkDirty(int64(block)); err != nil {
		return err
	}
	dirIn.Block[0] = block
	dirIn.Blocks += uint32(fs.blockSize / 512)
	dirIn.Size = uint64(fs.blockSize)
	dirIn.LinksCount = 2 // "." plus the parent's entry pointing here
	return nil
}
