package ext2

import (
	"time"

	"github.com/kosfs/kosfs/fserr"
)

// Inode mode bits, grounded on the EXT2_S_IF*/EXT2_S_I* masks
// fs_ext2.c tests with "& 0xF000" and "& 0x0FFF".
const (
	modeFmt   = 0xF000
	modeFifo  = 0x1000
	modeChr   = 0x2000
	modeDir   = 0x4000
	modeBlk   = 0x6000
	modeReg   = 0x8000
	modeLink  = 0xA000
	modeSock  = 0xC000

	modePermMask = 0x0FFF
	defaultPerm  = 0755
	defaultFile  = 0644
)

const (
	numDirectBlocks = 12
	indSingle       = 12
	indDouble       = 13
	indTriple       = 14
	numBlockPtrs    = 15
)

// inode mirrors the 128-byte (or larger, s_inode_size) on-disk ext2
// inode record. Field names follow fs_ext2.c's i_mode/i_uid/i_size/
// i_links_count/i_blocks/i_block naming.
type inode struct {
	Mode       uint16
	UID        uint32 // low 16 bits from i_uid, high from osd2.l_i_uid_high
	Size       uint64 // i_size | (i_dir_acl << 32) for regular files, at any s_rev_level
	ATime      uint32
	CTime      uint32
	MTime      uint32
	DTime      uint32
	GID        uint32
	LinksCount uint16
	Blocks     uint32 // 512-byte sectors, not fs blocks
	Flags      uint32
	Block      [numBlockPtrs]uint32
}

const (
	offIMode       = 0x00
	offIUID        = 0x02
	offISize       = 0x04
	offIATime      = 0x08
	offICTime      = 0x0C
	offIMTime      = 0x10
	offIDTime      = 0x14
	offIGID        = 0x18
	offILinksCount = 0x1A
	offIBlocks     = 0x1C
	offIFlags      = 0x20
	offIBlock      = 0x28
	offIDirACL     = 0x68
	offIUIDHigh    = 0x74 // osd2.linux2.l_i_uid_high
	offIGIDHigh    = 0x76
)

func (fs *FS) inodeLocation(ino uint32) (block uint32, offset int) {
	g := fs.groupOfInode(ino)
	idx := fs.indexInGroupInode(ino)
	perBlock := uint32(fs.blockSize / fs.inodeSize)
	grp := &fs.groups[g]
	block = grp.InodeTable + idx/perBlock
	offset = int(idx%perBlock) * fs.inodeSize
	return
}

func (fs *FS) readInode(ino uint32) (inode, error) {
	block, off := fs.inodeLocation(ino)
	buf, err := fs.blockCache.Get(int64(block))
	if err != nil {
		return inode{}, err
	}
	rec := buf[off:]
	var in inode
	in.Mode = order.Uint16(rec[offIMode:])
	in.UID = uint32(order.Uint16(rec[offIUID:])) | uint32(order.Uint16(rec[offIUIDHigh:]))<<16
	in.Size = uint64(order.Uint32(rec[offISize:]))
	in.ATime = order.Uint32(rec[offIATime:])
	in.CTime = order.Uint32(rec[offICTime:])
	in.MTime = order.Uint32(rec[offIMTime:])
	in.DTime = order.Uint32(rec[offIDTime:])
	in.GID = uint32(order.Uint16(rec[offIGID:])) | uint32(order.Uint16(rec[offIGIDHigh:]))<<16
	in.LinksCount = order.Uint16(rec[offILinksCount:])
	in.Blocks = order.Uint32(rec[offIBlocks:])
	in.Flags = order.Uint32(rec[offIFlags:])
	for i := 0; i < numBlockPtrs; i++ {
		in.Block[i] = order.Uint32(rec[offIBlock+4*i:])
	}
	if in.Mode&modeFmt == modeReg {
		in.Size |= uint64(order.Uint32(rec[offIDirACL:])) << 32
	}
	return in, nil
}

func (fs *FS) writeInode(ino uint32, in *inode) error {
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}
	block, off := fs.inodeLocation(ino)
	buf, err := fs.blockCache.Get(int64(block))
	if err != nil {
		return err
	}
	rec := buf[off:]
	order.PutUint16(rec[offIMode:], in.Mode)
	order.PutUint16(rec[offIUID:], uint16(in.UID))
	order.PutUint32(rec[offISize:], uint32(in.Size))
	order.PutUint32(rec[offIATime:], in.ATime)
	order.PutUint32(rec[offICTime:], in.CTime)
	order.PutUint32(rec[offIMTime:], in.MTime)
	order.PutUint32(rec[offIDTime:], in.DTime)
	order.PutUint16(rec[offIGID:], uint16(in.GID))
	order.PutUint16(rec[offILinksCount:], in.LinksCount)
	order.PutUint32(rec[offIBlocks:], in.Blocks)
	order.PutUint32(rec[offIFlags:], in.Flags)
	for i := 0; i < numBlockPtrs; i++ {
		order.PutUint32(rec[offIBlock+4*i:], in.Block[i])
	}
	order.PutUint16(rec[offIUIDHigh:], uint16(in.UID>>16))
	order.PutUint16(rec[offIGIDHigh:], uint16(in.GID>>16))
	if in.Mode&modeFmt == modeReg {
		order.PutUint32(rec[offIDirACL:], uint32(in.Size>>32))
	}
	return fs.blockCache.MarkDirty(int64(block))
}

func unixTime(t time.Time) uint32 { return uint32(t.Unix()) }

func (in *inode) isDir() bool  { return in.Mode&modeFmt == modeDir }
func (in *inode) isLink() bool { return in.Mode&modeFmt == modeLink }
func (in *inode) isReg() bool  { return in.Mode&modeFmt == modeReg }

// ptrsPerBlock returns how many 4-byte block pointers fit in one block,
// i.e. the fan-out of one level of indirection.
func (fs *FS) ptrsPerBlock() uint32 { return uint32(fs.blockSize / 4) }

// blockCountForSize returns how many data blocks a file of the given
// byte size occupies.
func (fs *FS) blockCountForSize(size uint64) uint32 {
	bs := uint64(fs.blockSize)
	return uint32((size + bs - 1) / bs)
}
