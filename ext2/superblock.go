package ext2

import (
	"encoding/binary"

	"github.com/kosfs/kosfs/fserr"
)

var order = binary.LittleEndian

const (
	superblockOffset = 1024
	superblockSize   = 1024
	ext2Magic        = 0xEF53
)

// Superblock field offsets, grounded on the struct member names
// fs_ext2.c/ext2internal.h reference (s_inodes_count, s_blocks_count,
// s_log_block_size, s_first_ino, s_inode_size, ...), which are the
// standard ext2 revision-1 superblock layout.
const (
	offInodesCount      = 0x00
	offBlocksCount      = 0x04
	offRBlocksCount     = 0x08
	offFreeBlocksCount  = 0x0C
	offFreeInodesCount  = 0x10
	offFirstDataBlock   = 0x14
	offLogBlockSize     = 0x18
	offBlocksPerGroup   = 0x20
	offInodesPerGroup   = 0x28
	offMagic            = 0x38
	offState            = 0x3A
	offRevLevel         = 0x4C
	offFirstIno         = 0x54
	offInodeSize        = 0x58
)

const (
	stateClean  = 1
	stateErrors = 2
)

type superblock struct {
	InodesCount     uint32
	BlocksCount     uint32
	RBlocksCount    uint32
	FreeBlocksCount uint32
	FreeInodesCount uint32
	FirstDataBlock  uint32
	LogBlockSize    uint32
	BlocksPerGroup  uint32
	InodesPerGroup  uint32
	RevLevel        uint32
	FirstIno        uint32
	InodeSize       uint16
	State           uint16
}

func (fs *FS) readSuperblock() error {
	buf := make([]byte, superblockSize)
	bs := fs.dev.BlockSize()
	if superblockOffset%bs != 0 {
		return fserr.Wrap(fserr.CorruptFilesystem, "ext2: device block size incompatible with superblock offset")
	}
	if err := fs.dev.ReadBlocks(buf, int64(superblockOffset/bs)); err != nil {
		return fserr.Wrap(err, "ext2: read superblock")
	}

	sb := superblock{}
	sb.InodesCount = order.Uint32(buf[offInodesCount:])
	sb.BlocksCount = order.Uint32(buf[offBlocksCount:])
	sb.RBlocksCount = order.Uint32(buf[offRBlocksCount:])
	sb.FreeBlocksCount = order.Uint32(buf[offFreeBlocksCount:])
	sb.FreeInodesCount = order.Uint32(buf[offFreeInodesCount:])
	sb.FirstDataBlock = order.Uint32(buf[offFirstDataBlock:])
	sb.LogBlockSize = order.Uint32(buf[offLogBlockSize:])
	sb.BlocksPerGroup = order.Uint32(buf[offBlocksPerGroup:])
	sb.InodesPerGroup = order.Uint32(buf[offInodesPerGroup:])
	magic := order.Uint16(buf[offMagic:])
	sb.State = order.Uint16(buf[offState:])
	sb.RevLevel = order.Uint32(buf[offRevLevel:])

	if magic != ext2Magic {
		return fserr.Wrap(fserr.CorruptFilesystem, "ext2: bad magic")
	}
	if sb.RevLevel >= 1 {
		sb.FirstIno = order.Uint32(buf[offFirstIno:])
		sb.InodeSize = order.Uint16(buf[offInodeSize:])
	} else {
		sb.FirstIno = 11
		sb.InodeSize = 128
	}
	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 {
		return fserr.Wrap(fserr.CorruptFilesystem, "ext2: zero group geometry")
	}
	fs.sb = sb
	return nil
}

func (fs *FS) writeSuperblock() error {
	if fs.readOnly {
		return nil
	}
	buf := make([]byte, superblockSize)
	bs := fs.dev.BlockSize()
	if err := fs.dev.ReadBlocks(buf, int64(superblockOffset/bs)); err != nil {
		return fserr.Wrap(err, "ext2: read superblock for update")
	}
	order.PutUint32(buf[offFreeBlocksCount:], fs.sb.FreeBlocksCount)
	order.PutUint32(buf[offFreeInodesCount:], fs.sb.FreeInodesCount)
	order.PutUint16(buf[offState:], fs.sb.State)
	if err := fs.dev.WriteBlocks(buf, int64(superblockOffset/bs)); err != nil {
		return fserr.Wrap(err, "ext2: write superblock")
	}
	fs.sbDirty = false
	return nil
}

// groupCount returns the number of block groups described by the
// superblock.
func (fs *FS) groupCount() uint32 {
	n := (fs.sb.BlocksCount - fs.sb.FirstDataBlock + fs.sb.BlocksPerGroup - 1) / fs.sb.BlocksPerGroup
	return n
}

// groupDesc mirrors one 32-byte block group descriptor table entry.
type groupDesc struct {
	BlockBitmap     uint32
	InodeBitmap     uint32
	InodeTable      uint32
	FreeBlocksCount uint16
	FreeInodesCount uint16
	UsedDirsCount   uint16
}

const (
	groupDescSize = 32

	offBgBlockBitmap     = 0x00
	offBgInodeBitmap     = 0x04
	offBgInodeTable      = 0x08
	offBgFreeBlocksCount = 0x0C
	offBgFreeInodesCount = 0x0E
	offBgUsedDirsCount   = 0x10
)

// groupDescTableBlock returns the first block of the block group
// descriptor table, which always sits immediately after the block
// holding the superblock (block 1 when the block size is 1024 bytes
// and the superblock therefore doesn't share block 0 with the boot
// block; block 0 itself at any larger block size, since s_first_data_block
// is then 0 and the superblock lives inside that same block).
func (fs *FS) groupDescTableBlock() uint32 {
	return fs.sb.FirstDataBlock + 1
}

func (fs *FS) readGroupDescs() error {
	n := fs.groupCount()
	fs.groups = make([]groupDesc, n)

	perBlock := fs.blockSize / groupDescSize
	base := fs.groupDescTableBlock()
	for i := uint32(0); i < n; i++ {
		block := base + i/uint32(perBlock)
		off := int(i%uint32(perBlock)) * groupDescSize
		buf, err := fs.blockCache.Get(int64(block))
		if err != nil {
			return fserr.Wrap(err, "ext2: read group descriptor table")
		}
		g := &fs.groups[i]
		rec := buf[off:]
		g.BlockBitmap = order.Uint32(rec[offBgBlockBitmap:])
		g.InodeBitmap = order.Uint32(rec[offBgInodeBitmap:])
		g.InodeTable = order.Uint32(rec[offBgInodeTable:])
		g.FreeBlocksCount = order.Uint16(rec[offBgFreeBlocksCount:])
		g.FreeInodesCount = order.Uint16(rec[offBgFreeInodesCount:])
		g.UsedDirsCount = order.Uint16(rec[offBgUsedDirsCount:])
	}
	return nil
}

func (fs *FS) writeGroupDescs() error {
	if fs.readOnly {
		return nil
	}
	perBlock := fs.blockSize / groupDescSize
	base := fs.groupDescTableBlock()
	for i := range fs.groups {
		block := base + uint32(i)/uint32(perBlock)
		off := (i % perBlock) * groupDescSize
		buf, err := fs.blockCache.Get(int64(block))
		if err != nil {
			return err
		}
		g := &fs.groups[i]
		rec := buf[off:]
		order.PutUint32(rec[offBgBlockBitmap:], g.BlockBitmap)
		order.PutUint32(rec[offBgInodeBitmap:], g.InodeBitmap)
		order.PutUint32(rec[offBgInodeTable:], g.InodeTable)
		order.PutUint16(rec[offBgFreeBlocksCount:], g.FreeBlocksCount)
		order.PutUint16(rec[offBgFreeInodesCount:], g.FreeInodesCount)
		order.PutUint16(rec[offBgUsedDirsCount:], g.UsedDirsCount)
		if err := fs.blockCache.MarkDirty(int64(block)); err != nil {
			return err
		}
	}
	fs.groupsDirty = false
	return nil
}
