package ext2

import (
	"errors"

	"github.com/kosfs/kosfs/fserr"
)

// groupOfBlock returns the block group containing the given block number
// (relative to the start of the device, not the group).
func (fs *FS) groupOfBlock(block uint32) uint32 {
	return (block - fs.sb.FirstDataBlock) / fs.sb.BlocksPerGroup
}

func (fs *FS) groupOfInode(ino uint32) uint32 {
	return (ino - 1) / fs.sb.InodesPerGroup
}

func (fs *FS) indexInGroupInode(ino uint32) uint32 {
	return (ino - 1) % fs.sb.InodesPerGroup
}

// bitSet/bitClear/bitTest operate on a bitmap block buffer, one bit per
// block/inode in group order, matching the on-disk layout fs_ext2.c's
// ext2_block_bitmap_t / ext2_inode_bitmap_t accessors use.
func bitTest(buf []byte, i uint32) bool {
	return buf[i/8]&(1<<(i%8)) != 0
}

func bitSet(buf []byte, i uint32) {
	buf[i/8] |= 1 << (i % 8)
}

func bitClear(buf []byte, i uint32) {
	buf[i/8] &^= 1 << (i % 8)
}

// allocBlockInGroup scans group g's block bitmap for a free bit,
// starting at the given index, and returns the allocated block's
// absolute number. Returns fserr.NoSpace if the group is full.
func (fs *FS) allocBlockInGroup(g uint32, startAt uint32) (uint32, error) {
	grp := &fs.groups[g]
	if grp.FreeBlocksCount == 0 {
		return 0, fserr.NoSpace
	}
	buf, err := fs.blockCache.Get(int64(grp.BlockBitmap))
	if err != nil {
		return 0, err
	}
	n := fs.blocksInGroup(g)
	for i := uint32(0); i < n; i++ {
		idx := (startAt + i) % n
		if !bitTest(buf, idx) {
			bitSet(buf, idx)
			if err := fs.blockCache.MarkDirty(int64(grp.BlockBitmap)); err != nil {
				return 0, err
			}
			grp.FreeBlocksCount--
			fs.groupsDirty = true
			fs.sb.FreeBlocksCount--
			fs.sbDirty = true
			return fs.sb.FirstDataBlock + g*fs.sb.BlocksPerGroup + idx, nil
		}
	}
	return 0, fserr.NoSpace
}

func (fs *FS) blocksInGroup(g uint32) uint32 {
	total := fs.sb.BlocksCount - fs.sb.FirstDataBlock
	if g == fs.groupCount()-1 {
		rem := total % fs.sb.BlocksPerGroup
		if rem != 0 {
			return rem
		}
	}
	return fs.sb.BlocksPerGroup
}

// allocBlock allocates one free data block, preferring group preferGroup
// (typically the group that owns the inode doing the allocating), and
// falling back to the next groups in order. The reserved-blocks cutoff
// is enforced up front via freeBlocksAvailable.
func (fs *FS) allocBlock(preferGroup uint32) (uint32, error) {
	if !fs.freeBlocksAvailable(1) {
		return 0, fserr.NoSpace
	}
	n := fs.groupCount()
	for i := uint32(0); i < n; i++ {
		g := (preferGroup + i) % n
		b, err := fs.allocBlockInGroup(g, 0)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, fserr.NoSpace) {
			return 0, err
		}
	}
	return 0, fserr.NoSpace
}

// freeBlocksAvailable reports whether n more blocks can be allocated
// without eating into the reserved-blocks-percentage floor
// (s_r_blocks_count), which non-privileged writers must never cross.
func (fs *FS) freeBlocksAvailable(n uint32) bool {
	if fs.sb.FreeBlocksCount < n {
		return false
	}
	return fs.sb.FreeBlocksCount-n >= fs.sb.RBlocksCount
}

func (fs *FS) freeBlock(block uint32) error {
	g := fs.groupOfBlock(block)
	idx := (block - fs.sb.FirstDataBlock) - g*fs.sb.BlocksPerGroup
	grp := &fs.groups[g]
	buf, err := fs.blockCache.Get(int64(grp.BlockBitmap))
	if err != nil {
		return err
	}
	if !bitTest(buf, idx) {
		return nil
	}
	bitClear(buf, idx)
	if err := fs.blockCache.MarkDirty(int64(grp.BlockBitmap)); err != nil {
		return err
	}
	grp.FreeBlocksCount++
	fs.groupsDirty = true
	fs.sb.FreeBlocksCount++
	fs.sbDirty = true
	fs.blockCache.Invalidate(int64(block))
	return nil
}

// allocInode allocates a free inode, starting the search at preferGroup
// (fs_ext2.c starts at the parent directory's own group, to keep a
// directory's children clustered near it).
func (fs *FS) allocInode(preferGroup uint32, isDir bool) (uint32, error) {
	if fs.sb.FreeInodesCount == 0 {
		return 0, fserr.NoSpace
	}
	n := fs.groupCount()
	for i := uint32(0); i < n; i++ {
		g := (preferGroup + i) % n
		grp := &fs.groups[g]
		if grp.FreeInodesCount == 0 {
			continue
		}
		buf, err := fs.blockCache.Get(int64(grp.InodeBitmap))
		if err != nil {
			return 0, err
		}
		for idx := uint32(0); idx < fs.sb.InodesPerGroup; idx++ {
			if !bitTest(buf, idx) {
				bitSet(buf, idx)
				if err := fs.blockCache.MarkDirty(int64(grp.InodeBitmap)); err != nil {
					return 0, err
				}
				grp.FreeInodesCount--
				if isDir {
					grp.UsedDirsCount++
				}
				fs.groupsDirty = true
				fs.sb.FreeInodesCount--
				fs.sbDirty = true
				return g*fs.sb.InodesPerGroup + idx + 1, nil
			}
		}
	}
	return 0, fserr.NoSpace
}

func (fs *FS) freeInode(ino uint32, wasDir bool) error {
	g := fs.groupOfInode(ino)
	idx := fs.indexInGroupInode(ino)
	grp := &fs.groups[g]
	buf, err := fs.blockCache.Get(int64(grp.InodeBitmap))
	if err != nil {
		return err
	}
	if !bitTest(buf, idx) {
		return nil
	}
	bitClear(buf, idx)
	if err := fs.blockCache.MarkDirty(int64(grp.InodeBitmap)); err != nil {
		return err
	}
	grp.FreeInodesCount++
	if wasDir && grp.UsedDirsCount > 0 {
		grp.UsedDirsCount--
	}
	fs.groupsDirty = true
	fs.sb.FreeInodesCount++
	fs.sbDirty = true
	return nil
}
