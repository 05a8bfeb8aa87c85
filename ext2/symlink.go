package ext2

import "github.com/kosfs/kosfs/fserr"

// Fast symlinks store their target directly in the 60-byte i_block
// array instead of allocating a data block, grounded on fs_ext2.c's
// fs_ext2_symlink: targets shorter than 60 bytes go inline, longer ones
// get one allocated block, and anything at or above 4096 bytes total is
// rejected outright.
const (
	fastSymlinkMax = 60 // sizeof(inode.Block), in bytes
	maxSymlinkLen  = 4096
)

func (fs *FS) readSymlink(ino uint32, in *inode) (string, error) {
	if in.Size == 0 {
		return "", nil
	}
	if in.Size < fastSymlinkMax {
		raw := make([]byte, fastSymlinkMax)
		for i := 0; i < numBlockPtrs; i++ {
			order.PutUint32(raw[4*i:], in.Block[i])
		}
		return string(raw[:in.Size]), nil
	}
	block := in.Block[0]
	if block == 0 {
		return "", fserr.Wrap(fserr.CorruptFilesystem, "ext2: symlink missing data block")
	}
	buf, err := fs.blockCache.Get(int64(block))
	if err != nil {
		return "", err
	}
	n := in.Size
	if n > uint64(len(buf)) {
		n = uint64(len(buf))
	}
	return string(buf[:n]), nil
}

// writeSymlink populates a freshly-allocated symlink inode's target,
// inline for short targets or via one allocated block otherwise.
func (fs *FS) writeSymlink(in *inode, preferGroup uint32, target string) error {
	if len(target) >= maxSymlinkLen {
		return fserr.NameTooLong
	}
	if len(target) < fastSymlinkMax {
		raw := make([]byte, fastSymlinkMax)
		copy(raw, target)
		for i := 0; i < numBlockPtrs; i++ {
			in.Block[i] = order.Uint32(raw[4*i:])
		}
		in.Size = uint64(len(target))
		return nil
	}
	block, err := fs.allocBlock(preferGroup)
	if err != nil {
		return err
	}
	buf, err := fs.blockCache.GetCleared(int64(block))
	if err != nil {
		return err
	}
	copy(buf, target)
	if err := fs.blockCache.MarkDirty(int64(block)); err != nil {
		return err
	}
	in.Block[0] = block
	in.Blocks = uint32(fs.blockSize / 512)
	in.Size = uint64(len(target))
	return nil
}
