package ext2

import "github.com/kosfs/kosfs/fserr"

// blockAt resolves the fs-block number holding logical block index idx
// of in, walking direct pointers and single/double/triple indirect
// blocks as needed. Returns 0, nil for a hole (never allocated, reads
// as zero).
func (fs *FS) blockAt(in *inode, idx uint32) (uint32, error) {
	ppb := fs.ptrsPerBlock()

	if idx < numDirectBlocks {
		return in.Block[idx], nil
	}
	idx -= numDirectBlocks

	if idx < ppb {
		return fs.indirectLookup(in.Block[indSingle], idx)
	}
	idx -= ppb

	if idx < ppb*ppb {
		blk, err := fs.indirectLookup(in.Block[indDouble], idx/ppb)
		if err != nil || blk == 0 {
			return 0, err
		}
		return fs.indirectLookup(blk, idx%ppb)
	}
	idx -= ppb * ppb

	if idx < ppb*ppb*ppb {
		l1, err := fs.indirectLookup(in.Block[indTriple], idx/(ppb*ppb))
		if err != nil || l1 == 0 {
			return 0, err
		}
		rem := idx % (ppb * ppb)
		l2, err := fs.indirectLookup(l1, rem/ppb)
		if err != nil || l2 == 0 {
			return 0, err
		}
		return fs.indirectLookup(l2, rem%ppb)
	}
	return 0, fserr.FileTooLarge
}

func (fs *FS) indirectLookup(indBlock uint32, slot uint32) (uint32, error) {
	if indBlock == 0 {
		return 0, nil
	}
	buf, err := fs.blockCache.Get(int64(indBlock))
	if err != nil {
		return 0, err
	}
	return order.Uint32(buf[4*slot:]), nil
}

// ensureBlockAt resolves (allocating as needed) the fs-block backing
// logical index idx of in, growing indirect blocks lazily. preferGroup
// seeds allocation locality.
func (fs *FS) ensureBlockAt(in *inode, idx uint32, preferGroup uint32) (uint32, error) {
	ppb := fs.ptrsPerBlock()

	if idx < numDirectBlocks {
		if in.Block[idx] == 0 {
			b, err := fs.allocBlock(preferGroup)
			if err != nil {
				return 0, err
			}
			if _, err := fs.blockCache.GetCleared(int64(b)); err != nil {
				return 0, err
			}
			if err := fs.blockCache.MarkDirty(int64(b)); err != nil {
				return 0, err
			}
			in.Block[idx] = b
			in.Blocks += uint32(fs.blockSize / 512)
		}
		return in.Block[idx], nil
	}
	idx -= numDirectBlocks

	if idx < ppb {
		l0, err := fs.ensureIndirectBlock(&in.Block[indSingle], in, preferGroup)
		if err != nil {
			return 0, err
		}
		return fs.ensureChild(in, l0, idx, preferGroup)
	}
	idx -= ppb

	if idx < ppb*ppb {
		l1, err := fs.ensureIndirectBlock(&in.Block[indDouble], in, preferGroup)
		if err != nil {
			return 0, err
		}
		l2, err := fs.ensureChild(in, l1, idx/ppb, preferGroup)
		if err != nil {
			return 0, err
		}
		return fs.ensureChild(in, l2, idx%ppb, preferGroup)
	}
	idx -= ppb * ppb

	if idx < ppb*ppb*ppb {
		l1, err := fs.ensureIndirectBlock(&in.Block[indTriple], in, preferGroup)
		if err != nil {
			return 0, err
		}
		rem := idx % (ppb * ppb)
		l2, err := fs.ensureChild(in, l1, idx/(ppb*ppb), preferGroup)
		if err != nil {
			return 0, err
		}
		l3, err := fs.ensureChild(in, l2, rem/ppb, preferGroup)
		if err != nil {
			return 0, err
		}
		return fs.ensureChild(in, l3, rem%ppb, preferGroup)
	}
	return 0, fserr.FileTooLarge
}

// linkBlockAt points logical index idx of in at an already-allocated
// block (growing any indirect blocks needed to reach that slot), rather
// than allocating a fresh leaf itself. Used when the caller has already
// allocated and populated the block's content (e.g. a new directory
// block with "." already written) and only needs it wired into the
// inode's block map.
func (fs *FS) linkBlockAt(in *inode, idx uint32, block uint32, preferGroup uint32) error {
	ppb := fs.ptrsPerBlock()

	if idx < numDirectBlocks {
		in.Block[idx] = block
		in.Blocks += uint32(fs.blockSize / 512)
		return nil
	}
	idx -= numDirectBlocks

	if idx < ppb {
		l0, err := fs.ensureIndirectBlock(&in.Block[indSingle], in, preferGroup)
		if err != nil {
			return err
		}
		return fs.writeSlot(in, l0, idx, block)
	}
	idx -= ppb

	if idx < ppb*ppb {
		l1, err := fs.ensureIndirectBlock(&in.Block[indDouble], in, preferGroup)
		if err != nil {
			return err
		}
		l2, err := fs.ensureChild(in, l1, idx/ppb, preferGroup)
		if err != nil {
			return err
		}
		return fs.writeSlot(in, l2, idx%ppb, block)
	}
	idx -= ppb * ppb

	if idx < ppb*ppb*ppb {
		l1, err := fs.ensureIndirectBlock(&in.Block[indTriple], in, preferGroup)
		if err != nil {
			return err
		}
		rem := idx % (ppb * ppb)
		l2, err := fs.ensureChild(in, l1, idx/(ppb*ppb), preferGroup)
		if err != nil {
			return err
		}
		l3, err := fs.ensureChild(in, l2, rem/ppb, preferGroup)
		if err != nil {
			return err
		}
		return fs.writeSlot(in, l3, rem%ppb, block)
	}
	return fserr.FileTooLarge
}

func (fs *FS) writeSlot(in *inode, indBlock uint32, idx uint32, block uint32) error {
	buf, err := fs.blockCache.Get(int64(indBlock))
	if err != nil {
		return err
	}
	order.PutUint32(buf[4*idx:], block)
	if err := fs.blockCache.MarkDirty(int64(indBlock)); err != nil {
		return err
	}
	in.Blocks += uint32(fs.blockSize / 512)
	return nil
}

// ensureIndirectBlock allocates *ptr (an indirect block pointer field)
// if it is zero, zeroing the new block.
func (fs *FS) ensureIndirectBlock(ptr *uint32, in *inode, preferGroup uint32) (uint32, error) {
	if *ptr != 0 {
		return *ptr, nil
	}
	b, err := fs.allocBlock(preferGroup)
	if err != nil {
		return 0, err
	}
	if _, err := fs.blockCache.GetCleared(int64(b)); err != nil {
		return 0, err
	}
	if err := fs.blockCache.MarkDirty(int64(b)); err != nil {
		return 0, err
	}
	*ptr = b
	in.Blocks += uint32(fs.blockSize / 512)
	return b, nil
}

// ensureChild reads slot idx of indirect block indBlock, allocating and
// linking a fresh zeroed block there if the slot is empty.
func (fs *FS) ensureChild(in *inode, indBlock uint32, idx uint32, preferGroup uint32) (uint32, error) {
	buf, err := fs.blockCache.Get(int64(indBlock))
	if err != nil {
		return 0, err
	}
	leaf := order.Uint32(buf[4*idx:])
	if leaf != 0 {
		return leaf, nil
	}
	b, err := fs.allocBlock(preferGroup)
	if err != nil {
		return 0, err
	}
	if _, err := fs.blockCache.GetCleared(int64(b)); err != nil {
		return 0, err
	}
	if err := fs.blockCache.MarkDirty(int64(b)); err != nil {
		return 0, err
	}
	// Re-fetch: the GetCleared above may have evicted the slot backing
	// buf, which would otherwise alias the wrong record by the time we
	// write the new pointer into it.
	buf, err = fs.blockCache.Get(int64(indBlock))
	if err != nil {
		return 0, err
	}
	order.PutUint32(buf[4*idx:], b)
	if err := fs.blockCache.MarkDirty(int64(indBlock)); err != nil {
		return 0, err
	}
	in.Blocks += uint32(fs.blockSize / 512)
	return b, nil
}

// freeInodeBlocks releases every data block (direct and indirect) owned
// by in, including the indirect blocks themselves. A fast symlink's
// target bytes live directly in in.Block, reinterpreted as uint32s —
// those are not block pointers at all, so they must never be passed to
// freeBlock; a longer symlink's single allocated block is freed like
// any other block's.
func (fs *FS) freeInodeBlocks(in *inode) error {
	if in.isLink() {
		if in.Size < fastSymlinkMax {
			in.Block = [numBlockPtrs]uint32{}
			in.Blocks = 0
			return nil
		}
		if in.Block[0] != 0 {
			if err := fs.freeBlock(in.Block[0]); err != nil {
				return err
			}
			in.Block[0] = 0
		}
		in.Blocks = 0
		return nil
	}
	for i := 0; i < numDirectBlocks; i++ {
		if in.Block[i] != 0 {
			if err := fs.freeBlock(in.Block[i]); err != nil {
				return err
			}
			in.Block[i] = 0
		}
	}
	if err := fs.freeIndirectTree(in.Block[indSingle], 0); err != nil {
		return err
	}
	in.Block[indSingle] = 0
	if err := fs.freeIndirectTree(in.Block[indDouble], 1); err != nil {
		return err
	}
	in.Block[indDouble] = 0
	if err := fs.freeIndirectTree(in.Block[indTriple], 2); err != nil {
		return err
	}
	in.Block[indTriple] = 0
	in.Blocks = 0
	return nil
}

// freeIndirectTree recursively frees an indirect block tree of the
// given depth (0 = the block's entries are data pointers, 1 = each
// entry is itself a depth-0 tree, etc.), then the block itself.
func (fs *FS) freeIndirectTree(block uint32, depth int) error {
	if block == 0 {
		return nil
	}
	buf, err := fs.blockCache.Get(int64(block))
	if err != nil {
		return err
	}
	ppb := fs.ptrsPerBlock()
	ptrs := make([]uint32, ppb)
	for i := range ptrs {
		ptrs[i] = order.Uint32(buf[4*i:])
	}
	for _, p := range ptrs {
		if p == 0 {
			continue
		}
		if depth > 0 {
			if err := fs.freeIndirectTree(p, depth-1); err != nil {
				return err
			}
		} else if err := fs.freeBlock(p); err != nil {
			return err
		}
	}
	return fs.freeBlock(block)
}
