package fat

import "github.com/kosfs/kosfs/fserr"

// clusterToSector converts a data cluster number to its first logical
// sector.
func (fs *FS) clusterToSector(c uint32) uint32 {
	return fs.firstDataSector + (c-firstDataCluster)*uint32(fs.sectorsPerCluster)
}

func (fs *FS) eocValue() uint32 {
	switch fs.fsType {
	case FAT12:
		return 0xFFF
	case FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

func (fs *FS) isEOC(val uint32) bool {
	switch fs.fsType {
	case FAT12:
		return val >= 0xFF8
	case FAT16:
		return val >= 0xFFF8
	default:
		return val >= 0x0FFFFFF8
	}
}

func (fs *FS) isBad(val uint32) bool {
	switch fs.fsType {
	case FAT12:
		return val == 0xFF7
	case FAT16:
		return val == 0xFFF7
	default:
		return val == 0x0FFFFFF7
	}
}

// fatEntrySector returns the sector (within the k-th FAT copy) and
// byte offset within that sector holding cluster n's entry.
func (fs *FS) fatEntrySector(n uint32, k uint8) (sector uint32, byteOff uint32) {
	fatBase := uint32(fs.reservedSectors) + uint32(k)*fs.fatSizeSectors
	var fatOffset uint32
	switch fs.fsType {
	case FAT12:
		fatOffset = n + n/2
	case FAT16:
		fatOffset = n * 2
	default:
		fatOffset = n * 4
	}
	sector = fatBase + fatOffset/uint32(fs.bytesPerSector)
	byteOff = fatOffset % uint32(fs.bytesPerSector)
	return
}

// readEntry reads the raw FAT entry value for cluster n from the
// primary FAT copy. FAT12's entries straddle a sector boundary for odd
// byte offsets; this is handled by fetching the following sector's
// first byte from the cache rather than assuming both bytes share a
// buffer.
func (fs *FS) readEntry(n uint32) (uint32, error) {
	if n < firstDataCluster || n >= firstDataCluster+fs.numClusters {
		return 0, fserr.Wrap(fserr.CorruptFilesystem, "fat: cluster out of range")
	}
	sector, off := fs.fatEntrySector(n, 0)

	switch fs.fsType {
	case FAT12:
		buf, err := fs.sectorCache.Get(int64(sector))
		if err != nil {
			return 0, err
		}
		b0 := buf[off]
		var b1 byte
		if off == uint32(fs.bytesPerSector)-1 {
			buf2, err := fs.sectorCache.Get(int64(sector) + 1)
			if err != nil {
				return 0, err
			}
			b1 = buf2[0]
		} else {
			b1 = buf[off+1]
		}
		packed := uint16(b0) | uint16(b1)<<8
		if n&1 == 1 {
			return uint32(packed >> 4), nil
		}
		return uint32(packed & 0x0FFF), nil

	case FAT16:
		buf, err := fs.sectorCache.Get(int64(sector))
		if err != nil {
			return 0, err
		}
		return uint32(order.Uint16(buf[off:])), nil

	default: // FAT32
		buf, err := fs.sectorCache.Get(int64(sector))
		if err != nil {
			return 0, err
		}
		return order.Uint32(buf[off:]) & 0x0FFFFFFF, nil
	}
}

// writeEntry stores val into cluster n's FAT entry in every FAT copy
// (mirroring). FAT32's top 4 reserved bits are preserved from whatever
// was already on disk rather than zeroed.
func (fs *FS) writeEntry(n uint32, val uint32) error {
	if fs.readOnly {
		return fserr.ReadOnlyFilesystem
	}
	if n < firstDataCluster || n >= firstDataCluster+fs.numClusters {
		return fserr.Wrap(fserr.CorruptFilesystem, "fat: cluster out of range")
	}
	for k := uint8(0); k < fs.numFATs; k++ {
		if err := fs.writeEntryCopy(n, val, k); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) writeEntryCopy(n uint32, val uint32, k uint8) error {
	sector, off := fs.fatEntrySector(n, k)

	switch fs.fsType {
	case FAT12:
		buf, err := fs.sectorCache.Get(int64(sector))
		if err != nil {
			return err
		}
		straddles := off == uint32(fs.bytesPerSector)-1
		var buf2 []byte
		if straddles {
			buf2, err = fs.sectorCache.Get(int64(sector) + 1)
			if err != nil {
				return err
			}
		}
		b0 := buf[off]
		var b1 byte
		if straddles {
			b1 = buf2[0]
		} else {
			b1 = buf[off+1]
		}
		old := uint16(b0) | uint16(b1)<<8
		var packed uint16
		if n&1 == 1 {
			packed = (old & 0x000F) | (uint16(val&0x0FFF) << 4)
		} else {
			packed = (old & 0xF000) | uint16(val&0x0FFF)
		}
		buf[off] = byte(packed)
		if straddles {
			buf2[0] = byte(packed >> 8)
			if err := fs.sectorCache.MarkDirty(int64(sector) + 1); err != nil {
				return err
			}
		} else {
			buf[off+1] = byte(packed >> 8)
		}
		return fs.sectorCache.MarkDirty(int64(sector))

	case FAT16:
		buf, err := fs.sectorCache.Get(int64(sector))
		if err != nil {
			return err
		}
		order.PutUint16(buf[off:], uint16(val))
		return fs.sectorCache.MarkDirty(int64(sector))

	default: // FAT32
		buf, err := fs.sectorCache.Get(int64(sector))
		if err != nil {
			return err
		}
		old := order.Uint32(buf[off:])
		order.PutUint32(buf[off:], (old&0xF0000000)|(val&0x0FFFFFFF))
		return fs.sectorCache.MarkDirty(int64(sector))
	}
}

// allocateCluster finds one free cluster, marks it end-of-chain, and
// returns its number. The scan starts just after lastAllocCluster and
// wraps around exactly once over the full cluster range, so every
// cluster is visited at most once per call. A naive "scan from hint to
// end, then restart from 2" loop can spin forever on a full FAT12
// volume if the hint itself sits at the top of the range with no free
// clusters before it; bounding the scan to one full pass avoids that.
func (fs *FS) allocateCluster() (uint32, error) {
	if fs.readOnly {
		return 0, fserr.ReadOnlyFilesystem
	}
	start := fs.lastAllocCluster + 1
	if start < firstDataCluster {
		start = firstDataCluster
	}
	total := fs.numClusters
	for i := uint32(0); i < total; i++ {
		c := start + i
		if c >= firstDataCluster+total {
			c -= total
		}
		val, err := fs.readEntry(c)
		if err != nil {
			return 0, err
		}
		if val != clusterFree {
			continue
		}
		if err := fs.writeEntry(c, fs.eocValue()); err != nil {
			return 0, err
		}
		fs.lastAllocCluster = c
		if fs.freeClusters != clusterCountUnknown && fs.freeClusters > 0 {
			fs.freeClusters--
		}
		fs.fsInfoDirty = true
		return c, nil
	}
	return 0, fserr.NoSpace
}

// freeChain walks the cluster chain starting at start, releasing every
// cluster in it back to the free pool.
func (fs *FS) freeChain(start uint32) error {
	c := start
	for c >= firstDataCluster {
		next, err := fs.readEntry(c)
		if err != nil {
			return err
		}
		if err := fs.writeEntry(c, clusterFree); err != nil {
			return err
		}
		fs.dataCache.Invalidate(int64(c))
		if fs.freeClusters != clusterCountUnknown {
			fs.freeClusters++
		}
		fs.fsInfoDirty = true
		if fs.isEOC(next) || next == clusterFree {
			break
		}
		c = next
	}
	return nil
}

// appendCluster allocates a new cluster, zeroes it, and links it after
// tail in the chain, returning the new cluster number.
func (fs *FS) appendCluster(tail uint32) (uint32, error) {
	next, err := fs.allocateCluster()
	if err != nil {
		return 0, err
	}
	if _, err := fs.dataCache.GetCleared(int64(next)); err != nil {
		return 0, err
	}
	if tail >= firstDataCluster {
		if err := fs.writeEntry(tail, next); err != nil {
			return 0, err
		}
	}
	return next, nil
}

// chainLength returns the number of clusters in the chain starting at
// start, used by stat to report block counts without re-reading file
// data.
func (fs *FS) chainLength(start uint32) (int, error) {
	if start < firstDataCluster {
		return 0, nil
	}
	n := 0
	c := start
	for {
		n++
		next, err := fs.readEntry(c)
		if err != nil {
			return 0, err
		}
		if fs.isEOC(next) || next == clusterFree {
			break
		}
		c = next
	}
	return n, nil
}
