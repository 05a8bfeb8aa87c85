package fat

import (
	"encoding/binary"

	"github.com/kosfs/kosfs/fserr"
)

// BPB/FSInfo field offsets, per Microsoft's "FAT Type Determination"
// document.
const (
	offBytesPerSec = 0x0B
	offSecPerClus  = 0x0D
	offRsvdSecCnt  = 0x0E
	offNumFATs     = 0x10
	offRootEntCnt  = 0x11
	offTotSec16    = 0x13
	offFATSz16     = 0x16
	offTotSec32    = 0x20

	offFATSz32   = 0x24
	offRootClus  = 0x2C
	offFSInfoSec = 0x30

	offBootSig = 0x1FE

	fsInfoLeadSig  = 0x41615252
	fsInfoStrucSig = 0x61417272
	fsInfoTrailSig = 0xAA550000

	offFSInfoLeadSig  = 0x000
	offFSInfoStrucSig = 0x1E4
	offFSInfoFreeCnt  = 0x1E8
	offFSInfoNxtFree  = 0x1EC
	offFSInfoTrailSig = 0x1FC
)

var order = binary.LittleEndian

// parseBPB reads and validates the boot sector, populating the
// geometry fields of fs, computing firstDataSector and numClusters
// once rather than recomputing them on every access.
func (fs *FS) parseBPB() error {
	bs := fs.dev.BlockSize()
	if bs <= 0 || 512%bs != 0 && bs%512 != 0 {
		return fserr.Wrap(fserr.CorruptFilesystem, "fat: incompatible device block size")
	}
	buf := make([]byte, bs)
	if bs < 512 {
		buf = make([]byte, 512)
	}
	if err := fs.dev.ReadBlocks(buf[:bs], 0); err != nil {
		return fserr.Wrap(err, "fat: read boot sector")
	}
	if len(buf) < 512 {
		return fserr.Wrap(fserr.CorruptFilesystem, "fat: boot sector shorter than 512 bytes")
	}
	if order.Uint16(buf[offBootSig:]) != 0xAA55 {
		return fserr.Wrap(fserr.CorruptFilesystem, "fat: missing boot signature")
	}

	fs.bytesPerSector = order.Uint16(buf[offBytesPerSec:])
	fs.sectorsPerCluster = buf[offSecPerClus]
	fs.reservedSectors = order.Uint16(buf[offRsvdSecCnt:])
	fs.numFATs = buf[offNumFATs]
	fs.rootDirEntries = order.Uint16(buf[offRootEntCnt:])

	if fs.bytesPerSector == 0 || fs.sectorsPerCluster == 0 || fs.numFATs == 0 {
		return fserr.Wrap(fserr.CorruptFilesystem, "fat: zero geometry field")
	}
	if fs.bytesPerSector%512 != 0 {
		return fserr.Wrap(fserr.CorruptFilesystem, "fat: bytes-per-sector not a multiple of 512")
	}

	totSec16 := uint32(order.Uint16(buf[offTotSec16:]))
	totSec32 := order.Uint32(buf[offTotSec32:])
	totSec := totSec16
	if totSec == 0 {
		totSec = totSec32
	}

	fatSz16 := uint32(order.Uint16(buf[offFATSz16:]))
	fatSz32 := order.Uint32(buf[offFATSz32:])
	fs.fatSizeSectors = fatSz16
	if fs.fatSizeSectors == 0 {
		fs.fatSizeSectors = fatSz32
	}

	fs.rootDirSectors = (uint32(fs.rootDirEntries)*32 + uint32(fs.bytesPerSector) - 1) / uint32(fs.bytesPerSector)
	fs.rootDirFirstSect = uint32(fs.reservedSectors) + uint32(fs.numFATs)*fs.fatSizeSectors

	dataSec := totSec - (uint32(fs.reservedSectors) + uint32(fs.numFATs)*fs.fatSizeSectors + fs.rootDirSectors)
	fs.numClusters = dataSec / uint32(fs.sectorsPerCluster)
	fs.firstDataSector = fs.rootDirFirstSect + fs.rootDirSectors

	switch {
	case fs.numClusters < 4085:
		fs.fsType = FAT12
	case fs.numClusters < 65525:
		fs.fsType = FAT16
	default:
		fs.fsType = FAT32
		fs.rootCluster = order.Uint32(buf[offRootClus:])
		fs.fsInfoSector = order.Uint16(buf[offFSInfoSec:])
	}
	return nil
}

// readFSInfo loads the FAT32 free-cluster hint sector. A missing or
// invalid signature is tolerated: the hint is purely advisory, so
// fs.freeClusters simply stays clusterCountUnknown and the allocator
// falls back to scanning from cluster 2.
func (fs *FS) readFSInfo() error {
	if fs.fsInfoSector == 0 {
		return fserr.InvalidArgument
	}
	buf, err := fs.sectorCache.Get(int64(fs.fsInfoSector))
	if err != nil {
		return err
	}
	if order.Uint32(buf[offFSInfoLeadSig:]) != fsInfoLeadSig ||
		order.Uint32(buf[offFSInfoStrucSig:]) != fsInfoStrucSig ||
		order.Uint32(buf[offFSInfoTrailSig:]) != fsInfoTrailSig {
		return fserr.InvalidArgument
	}
	free := order.Uint32(buf[offFSInfoFreeCnt:])
	if free != 0xFFFFFFFF {
		fs.freeClusters = free
	}
	hint := order.Uint32(buf[offFSInfoNxtFree:])
	if hint != 0xFFFFFFFF && hint >= firstDataCluster {
		fs.lastAllocCluster = hint - 1
	}
	return nil
}

func (fs *FS) writeFSInfo() error {
	if fs.fsInfoSector == 0 {
		return nil
	}
	buf, err := fs.sectorCache.Get(int64(fs.fsInfoSector))
	if err != nil {
		return err
	}
	order.PutUint32(buf[offFSInfoFreeCnt:], fs.freeClusters)
	order.PutUint32(buf[offFSInfoNxtFree:], fs.lastAllocCluster+1)
	if err := fs.sectorCache.MarkDirty(int64(fs.fsInfoSector)); err != nil {
		return err
	}
	fs.fsInfoDirty = false
	return nil
}
