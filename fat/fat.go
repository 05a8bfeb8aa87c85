// Package fat implements a FAT12/16/32 filesystem engine: BPB/FSInfo
// parsing, FAT12/16/32 chain traversal and allocation, directory
// iteration with 8.3 + VFAT long names, and the open-file/open-dir
// handle operations built on top.
//
// Rather than a single package-level FS value working against a fixed
// 512-byte window of one BlockDevice, this package supports any number
// of independently mounted FS values, each backing its metadata and
// data access with an N-slot MRU cache, and adds mkdir/rmdir/rename and
// symlink-rejection on top of plain file read/write.
package fat

import (
	"sync"
	"time"

	"github.com/kosfs/kosfs/blockdev"
	"github.com/kosfs/kosfs/cache"
	"github.com/kosfs/kosfs/fserr"
	kosfslog "github.com/kosfs/kosfs/internal/log"
)

// FSType identifies which FAT width a mounted volume uses.
type FSType uint8

const (
	FAT12 FSType = iota + 1
	FAT16
	FAT32
)

func (t FSType) String() string {
	switch t {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "unknown"
	}
}

// Mount flags: bit 0 selects read-write.
const (
	FlagReadWrite = 1 << 0
	flagReserved  = ^uint32(FlagReadWrite)
)

// Sentinel cluster values.
const (
	clusterFree      = 0
	clusterReserved  = 1
	firstDataCluster = 2
)

// FS is one mounted FAT volume. All exported methods acquire mu, so an
// FS is safe for concurrent use by multiple goroutines, with one mutex
// guarding the whole engine.
type FS struct {
	mu sync.Mutex

	dev      blockdev.Device
	log      *kosfslog.Logger
	readOnly bool

	fsType FSType

	bytesPerSector    uint16
	sectorsPerCluster uint8
	reservedSectors   uint16
	numFATs           uint8
	fatSizeSectors    uint32
	rootDirEntries    uint16 // FAT12/16 only
	rootDirSectors    uint32 // FAT12/16 only
	rootDirFirstSect  uint32 // FAT12/16 only
	rootCluster       uint32 // FAT32 only
	firstDataSector   uint32
	numClusters       uint32
	fsInfoSector      uint16

	freeClusters     uint32 // FAT32 only; clusterCountUnknown otherwise
	lastAllocCluster uint32

	sectorCache *cache.Cache // record = one sector; FAT entries + raw-sector root dir
	dataCache   *cache.Cache // record = one cluster; subdirectories, FAT32 root, file data

	fsInfoDirty bool
	mountGen    uint64

	openFiles map[*File]struct{}
}

const clusterCountUnknown = 0xFFFFFFFF

// ClusterSize returns the size of one cluster in bytes.
func (fs *FS) ClusterSize() int {
	return int(fs.sectorsPerCluster) * int(fs.bytesPerSector)
}

// SectorSize returns the logical sector size declared by the BPB.
func (fs *FS) SectorSize() int { return int(fs.bytesPerSector) }

// Type returns which FAT width this volume uses.
func (fs *FS) Type() FSType { return fs.fsType }

// ReadOnly reports whether the volume was mounted (or demoted to)
// read-only.
func (fs *FS) ReadOnly() bool { return fs.readOnly }

// MountOptions configures Mount.
type MountOptions struct {
	// Flags is the mount flag bitmask.
	Flags uint32
	// CacheSlots overrides cache.DefaultSlots for both internal caches
	// if > 0.
	CacheSlots int
	// Logger receives structured engine events; nil disables logging.
	Logger *kosfslog.Logger
}

// Mount reads the boot sector from dev, validates it, and returns a
// mounted FS.
func Mount(dev blockdev.Device, opts MountOptions) (*FS, error) {
	if opts.Flags&flagReserved != 0 {
		return nil, fserr.InvalidArgument
	}
	if opts.Logger == nil {
		opts.Logger = kosfslog.Discard()
	}
	fs := &FS{dev: dev, log: opts.Logger}

	wantRW := opts.Flags&FlagReadWrite != 0
	fs.readOnly = !wantRW || !blockdev.IsWritable(dev)

	if err := fs.parseBPB(); err != nil {
		return nil, err
	}

	slots := opts.CacheSlots
	sc, err := cache.New(dev, int(fs.bytesPerSector), slots)
	if err != nil {
		return nil, fserr.Wrap(err, "fat: sector cache")
	}
	dc, err := cache.New(dev, fs.ClusterSize(), slots)
	if err != nil {
		return nil, fserr.Wrap(err, "fat: data cache")
	}
	fs.sectorCache = sc
	fs.dataCache = dc
	fs.freeClusters = clusterCountUnknown
	fs.lastAllocCluster = firstDataCluster - 1

	if fs.fsType == FAT32 {
		if err := fs.readFSInfo(); err != nil {
			fs.log.Event("fat.fsinfo.invalid").Warn(err)
		}
	}

	fs.mountGen++
	fs.log.Event("fat.mount").WithField("type", fs.fsType.String()).
		WithField("readOnly", fs.readOnly).Info("mounted")
	return fs, nil
}

// Sync flushes, in order, the data/cluster cache, the FAT (sector)
// cache, and FSInfo (FAT32 only). A device error at one stage does not
// prevent later stages from being attempted; the first error
// encountered is returned.
func (fs *FS) Sync() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.syncLocked()
}

func (fs *FS) syncLocked() error {
	var first error
	report := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	report(fs.dataCache.WritebackAll())
	report(fs.sectorCache.WritebackAll())
	if fs.fsType == FAT32 && fs.fsInfoDirty {
		report(fs.writeFSInfo())
		report(fs.sectorCache.WritebackAll())
	}
	return first
}

// Unmount flushes all dirty state and releases the device.
func (fs *FS) Unmount() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	err := fs.syncLocked()
	if shutErr := fs.dev.Shutdown(); err == nil {
		err = shutErr
	}
	fs.log.Event("fat.unmount").Info("unmounted")
	return err
}

func (fs *FS) now() time.Time { return time.Now().UTC() }
