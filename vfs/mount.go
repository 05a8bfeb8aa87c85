package vfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/kosfs/kosfs/blockdev"
	"github.com/kosfs/kosfs/ext2"
	"github.com/kosfs/kosfs/fat"
	"github.com/kosfs/kosfs/fserr"
	kosfslog "github.com/kosfs/kosfs/internal/log"
)

// EngineKind selects which on-disk format Mount reads the device as.
type EngineKind int

const (
	EngineFAT EngineKind = iota
	EngineExt2
)

// MountOptions configures a single Mount call: which engine to mount
// the device with, plus the per-engine knobs fat.Mount and ext2.Mount
// already accept.
type MountOptions struct {
	Kind       EngineKind
	Flags      uint32
	CacheSlots int
	Logger     *kosfslog.Logger
}

type mountPoint struct {
	prefix string // e.g. "/mnt/data", always without a trailing slash except the root "/"
	engine Engine
}

// MountTable maps path prefixes to mounted engines, resolving each
// lookup to the longest matching prefix (so "/" can hold a default
// volume while "/mnt/data" shadows it for paths underneath).
type MountTable struct {
	mu     sync.Mutex
	mounts []mountPoint
}

// NewMountTable returns an empty table.
func NewMountTable() *MountTable { return &MountTable{} }

func normalizeMountPath(p string) string {
	if p == "" {
		p = "/"
	}
	if p != "/" {
		p = strings.TrimSuffix(p, "/")
	}
	return p
}

// Mount mounts the filesystem already on dev with the requested engine
// kind and registers it at path; it does not format the device. path
// must not already have a volume mounted on it exactly.
func (mt *MountTable) Mount(path string, dev blockdev.Device, opts MountOptions) error {
	path = normalizeMountPath(path)

	var eng Engine
	switch opts.Kind {
	case EngineFAT:
		fs, err := fat.Mount(dev, fat.MountOptions{
			Flags: opts.Flags, CacheSlots: opts.CacheSlots, Logger: opts.Logger,
		})
		if err != nil {
			return err
		}
		eng = newFatEngine(fs)
	case EngineExt2:
		fs, err := ext2.Mount(dev, ext2.MountOptions{
			Flags: opts.Flags, CacheSlots: opts.CacheSlots, Logger: opts.Logger,
		})
		if err != nil {
			return err
		}
		eng = newExt2Engine(fs)
	default:
		return fserr.InvalidArgument
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()
	for _, m := range mt.mounts {
		if m.prefix == path {
			eng.Unmount()
			return fserr.Exists
		}
	}
	mt.mounts = append(mt.mounts, mountPoint{prefix: path, engine: eng})
	sort.Slice(mt.mounts, func(i, j int) bool {
		return len(mt.mounts[i].prefix) > len(mt.mounts[j].prefix)
	})
	return nil
}

// Unmount flushes and releases the volume mounted exactly at path.
func (mt *MountTable) Unmount(path string) error {
	path = normalizeMountPath(path)
	mt.mu.Lock()
	defer mt.mu.Unlock()
	for i, m := range mt.mounts {
		if m.prefix == path {
			err := m.engine.Unmount()
			mt.mounts = append(mt.mounts[:i], mt.mounts[i+1:]...)
			return err
		}
	}
	return fserr.NoEntry
}

// resolve returns the engine mounted on the longest prefix of path,
// along with path rewritten relative to that engine's own root.
func (mt *MountTable) resolve(path string) (Engine, string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, "", fserr.InvalidArgument
	}
	mt.mu.Lock()
	defer mt.mu.Unlock()
	for _, m := range mt.mounts {
		if m.prefix == "/" {
			return m.engine, path, nil
		}
		if path == m.prefix {
			return m.engine, "/", nil
		}
		if strings.HasPrefix(path, m.prefix+"/") {
			rel := strings.TrimPrefix(path, m.prefix)
			return m.engine, rel, nil
		}
	}
	return nil, "", fserr.NoEntry
}

// Sync flushes every mounted volume, returning the first error
// encountered but attempting every volume regardless: a device error
// at any stage is reported, but later volumes still get their chance
// to flush.
func (mt *MountTable) Sync() error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	var first error
	for _, m := range mt.mounts {
		if err := m.engine.Sync(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// UnmountAll releases every mounted volume.
func (mt *MountTable) UnmountAll() error {
	mt.mu.Lock()
	mounts := mt.mounts
	mt.mounts = nil
	mt.mu.Unlock()
	var first error
	for _, m := range mounts {
		if err := m.engine.Unmount(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
