package main

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	kosfslog "github.com/kosfs/kosfs/internal/log"
	"github.com/kosfs/kosfs/memdev"
	"github.com/kosfs/kosfs/vfs"
)

const imageBlockSize = 512

// detectKind sniffs an ext2 superblock magic at byte offset 1024 or a
// FAT boot signature at bytes 510/511, used when --type is left at its
// "auto" default.
func detectKind(path string, data []byte) (vfs.EngineKind, error) {
	if len(data) >= 1024+0x3A+2 {
		magic := binary.LittleEndian.Uint16(data[1024+0x38:])
		if magic == 0xEF53 {
			return vfs.EngineExt2, nil
		}
	}
	if len(data) >= 512 && data[510] == 0x55 && data[511] == 0xAA {
		return vfs.EngineFAT, nil
	}
	return 0, fmt.Errorf("kosfsctl: could not detect filesystem type in %q, pass --type fat|ext2", path)
}

func parseKind(s, path string, data []byte) (vfs.EngineKind, error) {
	switch s {
	case "fat":
		return vfs.EngineFAT, nil
	case "ext2":
		return vfs.EngineExt2, nil
	case "auto", "":
		return detectKind(path, data)
	default:
		return 0, fmt.Errorf("kosfsctl: unknown --type %q", s)
	}
}

func newLogger() *kosfslog.Logger {
	lvl, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		lvl = logrus.WarnLevel
	}
	l := logrus.New()
	l.SetLevel(lvl)
	return kosfslog.New(l)
}

// mountedImage bundles the state a subcommand needs to run one
// operation and, if mounted read-write, write the resulting image
// bytes back to disk.
type mountedImage struct {
	v    *vfs.VFS
	dev  *memdev.Device
	path string
	rw   bool
}

func openImage(path string) (*mountedImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%imageBlockSize != 0 {
		return nil, fmt.Errorf("kosfsctl: %s is not a multiple of the %d-byte block size", path, imageBlockSize)
	}
	kind, err := parseKind(flagType, path, data)
	if err != nil {
		return nil, err
	}

	dev := memdev.NewFromImage(imageBlockSize, data)
	if err := dev.Init(); err != nil {
		return nil, err
	}
	dev.SetReadOnly(!flagRW)

	var flags uint32
	if flagRW {
		flags = 1 // bit 0: read-write
	}
	v := vfs.New()
	if err := v.Mount("/", dev, vfs.MountOptions{
		Kind: kind, Flags: flags, CacheSlots: flagCacheSlots, Logger: newLogger(),
	}); err != nil {
		return nil, err
	}
	return &mountedImage{v: v, dev: dev, path: path, rw: flagRW}, nil
}

// close unmounts the volume and, if it was mounted read-write,
// persists the (possibly mutated) in-memory image back to path.
func (m *mountedImage) close() error {
	if err := m.v.Close(); err != nil {
		return err
	}
	if !m.rw {
		return nil
	}
	return os.WriteFile(m.path, m.dev.Image(), 0644)
}

// closeImage runs m.close() in a defer, preserving an already-set
// command error over a close error but surfacing the close error when
// the command otherwise succeeded.
func closeImage(m *mountedImage, err *error) {
	if cerr := m.close(); cerr != nil && *err == nil {
		*err = cerr
	}
}
