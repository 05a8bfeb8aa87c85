// Package blockdev defines the block device contract both filesystem
// engines are built on top of. A BlockDevice is the only I/O surface an
// engine ever touches; partitioning, disk enumeration and ramdisk
// backing stores are the host's problem, not this package's.
package blockdev

import "errors"

// ErrReadOnly is returned by WriteBlocks implementations that have no
// backing write path.
var ErrReadOnly = errors.New("blockdev: device is read-only")

// ErrOutOfRange is returned when a read or write addresses blocks beyond
// CountBlocks.
var ErrOutOfRange = errors.New("blockdev: block index out of range")

// Device is the five-operation block device contract. All operations
// are synchronous; implementations must not return a
// partial read or write — either the full run of blocks is transferred
// or an error is returned and the buffer contents are undefined.
type Device interface {
	// Init performs one-time device acquisition. The engines' Mount
	// functions do not call Init; the host calls it before mounting.
	// Init must be idempotent with respect to repeated Shutdown/Init
	// cycles on the same Device value.
	Init() error

	// Shutdown releases the device. It must be safe to call more than
	// once (idempotent).
	Shutdown() error

	// ReadBlocks reads exactly len(buf)/BlockSize blocks starting at
	// block index start into buf. len(buf) must be a multiple of
	// BlockSize.
	ReadBlocks(buf []byte, start int64) error

	// WriteBlocks writes exactly len(buf)/BlockSize blocks starting at
	// block index start. A device without a meaningful write path
	// returns ErrReadOnly for every call.
	WriteBlocks(buf []byte, start int64) error

	// CountBlocks returns the total number of blocks available on the
	// device.
	CountBlocks() (int64, error)

	// BlockSize returns the device's native block size in bytes, a
	// power of two. Engines tolerate device block sizes of 512, 1024,
	// 2048 and 4096 bytes; callers needing a logical size smaller than
	// the device's must read a full device block and slice it.
	BlockSize() int
}

// Log2BlockSize returns n such that 1<<n == dev.BlockSize(). Panics if
// BlockSize is not a power of two, which would indicate a broken Device
// implementation.
func Log2BlockSize(dev Device) uint {
	sz := dev.BlockSize()
	if sz <= 0 || sz&(sz-1) != 0 {
		panic("blockdev: BlockSize must be a power of two")
	}
	var n uint
	for sz > 1 {
		sz >>= 1
		n++
	}
	return n
}

// Writable reports whether dev supports WriteBlocks. Engines probe this
// at mount time to decide whether a requested read-write mount must
// fall back to read-only.
type Writable interface {
	Device
	// Writable returns false if the device is fundamentally read-only
	// (e.g. backed by a read-only file or a physical ROM). Devices that
	// always support writes may omit this interface; absence of the
	// interface is treated as writable.
	Writable() bool
}

// IsWritable reports whether dev can be mounted read-write.
func IsWritable(dev Device) bool {
	w, ok := dev.(Writable)
	if !ok {
		return true
	}
	return w.Writable()
}
