// Package memdev implements an in-memory blockdev.Device backed by a
// byte slice, used by engine tests and by kosfsctl's scratch-image
// mode. A flat slice is simpler than a map-of-blocks and is sufficient
// since tests and the CLI demo do not need sparse multi-gigabyte
// images.
package memdev

import (
	"github.com/kosfs/kosfs/blockdev"
)

// Device is an in-memory block device of fixed size.
type Device struct {
	blockSize int
	data      []byte
	readOnly  bool
	initCalls int
}

var _ blockdev.Device = (*Device)(nil)
var _ blockdev.Writable = (*Device)(nil)

// New creates a Device with the given block size and block count, all
// blocks zeroed.
func New(blockSize, numBlocks int) *Device {
	return &Device{
		blockSize: blockSize,
		data:      make([]byte, blockSize*numBlocks),
	}
}

// NewFromImage wraps an existing byte slice (e.g. loaded from a disk
// image file) as a Device. len(image) must be a multiple of blockSize.
func NewFromImage(blockSize int, image []byte) *Device {
	return &Device{blockSize: blockSize, data: image}
}

func (d *Device) Init() error     { d.initCalls++; return nil }
func (d *Device) Shutdown() error { return nil }

func (d *Device) BlockSize() int { return d.blockSize }

func (d *Device) CountBlocks() (int64, error) {
	return int64(len(d.data) / d.blockSize), nil
}

func (d *Device) Writable() bool { return !d.readOnly }

// SetReadOnly toggles whether WriteBlocks succeeds.
func (d *Device) SetReadOnly(ro bool) { d.readOnly = ro }

func (d *Device) bounds(start int64, n int) (int, int, error) {
	if start < 0 || n%d.blockSize != 0 {
		return 0, 0, blockdev.ErrOutOfRange
	}
	off := int(start) * d.blockSize
	end := off + n
	if off < 0 || end > len(d.data) {
		return 0, 0, blockdev.ErrOutOfRange
	}
	return off, end, nil
}

func (d *Device) ReadBlocks(buf []byte, start int64) error {
	off, end, err := d.bounds(start, len(buf))
	if err != nil {
		return err
	}
	copy(buf, d.data[off:end])
	return nil
}

func (d *Device) WriteBlocks(buf []byte, start int64) error {
	if d.readOnly {
		return blockdev.ErrReadOnly
	}
	off, end, err := d.bounds(start, len(buf))
	if err != nil {
		return err
	}
	copy(d.data[off:end], buf)
	return nil
}

// ReadBlockForTest returns a copy of the single block at index idx,
// bypassing any cache, for test assertions.
func (d *Device) ReadBlockForTest(idx int64) ([]byte, error) {
	buf := make([]byte, d.blockSize)
	if err := d.ReadBlocks(buf, idx); err != nil {
		return nil, err
	}
	return buf, nil
}

// Image returns the raw backing slice, for tests that want to inspect
// or persist the whole device.
func (d *Device) Image() []byte { return d.data }
