// Package cache implements the write-back record cache shared by the
// ext2 and FAT engines. A Cache holds a fixed number of
// equally-sized records — one sector or one cluster/block, depending on
// which cache an engine is using it for — kept in strict MRU order:
// slot 0 is least-recently-used and is always the first candidate for
// eviction.
package cache

import (
	"github.com/pkg/errors"

	"github.com/kosfs/kosfs/blockdev"
)

// DefaultSlots is the default number of records a Cache holds when a
// mount call does not override it.
const DefaultSlots = 8

var (
	// ErrNotPresent is returned by MarkDirty when the record id is not
	// resident in the cache. This is a programming invariant violation
	// by the calling engine, not a recoverable condition.
	ErrNotPresent = errors.New("cache: record not present")
)

type record struct {
	id    int64
	valid bool
	dirty bool
	buf   []byte
}

// Cache is a fixed-size MRU write-back buffer cache over a BlockDevice,
// addressed by an engine-defined "record id" — a sector index for FAT
// metadata, or a cluster/block index for data.
type Cache struct {
	dev        blockdev.Device
	recordSize int  // bytes per record
	blocksPer  int  // device blocks spanned by one record
	readOnly   bool
	slots      []record
}

// New creates a Cache of n slots, each recordSize bytes, backed by dev.
// recordSize must be a multiple of dev.BlockSize(). If n <= 0,
// DefaultSlots is used.
func New(dev blockdev.Device, recordSize int, n int) (*Cache, error) {
	if n <= 0 {
		n = DefaultSlots
	}
	bs := dev.BlockSize()
	if recordSize%bs != 0 {
		return nil, errors.Errorf("cache: record size %d not a multiple of block size %d", recordSize, bs)
	}
	slots := make([]record, n)
	for i := range slots {
		slots[i].buf = make([]byte, recordSize)
	}
	return &Cache{
		dev:        dev,
		recordSize: recordSize,
		blocksPer:  recordSize / bs,
		readOnly:   !blockdev.IsWritable(dev),
		slots:      slots,
	}, nil
}

// RecordSize returns the byte size of one cached record.
func (c *Cache) RecordSize() int { return c.recordSize }

// find returns the slot index holding id, or -1.
func (c *Cache) find(id int64) int {
	for i, s := range c.slots {
		if s.valid && s.id == id {
			return i
		}
	}
	return -1
}

// promote moves the slot at index i to the MRU position (end of the
// slice) by shifting everything after it down by one, preserving the
// MRU-ordering invariant used for eviction.
func (c *Cache) promote(i int) int {
	if i == len(c.slots)-1 {
		return i
	}
	s := c.slots[i]
	copy(c.slots[i:], c.slots[i+1:])
	c.slots[len(c.slots)-1] = s
	return len(c.slots) - 1
}

// evictForRefill makes slot 0 available for reuse as record id,
// writing it back first if dirty. Returns the (now-reusable) slot
// index, which is always 0.
func (c *Cache) evictForRefill(id int64) error {
	victim := &c.slots[0]
	if victim.valid && victim.dirty {
		if err := c.writeback(victim); err != nil {
			return errors.Wrap(err, "cache: evict write-back")
		}
	}
	victim.id = id
	victim.valid = false
	victim.dirty = false
	return nil
}

func (c *Cache) writeback(r *record) error {
	if c.readOnly {
		return nil
	}
	start := int64(r.id) * int64(c.blocksPer)
	if err := c.dev.WriteBlocks(r.buf, start); err != nil {
		return err
	}
	r.dirty = false
	return nil
}

// Get returns the buffer for record id, reading it from the device on
// a cache miss. The returned slice aliases the cache's internal buffer
// and is valid until the next Get/GetCleared call that evicts it.
func (c *Cache) Get(id int64) ([]byte, error) {
	if i := c.find(id); i >= 0 {
		i = c.promote(i)
		return c.slots[i].buf, nil
	}
	if err := c.evictForRefill(id); err != nil {
		return nil, err
	}
	r := &c.slots[0]
	start := int64(id) * int64(c.blocksPer)
	if err := c.dev.ReadBlocks(r.buf, start); err != nil {
		return nil, errors.Wrap(err, "cache: refill read")
	}
	r.valid = true
	r.dirty = false
	i := c.promote(0)
	return c.slots[i].buf, nil
}

// GetCleared returns a zero-filled buffer for record id without
// reading the device, marking it Valid and Dirty immediately. Used
// when allocating a new cluster/block whose previous contents do not
// matter because the caller is about to overwrite all of it.
func (c *Cache) GetCleared(id int64) ([]byte, error) {
	if i := c.find(id); i >= 0 {
		r := &c.slots[i]
		for j := range r.buf {
			r.buf[j] = 0
		}
		r.dirty = true
		i = c.promote(i)
		return c.slots[i].buf, nil
	}
	if err := c.evictForRefill(id); err != nil {
		return nil, err
	}
	r := &c.slots[0]
	for j := range r.buf {
		r.buf[j] = 0
	}
	r.valid = true
	r.dirty = true
	i := c.promote(0)
	return c.slots[i].buf, nil
}

// MarkDirty flags record id as dirty. The record must already be
// resident (obtained via Get/GetCleared); if it is not, that is an
// engine programming error and ErrNotPresent is returned.
func (c *Cache) MarkDirty(id int64) error {
	i := c.find(id)
	if i < 0 {
		return ErrNotPresent
	}
	c.slots[i].dirty = true
	return nil
}

// WritebackAll flushes every dirty record to the device in LRU-to-MRU
// order, clearing their dirty flags. It stops at the first device
// error and reports it; records written back before the failing one
// remain clean. A read-only cache is a no-op.
func (c *Cache) WritebackAll() error {
	if c.readOnly {
		return nil
	}
	for i := range c.slots {
		r := &c.slots[i]
		if r.valid && r.dirty {
			if err := c.writeback(r); err != nil {
				return errors.Wrap(err, "cache: writeback-all")
			}
		}
	}
	return nil
}

// Invalidate drops record id from the cache without writing it back,
// regardless of its dirty flag. Used when an engine knows a record's
// backing storage has been repurposed (e.g. a cluster freed and about
// to be reused for something else).
func (c *Cache) Invalidate(id int64) {
	if i := c.find(id); i >= 0 {
		c.slots[i].valid = false
		c.slots[i].dirty = false
	}
}

// Len returns the number of slots in the cache.
func (c *Cache) Len() int { return len(c.slots) }

// DirtyCount returns the number of currently dirty records, for tests
// asserting write-back invariants.
func (c *Cache) DirtyCount() int {
	n := 0
	for _, s := range c.slots {
		if s.valid && s.dirty {
			n++
		}
	}
	return n
}
