package cache_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kosfs/kosfs/cache"
	"github.com/kosfs/kosfs/memdev"
)

func TestCacheHitDoesNotEvict(t *testing.T) {
	dev := memdev.New(512, 64)
	c, err := cache.New(dev, 512, 4)
	require.NoError(t, err)

	for i := int64(0); i < 4; i++ {
		_, err := c.Get(i)
		require.NoError(t, err)
	}
	// Touching record 0 again should not evict anything else; working
	// set of 4 records in a 4-slot cache never evicts.
	_, err = c.Get(0)
	require.NoError(t, err)
	for i := int64(0); i < 4; i++ {
		buf, err := c.Get(i)
		require.NoError(t, err)
		require.NotNil(t, buf)
	}
}

func TestDirtyEvictionWritesBack(t *testing.T) {
	dev := memdev.New(512, 64)
	c, err := cache.New(dev, 512, 2)
	require.NoError(t, err)

	buf, err := c.GetCleared(0)
	require.NoError(t, err)
	buf[0] = 0xAB
	require.NoError(t, c.MarkDirty(0))

	// Fill remaining slot and force eviction of record 0.
	_, err = c.Get(1)
	require.NoError(t, err)
	_, err = c.Get(2)
	require.NoError(t, err)

	require.Equal(t, 0, c.DirtyCount())

	got, err := dev.ReadBlockForTest(0)
	require.NoError(t, err)
	require.Equal(t, byte(0xAB), got[0])
}

func TestMarkDirtyMissingIsError(t *testing.T) {
	dev := memdev.New(512, 8)
	c, err := cache.New(dev, 512, 2)
	require.NoError(t, err)
	require.ErrorIs(t, c.MarkDirty(5), cache.ErrNotPresent)
}

func TestWritebackAllClearsDirty(t *testing.T) {
	dev := memdev.New(512, 8)
	c, err := cache.New(dev, 512, 4)
	require.NoError(t, err)

	for i := int64(0); i < 3; i++ {
		buf, err := c.GetCleared(i)
		require.NoError(t, err)
		buf[0] = byte(i + 1)
		require.NoError(t, c.MarkDirty(i))
	}
	require.Equal(t, 3, c.DirtyCount())
	require.NoError(t, c.WritebackAll())
	require.Equal(t, 0, c.DirtyCount())
}

func TestReadOnlyWritebackIsNoop(t *testing.T) {
	dev := memdev.New(512, 8)
	dev.SetReadOnly(true)
	c, err := cache.New(dev, 512, 2)
	require.NoError(t, err)

	_, err = c.GetCleared(0)
	require.NoError(t, err)
	require.NoError(t, c.MarkDirty(0))
	require.NoError(t, c.WritebackAll())
}
