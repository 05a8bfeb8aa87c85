package vfs_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kosfs/kosfs/fat"
	"github.com/kosfs/kosfs/fserr"
	"github.com/kosfs/kosfs/memdev"
	"github.com/kosfs/kosfs/vfs"
)

var order = binary.LittleEndian

// formatFAT16 writes a minimal valid FAT16 boot sector, grounded on
// fat_test.go's own fixture builder in the sibling package.
func formatFAT16(t *testing.T, totalSectors uint32) *memdev.Device {
	t.Helper()
	const bytesPerSector = 512
	dev := memdev.New(bytesPerSector, int(totalSectors))
	require.NoError(t, dev.Init())

	buf := make([]byte, bytesPerSector)
	order.PutUint16(buf[0x0B:], bytesPerSector)
	buf[0x0D] = 4 // sectors per cluster
	order.PutUint16(buf[0x0E:], 1)
	buf[0x10] = 2 // number of FATs
	order.PutUint16(buf[0x11:], 512)
	order.PutUint16(buf[0x13:], uint16(totalSectors))
	order.PutUint16(buf[0x16:], 32) // FAT size sectors
	buf[0x1FE] = 0x55
	buf[0x1FF] = 0xAA
	require.NoError(t, dev.WriteBlocks(buf, 0))
	return dev
}

// formatMinimalExt2 builds the same tiny single-group image
// ext2_test.go's formatMinimalExt2 does, grounded on the standard
// ext2 on-disk layout.
func formatMinimalExt2(t *testing.T) *memdev.Device {
	t.Helper()
	const (
		fsBlockSize = 1024
		devBlockSz  = 512
		totalBlocks = 64
	)
	img := make([]byte, totalBlocks*fsBlockSize)
	blk := func(n int) []byte { return img[n*fsBlockSize : (n+1)*fsBlockSize] }

	sb := blk(1)
	order.PutUint32(sb[0x00:], 32)
	order.PutUint32(sb[0x04:], 64)
	order.PutUint32(sb[0x08:], 0)
	order.PutUint32(sb[0x0C:], 54)
	order.PutUint32(sb[0x10:], 30)
	order.PutUint32(sb[0x14:], 1)
	order.PutUint32(sb[0x18:], 0)
	order.PutUint32(sb[0x20:], 512)
	order.PutUint32(sb[0x28:], 32)
	order.PutUint16(sb[0x38:], 0xEF53)
	order.PutUint16(sb[0x3A:], 1)
	order.PutUint32(sb[0x4C:], 1)
	order.PutUint32(sb[0x54:], 11)
	order.PutUint16(sb[0x58:], 128)

	gd := blk(2)
	order.PutUint32(gd[0x00:], 3)
	order.PutUint32(gd[0x04:], 4)
	order.PutUint32(gd[0x08:], 5)
	order.PutUint16(gd[0x0C:], 54)
	order.PutUint16(gd[0x0E:], 30)
	order.PutUint16(gd[0x10:], 1)

	blockBitmap := blk(3)
	blockBitmap[0] = 0xFF
	blockBitmap[1] = 0x01

	inodeBitmap := blk(4)
	inodeBitmap[0] = 0x03

	inodeTable := img[5*fsBlockSize : 9*fsBlockSize]
	rootRec := inodeTable[128:]
	order.PutUint16(rootRec[0x00:], 0x4000|0755)
	order.PutUint16(rootRec[0x1A:], 2)
	order.PutUint32(rootRec[0x04:], fsBlockSize)
	order.PutUint32(rootRec[0x28:], 9)

	rootDir := blk(9)
	order.PutUint32(rootDir[0:], 2)
	order.PutUint16(rootDir[4:], 12)
	rootDir[6] = 1
	rootDir[7] = 2
	rootDir[8] = '.'
	order.PutUint32(rootDir[12:], 2)
	order.PutUint16(rootDir[16:], fsBlockSize-12)
	rootDir[18] = 2
	rootDir[19] = 2
	copy(rootDir[20:], "..")

	dev := memdev.NewFromImage(devBlockSz, img)
	require.NoError(t, dev.Init())
	return dev
}

func mustMountBoth(t *testing.T) *vfs.VFS {
	t.Helper()
	v := vfs.New()
	require.NoError(t, v.Mount("/", formatFAT16(t, 20000), vfs.MountOptions{
		Kind: vfs.EngineFAT, Flags: fat.FlagReadWrite,
	}))
	require.NoError(t, v.Mount("/mnt/data", formatMinimalExt2(t), vfs.MountOptions{
		Kind: vfs.EngineExt2, Flags: 1,
	}))
	return v
}

func TestLongestPrefixRoutesToCorrectEngine(t *testing.T) {
	v := mustMountBoth(t)

	require.NoError(t, v.Mkdir("/fatdir"))
	entries, err := v.ReadDir("/")
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["fatdir"])
	require.False(t, names["mnt"], "mount point itself is not synthesized as a directory entry on the root volume")

	require.NoError(t, v.Mkdir("/mnt/data/ext2dir"))
	entries, err = v.ReadDir("/mnt/data")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "ext2dir", entries[0].Name)
	require.True(t, entries[0].IsDir)
}

func TestOpenWriteStatCrossEngine(t *testing.T) {
	v := mustMountBoth(t)

	fFat, err := v.Open("/a.txt", vfs.O_WRONLY|vfs.O_CREATE)
	require.NoError(t, err)
	_, err = v.Write(fFat, []byte("on fat"))
	require.NoError(t, err)
	require.NoError(t, v.CloseHandle(fFat))

	fExt2, err := v.Open("/mnt/data/b.txt", vfs.O_WRONLY|vfs.O_CREATE)
	require.NoError(t, err)
	_, err = v.Write(fExt2, []byte("on ext2"))
	require.NoError(t, err)
	require.NoError(t, v.CloseHandle(fExt2))

	st, err := v.Stat("/a.txt")
	require.NoError(t, err)
	require.Equal(t, int64(6), st.Size)

	st, err = v.Stat("/mnt/data/b.txt")
	require.NoError(t, err)
	require.Equal(t, int64(7), st.Size)
}

func TestFstatUsesPathRecordedAtOpen(t *testing.T) {
	v := mustMountBoth(t)

	f, err := v.Open("/mnt/data/c.txt", vfs.O_WRONLY|vfs.O_CREATE)
	require.NoError(t, err)
	_, err = v.Write(f, []byte("hello"))
	require.NoError(t, err)

	st, err := v.Fstat(f)
	require.NoError(t, err)
	require.Equal(t, int64(5), st.Size)
	require.NoError(t, v.CloseHandle(f))
}

func TestRenameAcrossVolumesRejectedAsCrossDevice(t *testing.T) {
	v := mustMountBoth(t)

	f, err := v.Open("/a.txt", vfs.O_WRONLY|vfs.O_CREATE)
	require.NoError(t, err)
	require.NoError(t, v.CloseHandle(f))

	err = v.Rename("/a.txt", "/mnt/data/a.txt")
	require.ErrorIs(t, err, fserr.CrossDevice)
}

func TestFatSymlinkNotSupportedButExt2Works(t *testing.T) {
	v := mustMountBoth(t)

	err := v.Symlink("target", "/link")
	require.ErrorIs(t, err, fserr.NotSupported)

	require.NoError(t, v.Symlink("target.txt", "/mnt/data/link"))
	got, err := v.Readlink("/mnt/data/link")
	require.NoError(t, err)
	require.Equal(t, "target.txt", got)
}

func TestDoubleMountAtSamePathRejected(t *testing.T) {
	v := vfs.New()
	require.NoError(t, v.Mount("/", formatFAT16(t, 20000), vfs.MountOptions{
		Kind: vfs.EngineFAT, Flags: fat.FlagReadWrite,
	}))
	err := v.Mount("/", formatFAT16(t, 20000), vfs.MountOptions{
		Kind: vfs.EngineFAT, Flags: fat.FlagReadWrite,
	})
	require.ErrorIs(t, err, fserr.Exists)
}

func TestFcntlGetFLReportsOpenFlags(t *testing.T) {
	v := mustMountBoth(t)

	f, err := v.Open("/a.txt", vfs.O_WRONLY|vfs.O_CREATE)
	require.NoError(t, err)
	defer v.CloseHandle(f)

	flags, err := v.Fcntl(f, vfs.FcntlGetFL, 0)
	require.NoError(t, err)
	require.Equal(t, vfs.O_WRONLY|vfs.O_CREATE, flags)
}

func TestCloseUnmountsEveryVolume(t *testing.T) {
	v := mustMountBoth(t)
	require.NoError(t, v.Close())

	_, err := v.Stat("/")
	require.ErrorIs(t, err, fserr.NoEntry)
}
