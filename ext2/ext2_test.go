package ext2_test

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kosfs/kosfs/ext2"
	"github.com/kosfs/kosfs/fserr"
	"github.com/kosfs/kosfs/memdev"
)

var order = binary.LittleEndian

// formatMinimalExt2 builds a tiny single-block-group ext2 image by hand:
// block 0 unused (boot block), block 1 the superblock, block 2 the
// one-entry group descriptor table, block 3/4 the block/inode bitmaps,
// blocks 5-8 a 32-inode table, block 9 the root directory's sole data
// block. Field layout mirrors the well-known ext2 on-disk format this
// package's superblock.go/inode.go read.
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
	order.PutUint32(sb[0x00:], 32)   // s_inodes_count
	order.PutUint32(sb[0x04:], 64)   // s_blocks_count
	order.PutUint32(sb[0x08:], 0)    // s_r_blocks_count
	order.PutUint32(sb[0x0C:], 54)   // s_free_blocks_count
	order.PutUint32(sb[0x10:], 30)   // s_free_inodes_count
	order.PutUint32(sb[0x14:], 1)    // s_first_data_block
	order.PutUint32(sb[0x18:], 0)    // s_log_block_size -> 1024
	order.PutUint32(sb[0x20:], 512)  // s_blocks_per_group
	order.PutUint32(sb[0x28:], 32)   // s_inodes_per_group
	order.PutUint16(sb[0x38:], 0xEF53)
	order.PutUint16(sb[0x3A:], 1) // s_state = clean
	order.PutUint32(sb[0x4C:], 1) // s_rev_level = dynamic
	order.PutUint32(sb[0x54:], 11)
	order.PutUint16(sb[0x58:], 128) // s_inode_size

	gd := blk(2)
	order.PutUint32(gd[0x00:], 3) // bg_block_bitmap
	order.PutUint32(gd[0x04:], 4) // bg_inode_bitmap
	order.PutUint32(gd[0x08:], 5) // bg_inode_table
	order.PutUint16(gd[0x0C:], 54)
	order.PutUint16(gd[0x0E:], 30)
	order.PutUint16(gd[0x10:], 1)

	blockBitmap := blk(3)
	blockBitmap[0] = 0xFF // blocks 1..8 (relative idx 0..7) used
	blockBitmap[1] = 0x01 // block 9 (relative idx 8) used

	inodeBitmap := blk(4)
	inodeBitmap[0] = 0x03 // inodes 1 and 2 used

	inodeTable := img[5*fsBlockSize : 9*fsBlockSize]
	rootRec := inodeTable[128:] // inode 2 is the 2nd slot, 128 bytes each
	order.PutUint16(rootRec[0x00:], 0x4000|0755)
	order.PutUint16(rootRec[0x1A:], 2) // i_links_count
	order.PutUint32(rootRec[0x04:], fsBlockSize)
	order.PutUint32(rootRec[0x28:], 9) // i_block[0]

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

func mustMount(t *testing.T, dev *memdev.Device) *ext2.FS {
	t.Helper()
	fs, err := ext2.Mount(dev, ext2.MountOptions{Flags: ext2.FlagReadWrite})
	require.NoError(t, err)
	return fs
}

func TestMountReadsRootDirectory(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	f, err := fs.Open("/hello.txt", ext2.O_WRONLY|ext2.O_CREATE)
	require.NoError(t, err)
	n, err := fs.Write(f, []byte("hello, ext2"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.NoError(t, fs.Close(f))

	f2, err := fs.Open("/hello.txt", ext2.O_RDONLY)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err = fs.Read(f2, buf)
	require.NoError(t, err)
	require.Equal(t, "hello, ext2", string(buf[:n]))
	_, err = fs.Read(f2, buf)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, fs.Close(f2))

	st, err := fs.Stat("/hello.txt")
	require.NoError(t, err)
	require.Equal(t, int64(11), st.Size)
	require.False(t, st.IsDir)
}

func TestMkdirRmdirRoundTrip(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	require.NoError(t, fs.Mkdir("/sub"))
	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "sub", entries[0].Name)
	require.True(t, entries[0].IsDir)

	require.NoError(t, fs.Rmdir("/sub"))
	entries, err = fs.ReadDir("/")
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	require.NoError(t, fs.Mkdir("/sub"))
	f, err := fs.Open("/sub/file.txt", ext2.O_WRONLY|ext2.O_CREATE)
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	err = fs.Rmdir("/sub")
	require.ErrorIs(t, err, fserr.NotEmpty)

	require.NoError(t, fs.Remove("/sub/file.txt"))
	require.NoError(t, fs.Rmdir("/sub"))
}

func TestSymlinkInlineVsBlockThreshold(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	short := "target.txt"
	require.NoError(t, fs.Symlink(short, "/short-link"))
	got, err := fs.Readlink("/short-link")
	require.NoError(t, err)
	require.Equal(t, short, got)

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	require.NoError(t, fs.Symlink(string(long), "/long-link"))
	got, err = fs.Readlink("/long-link")
	require.NoError(t, err)
	require.Equal(t, string(long), got)
}

func TestRemoveFastSymlinkDoesNotCorruptBlockBitmap(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	require.NoError(t, fs.Symlink("target.txt", "/short-link"))
	require.NoError(t, fs.Remove("/short-link"))

	_, err := fs.Stat("/short-link")
	require.ErrorIs(t, err, fserr.NoEntry)

	// A corrupted bitmap from treating the inline target bytes as block
	// numbers would make this allocation fail or hand back garbage.
	f, err := fs.Open("/after.txt", ext2.O_WRONLY|ext2.O_CREATE)
	require.NoError(t, err)
	_, err = fs.Write(f, []byte("ok"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))
}

func TestRemoveBlockBackedSymlinkFreesItsBlock(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	require.NoError(t, fs.Symlink(string(long), "/long-link"))
	require.NoError(t, fs.Remove("/long-link"))

	_, err := fs.Stat("/long-link")
	require.ErrorIs(t, err, fserr.NoEntry)
}

func TestRenameOntoExistingFileReplacesIt(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	src, err := fs.Open("/src.txt", ext2.O_WRONLY|ext2.O_CREATE)
	require.NoError(t, err)
	_, err = fs.Write(src, []byte("new"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(src))

	dst, err := fs.Open("/dst.txt", ext2.O_WRONLY|ext2.O_CREATE)
	require.NoError(t, err)
	_, err = fs.Write(dst, []byte("old contents"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(dst))

	require.NoError(t, fs.Rename("/src.txt", "/dst.txt"))

	_, err = fs.Stat("/src.txt")
	require.ErrorIs(t, err, fserr.NoEntry)

	f, err := fs.Open("/dst.txt", ext2.O_RDONLY)
	require.NoError(t, err)
	buf := make([]byte, 16)
	n, err := fs.Read(f, buf)
	require.True(t, err == nil || err == io.EOF)
	require.Equal(t, "new", string(buf[:n]))
	require.NoError(t, fs.Close(f))
}

func TestRenameOntoNonEmptyDirFails(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	require.NoError(t, fs.Mkdir("/src"))
	require.NoError(t, fs.Mkdir("/dst"))
	f, err := fs.Open("/dst/child.txt", ext2.O_WRONLY|ext2.O_CREATE)
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	err = fs.Rename("/src", "/dst")
	require.ErrorIs(t, err, fserr.NotEmpty)
}

func TestRenameOntoMismatchedTypeFails(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	require.NoError(t, fs.Mkdir("/adir"))
	f, err := fs.Open("/afile.txt", ext2.O_WRONLY|ext2.O_CREATE)
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	require.ErrorIs(t, fs.Rename("/adir", "/afile.txt"), fserr.NotDirectory)
	require.ErrorIs(t, fs.Rename("/afile.txt", "/adir"), fserr.IsDirectory)
}

func TestRenameRejectsMoveIntoOwnDescendant(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	require.NoError(t, fs.Mkdir("/a"))
	require.NoError(t, fs.Mkdir("/a/b"))

	err := fs.Rename("/a", "/a/b/a")
	require.ErrorIs(t, err, fserr.InvalidArgument)
}

func TestRenameAcrossDirectoriesMovesFile(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	require.NoError(t, fs.Mkdir("/src"))
	require.NoError(t, fs.Mkdir("/dst"))
	f, err := fs.Open("/src/f.txt", ext2.O_WRONLY|ext2.O_CREATE)
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	require.NoError(t, fs.Rename("/src/f.txt", "/dst/f.txt"))

	_, err = fs.Stat("/src/f.txt")
	require.ErrorIs(t, err, fserr.NoEntry)
	st, err := fs.Stat("/dst/f.txt")
	require.NoError(t, err)
	require.False(t, st.IsDir)
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs := mustMount(t, dev)

	_, err := fs.Open("/nope.txt", ext2.O_RDONLY)
	require.ErrorIs(t, err, fserr.NoEntry)
}

func TestReadOnlyMountRejectsWrite(t *testing.T) {
	dev := formatMinimalExt2(t)
	fs, err := ext2.Mount(dev, ext2.MountOptions{})
	require.NoError(t, err)
	require.True(t, fs.ReadOnly())

	_, err = fs.Open("/x.txt", ext2.O_WRONLY|ext2.O_CREATE)
	require.ErrorIs(t, err, fserr.ReadOnlyFilesystem)
}
