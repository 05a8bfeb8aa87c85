package fat_test

import (
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kosfs/kosfs/fat"
	"github.com/kosfs/kosfs/fserr"
	"github.com/kosfs/kosfs/memdev"
)

var order = binary.LittleEndian

// formatFAT16 writes a minimal valid FAT16 boot sector onto dev so that
// fat.Mount can parse it.
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

func mustMount(t *testing.T, dev *memdev.Device) *fat.FS {
	t.Helper()
	fs, err := fat.Mount(dev, fat.MountOptions{Flags: fat.FlagReadWrite})
	require.NoError(t, err)
	return fs
}

func TestMountDetectsFAT16(t *testing.T) {
	dev := formatFAT16(t, 20000)
	fs := mustMount(t, dev)
	require.Equal(t, fat.FAT16, fs.Type())
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	dev := formatFAT16(t, 20000)
	fs := mustMount(t, dev)

	f, err := fs.Open("/hello.txt", fat.O_WRONLY|fat.O_CREATE)
	require.NoError(t, err)
	n, err := fs.Write(f, []byte("hello, world"))
	require.NoError(t, err)
	require.Equal(t, 12, n)
	require.NoError(t, fs.Close(f))

	f2, err := fs.Open("/hello.txt", fat.O_RDONLY)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err = fs.Read(f2, buf)
	require.NoError(t, err)
	require.Equal(t, "hello, world", string(buf[:n]))
	_, err = fs.Read(f2, buf)
	require.ErrorIs(t, err, io.EOF)
	require.NoError(t, fs.Close(f2))

	st, err := fs.Stat("/hello.txt")
	require.NoError(t, err)
	require.Equal(t, int64(12), st.Size)
	require.False(t, st.IsDir)
}

func TestWriteSpanningMultipleClusters(t *testing.T) {
	dev := formatFAT16(t, 20000)
	fs := mustMount(t, dev)

	data := make([]byte, 4*512*3+17) // spans several 4-sector clusters
	for i := range data {
		data[i] = byte(i)
	}
	f, err := fs.Open("/big.bin", fat.O_WRONLY|fat.O_CREATE)
	require.NoError(t, err)
	n, err := fs.Write(f, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, fs.Close(f))

	f2, err := fs.Open("/big.bin", fat.O_RDONLY)
	require.NoError(t, err)
	out := make([]byte, len(data))
	total := 0
	for total < len(out) {
		n, err := fs.Read(f2, out[total:])
		if n == 0 && err != nil {
			break
		}
		total += n
	}
	require.Equal(t, data, out)
}

func TestMkdirAndReadDir(t *testing.T) {
	dev := formatFAT16(t, 20000)
	fs := mustMount(t, dev)

	require.NoError(t, fs.Mkdir("/sub"))
	f, err := fs.Open("/sub/file.txt", fat.O_WRONLY|fat.O_CREATE)
	require.NoError(t, err)
	_, err = fs.Write(f, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "sub", entries[0].Name)
	require.True(t, entries[0].IsDir)

	sub, err := fs.ReadDir("/sub")
	require.NoError(t, err)
	require.Len(t, sub, 1)
	require.Equal(t, "file.txt", sub[0].Name)
}

func TestLongNameRoundTrip(t *testing.T) {
	dev := formatFAT16(t, 20000)
	fs := mustMount(t, dev)

	name := "/a rather long file name.txt"
	f, err := fs.Open(name, fat.O_WRONLY|fat.O_CREATE)
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	entries, err := fs.ReadDir("/")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "a rather long file name.txt", entries[0].Name)
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	dev := formatFAT16(t, 20000)
	fs := mustMount(t, dev)

	require.NoError(t, fs.Mkdir("/sub"))
	f, err := fs.Open("/sub/file.txt", fat.O_WRONLY|fat.O_CREATE)
	require.NoError(t, err)
	require.NoError(t, fs.Close(f))

	err = fs.Rmdir("/sub")
	require.ErrorIs(t, err, fserr.NotEmpty)

	require.NoError(t, fs.Remove("/sub/file.txt"))
	require.NoError(t, fs.Rmdir("/sub"))
}

func TestRenameRejectsMoveIntoOwnDescendant(t *testing.T) {
	dev := formatFAT16(t, 20000)
	fs := mustMount(t, dev)

	require.NoError(t, fs.Mkdir("/a"))
	require.NoError(t, fs.Mkdir("/a/b"))

	err := fs.Rename("/a", "/a/b/a")
	require.ErrorIs(t, err, fserr.InvalidArgument)
}

func TestOpenMissingWithoutCreateFails(t *testing.T) {
	dev := formatFAT16(t, 20000)
	fs := mustMount(t, dev)

	_, err := fs.Open("/nope.txt", fat.O_RDONLY)
	require.ErrorIs(t, err, fserr.NoEntry)
}

func TestReadOnlyMountRejectsWrite(t *testing.T) {
	dev := formatFAT16(t, 20000)
	fs, err := fat.Mount(dev, fat.MountOptions{})
	require.NoError(t, err)
	require.True(t, fs.ReadOnly())

	_, err = fs.Open("/x.txt", fat.O_WRONLY|fat.O_CREATE)
	require.ErrorIs(t, err, fserr.ReadOnlyFilesystem)
}
