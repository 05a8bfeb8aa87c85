package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kosfs/kosfs/vfs"
)

var flagPush bool

func init() {
	cpCmd.Flags().BoolVar(&flagPush, "push", false, "copy host-path into the image instead of extracting image-path to host (requires --rw)")
}

var cpCmd = &cobra.Command{
	Use:   "cp <image> <src> <dst>",
	Short: "copy a file between the host and a mounted image",
	Long: "By default copies <src> (a path inside the image) to <dst> (a host " +
		"path). With --push the direction reverses: <src> is a host path and " +
		"<dst> is written inside the image.",
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		m, err := openImage(args[0])
		if err != nil {
			return err
		}
		defer closeImage(m, &err)

		if flagPush {
			return pushFile(m, args[1], args[2])
		}
		return pullFile(m, args[1], args[2])
	},
}

// pullFile copies imgPath (inside the mounted image) to hostPath on
// the host filesystem.
func pullFile(m *mountedImage, imgPath, hostPath string) error {
	h, err := m.v.Open(imgPath, vfs.O_RDONLY)
	if err != nil {
		return err
	}
	defer m.v.CloseHandle(h)

	out, err := os.Create(hostPath)
	if err != nil {
		return err
	}
	defer out.Close()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := m.v.Read(h, buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// pushFile copies hostPath from the host filesystem to imgPath inside
// the mounted image, creating it if absent.
func pushFile(m *mountedImage, hostPath, imgPath string) error {
	in, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer in.Close()

	h, err := m.v.Open(imgPath, vfs.O_WRONLY|vfs.O_CREATE|vfs.O_TRUNC)
	if err != nil {
		return err
	}
	defer m.v.CloseHandle(h)

	buf := make([]byte, 32*1024)
	for {
		n, rerr := in.Read(buf)
		if n > 0 {
			if _, werr := m.v.Write(h, buf[:n]); werr != nil {
				return werr
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}
